package model

// 信号方向
type Direction string

const (
	DirBuy  Direction = "BUY"
	DirSell Direction = "SELL"
	DirHold Direction = "HOLD"
)

// HOLD 信号的强度上限，避免被误提升为可执行信号
const HoldMaxStrength = 0.3

// Signal 对某标的的一次评分结果。Strength 恒在 [0,1]，
// Reasons 为触发的指标条件，用于审计和日志
type Signal struct {
	Symbol    string    `json:"symbol"`
	Exchange  string    `json:"exchange"`
	Direction Direction `json:"direction"`
	Strength  float64   `json:"strength"`
	Price     float64   `json:"price"`
	Reasons   []string  `json:"reasons"`

	// 诊断字段，供二次校验使用
	RSI         float64 `json:"rsi"`
	MACD        float64 `json:"macd"`
	VolumeRatio float64 `json:"volume_ratio"`

	// 按配置百分比推导的止损/止盈价
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// NewHold 构造一个带原因的 HOLD 信号（数据缺失、计算失败等场景）
func NewHold(symbol, reason string) Signal {
	return Signal{
		Symbol:      symbol,
		Direction:   DirHold,
		Strength:    0,
		Reasons:     []string{reason},
		VolumeRatio: 1.0,
	}
}

// Clamp 把强度压回 [0,1]，HOLD 额外压到 HoldMaxStrength
func (s *Signal) Clamp() {
	if s.Strength < 0 {
		s.Strength = 0
	}
	if s.Strength > 1 {
		s.Strength = 1
	}
	if s.Direction == DirHold && s.Strength > HoldMaxStrength {
		s.Strength = HoldMaxStrength
	}
}
