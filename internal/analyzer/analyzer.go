package analyzer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradeflow/conf"
	"tradeflow/internal/broker"
	"tradeflow/internal/errs"
	"tradeflow/internal/indicator"
	"tradeflow/internal/model"
	"tradeflow/pkg/logger"
)

// 各指标测试的权重，属于算法契约，不做成配置项
const (
	weightRSI       = 0.3
	weightMACD      = 0.25
	weightBollinger = 0.2
	weightEMA       = 0.15
	weightVolume    = 0.1

	// 成交量确认倍数
	volumeConfirmRatio = 1.5
	// 方向判定阈值：总权重必须严格大于该值
	decisionThreshold = 0.4
	// 二次校验的 RSI 极端区间与量比下限
	rsiExtremeHigh = 80.0
	rsiExtremeLow  = 20.0
	minVolumeRatio = 0.8
	// 每个信号最多保留的触发原因数
	maxReasons = 3
)

// Analyzer 信号生成 + 选股。标的缓存加载后只读，进程级生命周期
type Analyzer struct {
	broker broker.Broker
	cfg    conf.AnalysisConfig
	risk   conf.RiskConfig
	kite   conf.KiteConfig

	mu          sync.RWMutex
	instruments []model.Instrument
}

func New(b broker.Broker, cfg conf.AnalysisConfig, risk conf.RiskConfig, kite conf.KiteConfig) *Analyzer {
	return &Analyzer{
		broker: b,
		cfg:    cfg,
		risk:   risk,
		kite:   kite,
	}
}

// LoadInstruments 拉取各交易所标的并缓存，超出上限截断；
// 全部失败时退回兜底股票列表
func (a *Analyzer) LoadInstruments(ctx context.Context) error {
	var all []model.Instrument
	for _, ex := range a.kite.Exchanges {
		list, err := a.broker.GetInstruments(ctx, ex)
		if err != nil {
			logger.Warn("拉取标的失败，跳过该交易所",
				logger.Pair("exchange", ex),
				logger.Pair("err", err.Error()))
			continue
		}
		all = append(all, list...)
		if len(all) >= a.cfg.MaxStocksToAnalyze {
			all = all[:a.cfg.MaxStocksToAnalyze]
			break
		}
	}

	if len(all) == 0 {
		// 兜底：一批流动性最好的蓝筹
		for _, sym := range a.kite.FallbackStocks {
			all = append(all, model.Instrument{Symbol: sym, Exchange: "NSE"})
		}
		logger.Warn("标的列表为空，使用兜底股票", logger.Pair("count", len(all)))
	}

	a.mu.Lock()
	a.instruments = all
	a.mu.Unlock()
	logger.Info("标的缓存加载完成", logger.Pair("count", len(all)))
	return nil
}

// Refresh 重新拉取标的缓存
func (a *Analyzer) Refresh(ctx context.Context) error {
	return a.LoadInstruments(ctx)
}

// Instruments 返回缓存快照
func (a *Analyzer) Instruments() []model.Instrument {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]model.Instrument, len(a.instruments))
	copy(out, a.instruments)
	return out
}

func (a *Analyzer) fetchKlines(ctx context.Context, inst model.Instrument) ([]model.Kline, error) {
	to := time.Now()
	from := to.AddDate(0, 0, -a.cfg.HistoryDays)
	return a.broker.GetHistoricalKlines(ctx, inst.Token, from, to, a.cfg.CandleInterval)
}

// Generate 为单个标的生成信号。数据缺失一律降级为 HOLD，不返回错误
func (a *Analyzer) Generate(ctx context.Context, inst model.Instrument) model.Signal {
	quotes, err := a.broker.GetLTP(ctx, inst.QuoteKey())
	if err != nil {
		return model.NewHold(inst.Symbol, "No real-time price available")
	}
	price, ok := quotes[inst.QuoteKey()]
	if !ok || price <= 0 {
		return model.NewHold(inst.Symbol, "No real-time price available")
	}

	klines, err := a.fetchKlines(ctx, inst)
	if err != nil || len(klines) == 0 {
		return model.NewHold(inst.Symbol, "No historical data available")
	}

	set, err := indicator.Compute(klines, a.cfg)
	if err != nil {
		// K线不足属于数据缺失，和真正的计算失败区分开
		if errs.KindOf(err) == errs.KindDataUnavailable {
			return model.NewHold(inst.Symbol, "No historical data available")
		}
		return model.NewHold(inst.Symbol, "Technical indicators calculation failed")
	}

	sig := Score(inst.Symbol, price, set.Last(), a.cfg, a.risk)
	sig.Exchange = inst.Exchange
	return sig
}

// Score 按快照给标的打分。纯函数。
// 每个触发的指标测试向买/卖方向计一票并累加权重，
// 多数方向胜出且总权重超过阈值才给出方向，否则 HOLD 并压低强度
func Score(symbol string, price float64, snap indicator.Snapshot, cfg conf.AnalysisConfig, risk conf.RiskConfig) model.Signal {
	var buys, sells int
	var strength float64
	var reasons []string

	// RSI 超买超卖
	if snap.RSI < cfg.RSIOversold {
		buys++
		strength += weightRSI
		reasons = append(reasons, fmt.Sprintf("Oversold RSI (%.1f)", snap.RSI))
	} else if snap.RSI > cfg.RSIOverbought {
		sells++
		strength += weightRSI
		reasons = append(reasons, fmt.Sprintf("Overbought RSI (%.1f)", snap.RSI))
	}

	// MACD 金叉死叉，要求在零轴的对应侧
	if snap.MACD > snap.MACDSignal && snap.MACD > 0 {
		buys++
		strength += weightMACD
		reasons = append(reasons, "Bullish MACD crossover")
	} else if snap.MACD < snap.MACDSignal && snap.MACD < 0 {
		sells++
		strength += weightMACD
		reasons = append(reasons, "Bearish MACD crossover")
	}

	// 触碰布林带
	if price <= snap.BBLower {
		buys++
		strength += weightBollinger
		reasons = append(reasons, "Price at lower Bollinger Band")
	} else if price >= snap.BBUpper {
		sells++
		strength += weightBollinger
		reasons = append(reasons, "Price at upper Bollinger Band")
	}

	// EMA 趋势排列
	if snap.EMAFast > snap.EMASlow && price > snap.EMAFast {
		buys++
		strength += weightEMA
		reasons = append(reasons, "Bullish EMA trend")
	} else if snap.EMAFast < snap.EMASlow && price < snap.EMAFast {
		sells++
		strength += weightEMA
		reasons = append(reasons, "Bearish EMA trend")
	}

	// 放量确认，只加强度不改变方向
	if snap.Volume > snap.VolumeSMA*volumeConfirmRatio {
		strength += weightVolume
		reasons = append(reasons, "High volume confirmation")
	}

	dir := model.DirHold
	if buys > sells && strength > decisionThreshold {
		dir = model.DirBuy
	} else if sells > buys && strength > decisionThreshold {
		dir = model.DirSell
	}

	if len(reasons) > maxReasons {
		reasons = reasons[:maxReasons]
	}

	sig := model.Signal{
		Symbol:      symbol,
		Direction:   dir,
		Strength:    strength,
		Price:       price,
		Reasons:     reasons,
		RSI:         snap.RSI,
		MACD:        snap.MACD,
		VolumeRatio: snap.VolumeRatio,
	}
	switch dir {
	case model.DirBuy:
		sig.StopLoss = price * (1 - risk.StopLossPercent)
		sig.TakeProfit = price * (1 + risk.TakeProfitPercent)
	case model.DirSell:
		sig.StopLoss = price * (1 + risk.StopLossPercent)
		sig.TakeProfit = price * (1 - risk.TakeProfitPercent)
	}
	sig.Clamp()
	return sig
}

// Validate 执行前的二次校验，独立于打分逻辑，更严格
func Validate(sig model.Signal) (bool, string) {
	if sig.Strength < decisionThreshold {
		return false, "signal strength below threshold"
	}
	if sig.RSI > rsiExtremeHigh || sig.RSI < rsiExtremeLow {
		return false, fmt.Sprintf("extreme RSI level (%.1f)", sig.RSI)
	}
	if sig.VolumeRatio < minVolumeRatio {
		return false, "insufficient volume confirmation"
	}
	return true, ""
}
