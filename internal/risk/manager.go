package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/multierr"

	"tradeflow/conf"
	"tradeflow/internal/broker"
	"tradeflow/internal/errs"
	"tradeflow/internal/model"
	"tradeflow/pkg/logger"
)

// Manager 仓位计算、准入闸门和平仓策略，所有读写都经过账本锁。
// 账本每次变更立即落盘
type Manager struct {
	mu     sync.Mutex
	broker broker.Broker
	cfg    conf.RiskConfig

	statePath   string
	squareOffAt time.Duration // 距当日零点的偏移

	ledger *Ledger

	// 便于测试注入时钟
	now func() time.Time
}

func NewManager(b broker.Broker, cfg conf.RiskConfig, engine conf.EngineConfig) (*Manager, error) {
	t, err := time.Parse("15:04", engine.SquareOffAt)
	if err != nil {
		return nil, fmt.Errorf("非法平仓时间 %q: %w", engine.SquareOffAt, err)
	}
	m := &Manager{
		broker:      b,
		cfg:         cfg,
		statePath:   engine.StateFile,
		squareOffAt: time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute,
		now:         time.Now,
	}
	m.ledger = LoadLedger(m.statePath, m.now())
	logger.Info("风控账本就绪",
		logger.Pair("date", m.ledger.Date),
		logger.Pair("pnl", m.ledger.DailyPnL),
		logger.Pair("trades", m.ledger.DailyTrades),
		logger.Pair("budget_used", m.ledger.BudgetUsed))
	return m, nil
}

// persistLocked 调用方必须持锁
func (m *Manager) persistLocked() {
	if err := saveLedger(m.statePath, m.ledger); err != nil {
		logger.Error("账本落盘失败", logger.Pair("err", err.Error()))
	}
}

// PositionSize 按风险预算计算下单数量和所需资金。
// 单股风险 = |入场价 - 止损价|；风险上限取剩余预算与保证金的较小值乘以单笔风险系数；
// 数量再被保证金和剩余预算双重钳制，不足1股则放弃
func (m *Manager) PositionSize(sig model.Signal, availableMargin float64) (int, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	price := sig.Price
	riskPerShare := math.Abs(price - sig.StopLoss)
	if riskPerShare <= 0 || price <= 0 {
		logger.Warn("无法计算单股风险", logger.Pair("symbol", sig.Symbol))
		return 0, 0
	}

	remaining := m.cfg.MaxDailyBudget - m.ledger.BudgetUsed
	maxRisk := math.Min(remaining*m.cfg.RiskPerTrade, availableMargin*m.cfg.RiskPerTrade)

	qty := int(maxRisk / riskPerShare)
	amount := float64(qty) * price

	if amount > availableMargin {
		qty = int(availableMargin / price)
		amount = float64(qty) * price
	}
	if amount > remaining {
		qty = int(remaining / price)
		amount = float64(qty) * price
	}
	if qty < 1 {
		return 0, 0
	}

	logger.Info("仓位计算",
		logger.Pair("symbol", sig.Symbol),
		logger.Pair("qty", qty),
		logger.Pair("price", price),
		logger.Pair("risk_per_share", riskPerShare),
		logger.Pair("amount", amount))
	return qty, amount
}

// CanTrade 交易准入，按固定顺序短路检查。
// 任何拒绝都带明确原因，绝不静默
func (m *Manager) CanTrade(ctx context.Context, sig model.Signal) (bool, string) {
	m.mu.Lock()

	// 亏损熔断旗标一旦置位，当日不再放行
	if m.ledger.LossLimitReached {
		m.mu.Unlock()
		return false, "maximum daily loss limit reached"
	}

	if m.ledger.DailyPnL <= -m.cfg.MaxDailyLoss {
		m.ledger.LossLimitReached = true
		m.persistLocked()
		pnl := m.ledger.DailyPnL
		m.mu.Unlock()
		logger.Warn("触发当日亏损上限", logger.Pair("pnl", pnl))
		return false, fmt.Sprintf("daily loss limit exceeded: %.2f", pnl)
	}
	remaining := m.cfg.MaxDailyBudget - m.ledger.BudgetUsed
	m.mu.Unlock()

	positions, err := m.OpenPositions(ctx)
	if err == nil && len(positions) >= m.cfg.MaxPositions {
		return false, fmt.Sprintf("maximum positions limit reached: %d/%d", len(positions), m.cfg.MaxPositions)
	}

	if !m.broker.IsMarketOpen(m.now()) {
		return false, "market is closed"
	}

	margin, err := m.broker.GetAvailableMargin(ctx)
	if err != nil || margin < m.cfg.MinMargin {
		return false, fmt.Sprintf("insufficient margin: %.2f", margin)
	}

	if remaining < m.cfg.MinBudget {
		return false, fmt.Sprintf("daily budget exhausted: %.2f remaining", remaining)
	}

	if sig.Strength < m.cfg.MinStrength {
		return false, fmt.Sprintf("signal strength too low: %.2f", sig.Strength)
	}

	return true, "all risk checks passed"
}

// ShouldSquareOff 平仓判定。时间线最先检查且无条件生效；
// 其后按价格口径计算盈亏百分比，空头方向取镜像
func (m *Manager) ShouldSquareOff(pos model.Position, now time.Time) (bool, string) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if now.Sub(midnight) >= m.squareOffAt {
		return true, "time-based square off (market closing soon)"
	}

	if pos.Quantity == 0 || pos.AvgPrice <= 0 {
		return false, "position within acceptable range"
	}

	var pnlPercent float64
	if pos.Quantity > 0 {
		pnlPercent = (pos.LastPrice - pos.AvgPrice) / pos.AvgPrice * 100
	} else {
		// 空头：价格上行是亏损
		pnlPercent = (pos.AvgPrice - pos.LastPrice) / pos.AvgPrice * 100
	}

	if pnlPercent <= -m.cfg.StopLossPercent*100 {
		return true, fmt.Sprintf("stop loss triggered: %.2f%%", pnlPercent)
	}
	if pnlPercent >= m.cfg.TakeProfitPercent*100 {
		return true, fmt.Sprintf("take profit triggered: %.2f%%", pnlPercent)
	}
	return false, "position within acceptable range"
}

// ValidateOrderParams 下单前的参数校验
func (m *Manager) ValidateOrderParams(o *model.Order) (bool, string) {
	if o == nil || o.Symbol == "" {
		return false, "missing order symbol"
	}
	if o.Quantity <= 0 {
		return false, "invalid quantity"
	}
	if o.Price <= 0 {
		return false, "invalid price"
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	notional := o.Notional()
	if notional > m.cfg.MaxDailyBudget {
		return false, fmt.Sprintf("order value exceeds daily budget: %.2f", notional)
	}
	if remaining := m.cfg.MaxDailyBudget - m.ledger.BudgetUsed; notional > remaining {
		return false, fmt.Sprintf("insufficient remaining budget: %.2f", remaining)
	}
	return true, "order parameters valid"
}

// RecordTrade 成交后记账：笔数加一、预算占用累加，立即落盘
func (m *Manager) RecordTrade(o *model.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger.DailyTrades++
	m.ledger.BudgetUsed += o.Notional()
	m.persistLocked()
	logger.Info("成交记账",
		logger.Pair("trade_no", m.ledger.DailyTrades),
		logger.Pair("amount", o.Notional()))
}

// RecordClose 平仓后把已实现盈亏记入账本，立即落盘
func (m *Manager) RecordClose(symbol string, pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger.DailyPnL += pnl
	if m.ledger.DailyPnL <= -m.cfg.MaxDailyLoss && !m.ledger.LossLimitReached {
		m.ledger.LossLimitReached = true
		logger.Warn("当日亏损达到上限", logger.Pair("pnl", m.ledger.DailyPnL))
	}
	m.persistLocked()
	logger.Info("平仓记账",
		logger.Pair("symbol", symbol),
		logger.Pair("pnl", pnl),
		logger.Pair("daily_pnl", m.ledger.DailyPnL))
}

// Summary 风控状态快照
type Summary struct {
	Date                  string  `json:"date"`
	DailyPnL              float64 `json:"daily_pnl"`
	DailyTrades           int     `json:"daily_trades"`
	BudgetUsed            float64 `json:"budget_used"`
	RemainingBudget       float64 `json:"remaining_budget"`
	RemainingLossCapacity float64 `json:"remaining_loss_capacity"`
	LossLimitReached      bool    `json:"loss_limit_reached"`
	OpenPositions         int     `json:"open_positions"`
	TotalExposure         float64 `json:"total_exposure"`
	UnrealizedPnL         float64 `json:"unrealized_pnl"`
}

func (m *Manager) Summary(ctx context.Context) Summary {
	m.mu.Lock()
	s := Summary{
		Date:                  m.ledger.Date,
		DailyPnL:              m.ledger.DailyPnL,
		DailyTrades:           m.ledger.DailyTrades,
		BudgetUsed:            m.ledger.BudgetUsed,
		RemainingBudget:       m.cfg.MaxDailyBudget - m.ledger.BudgetUsed,
		RemainingLossCapacity: m.cfg.MaxDailyLoss + m.ledger.DailyPnL,
		LossLimitReached:      m.ledger.LossLimitReached,
	}
	m.mu.Unlock()

	positions, err := m.OpenPositions(ctx)
	if err != nil {
		return s
	}
	s.OpenPositions = len(positions)
	for _, p := range positions {
		s.TotalExposure += math.Abs(float64(p.Quantity) * p.LastPrice)
		s.UnrealizedPnL += p.PnL
	}
	return s
}

// OpenPositions 当日未平仓位（数量不为零）
func (m *Manager) OpenPositions(ctx context.Context) ([]model.Position, error) {
	day, _, err := m.broker.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	var open []model.Position
	for _, p := range day {
		if p.Quantity != 0 {
			open = append(open, p)
		}
	}
	return open, nil
}

// EmergencySquareOffAll 对所有未平仓位反向市价平仓。
// 单个仓位失败不影响其余仓位，错误聚合后一并返回
func (m *Manager) EmergencySquareOffAll(ctx context.Context) error {
	positions, err := m.OpenPositions(ctx)
	if err != nil {
		return errs.Wrap(errs.KindBroker, err, "平仓前拉取持仓失败")
	}
	if len(positions) == 0 {
		logger.Info("无持仓需要平仓")
		return nil
	}

	logger.Warn("紧急全量平仓", logger.Pair("positions", len(positions)))

	var errsAll error
	success := 0
	for _, pos := range positions {
		side := model.Sell
		if pos.Quantity < 0 {
			side = model.Buy
		}
		qty := pos.Quantity
		if qty < 0 {
			qty = -qty
		}

		_, err := m.broker.PlaceOrder(ctx, broker.PlaceOrderReq{
			Symbol:    pos.Symbol,
			Exchange:  pos.Exchange,
			Side:      side,
			Quantity:  qty,
			OrderType: model.Market,
		})
		if err != nil {
			logger.Error("平仓失败",
				logger.Pair("symbol", pos.Symbol),
				logger.Pair("err", err.Error()))
			errsAll = multierr.Append(errsAll, fmt.Errorf("square off %s: %w", pos.Symbol, err))
			continue
		}
		success++
		m.RecordClose(pos.Symbol, pos.PnL)
		logger.Info("已平仓",
			logger.Pair("symbol", pos.Symbol),
			logger.Pair("qty", qty))
	}

	logger.Info("紧急平仓完成",
		logger.Pair("success", success),
		logger.Pair("total", len(positions)))
	return errsAll
}
