package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tradeflow/conf"
	"tradeflow/internal/analyzer"
	"tradeflow/internal/broker"
	"tradeflow/internal/dao"
	"tradeflow/internal/errs"
	"tradeflow/internal/model"
	"tradeflow/internal/risk"
	"tradeflow/pkg/kafka"
	"tradeflow/pkg/logger"
)

// Engine 调度中枢：分析周期、持仓监控、风控巡检、
// 每日强平定时器，以及每笔订单独立的监控协程。
// trades 和 producer 允许为 nil（未配置数据库/Kafka 时）
type Engine struct {
	broker   broker.Broker
	analyzer *analyzer.Analyzer
	risk     *risk.Manager
	trades   *dao.TradeDao
	producer kafka.ProducerService
	cfg      conf.EngineConfig

	mu           sync.Mutex
	activeOrders map[string]*model.Order

	// 置位后不再开新仓，周期照常空转，便于状态接口观察
	stopped       atomic.Bool
	cycleFailures atomic.Int32

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	now func() time.Time
}

func New(b broker.Broker, an *analyzer.Analyzer, rm *risk.Manager, trades *dao.TradeDao, producer kafka.ProducerService, cfg conf.EngineConfig) *Engine {
	return &Engine{
		broker:       b,
		analyzer:     an,
		risk:         rm,
		trades:       trades,
		producer:     producer,
		cfg:          cfg,
		activeOrders: make(map[string]*model.Order),
		stopCh:       make(chan struct{}),
		now:          time.Now,
	}
}

// Start 启动全部后台循环，立即返回
func (e *Engine) Start() {
	logger.Info("交易引擎启动",
		logger.Pair("analysis_interval", e.cfg.AnalysisInterval.String()),
		logger.Pair("monitor_interval", e.cfg.MonitorInterval.String()),
		logger.Pair("square_off_at", e.cfg.SquareOffAt))

	e.wg.Add(1)
	go e.analysisLoop()

	e.wg.Add(1)
	go e.positionLoop()

	e.wg.Add(1)
	go e.riskLoop()

	e.wg.Add(1)
	go e.squareOffTimer()
}

// Stop 停止引擎：置停牌旗标、等待循环退出，
// 若仍有持仓则兜底全量平仓
func (e *Engine) Stop() {
	e.stopped.Store(true)
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()

	ctx := context.Background()
	positions, err := e.risk.OpenPositions(ctx)
	if err == nil && len(positions) > 0 {
		logger.Warn("停机时仍有持仓，执行兜底平仓", logger.Pair("count", len(positions)))
		if err := e.risk.EmergencySquareOffAll(ctx); err != nil {
			logger.Error("兜底平仓失败", logger.Pair("err", err.Error()))
		}
		e.publish(ctx, kafka.TradeEvent{
			Type:   kafka.EventEmergencySquareOff,
			Reason: "engine shutdown",
		})
	}
	logger.Info("交易引擎已停止")
}

// halt 风险熔断：只置旗标不关通道，循环留在原地空转
func (e *Engine) halt(reason string) {
	if e.stopped.CompareAndSwap(false, true) {
		logger.Error("引擎熔断停牌", logger.Pair("reason", reason))
	}
}

// Status 运行状态快照，给状态接口用
type Status struct {
	Running       bool `json:"running"`
	MarketOpen    bool `json:"market_open"`
	ActiveOrders  int  `json:"active_orders"`
	CycleFailures int  `json:"cycle_failures"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	active := len(e.activeOrders)
	e.mu.Unlock()
	return Status{
		Running:       !e.stopped.Load(),
		MarketOpen:    e.broker.IsMarketOpen(e.now()),
		ActiveOrders:  active,
		CycleFailures: int(e.cycleFailures.Load()),
	}
}

func (e *Engine) analysisLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.AnalysisInterval.D())
	defer ticker.Stop()

	// 启动后立刻跑一轮，不等第一个间隔
	e.analysisCycle()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.analysisCycle()
		}
	}
}

// analysisCycle 一轮完整的选股-评分-下单。
// 周期内任何一个信号失败只跳过该信号；panic 被捕获并计入连续失败
func (e *Engine) analysisCycle() {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("分析周期panic", logger.Pair("panic", r))
			e.noteCycleFailure()
		}
	}()

	if e.stopped.Load() {
		return
	}
	ctx := context.Background()

	if !e.broker.IsMarketOpen(e.now()) {
		logger.Debug("休市中，跳过分析周期")
		return
	}

	// 大盘强烈看空时这一轮不开新仓
	sentiment := e.analyzer.MarketSentiment(ctx)
	logger.Info("市场情绪",
		logger.Pair("label", sentiment.Label),
		logger.Pair("strength", sentiment.Strength))
	if sentiment.Label == analyzer.SentimentBearish && sentiment.Strength < 0.3 {
		logger.Warn("强烈看空，本轮不开新仓")
		e.cycleFailures.Store(0)
		return
	}

	signals := e.analyzer.Screen(ctx)
	if len(signals) == 0 {
		logger.Info("本轮无可交易信号")
		e.cycleFailures.Store(0)
		return
	}

	executed := e.executeTopSignals(ctx, signals)
	logger.Info("分析周期完成",
		logger.Pair("signals", len(signals)),
		logger.Pair("executed", executed))
	e.cycleFailures.Store(0)
}

// executeTopSignals 只尝试强度排名前 MaxTradesPerCycle 的信号。
// 名额按尝试计数：被风控或校验拒绝的信号消耗名额，不顺延给后面的候选
func (e *Engine) executeTopSignals(ctx context.Context, signals []model.Signal) int {
	if len(signals) > e.cfg.MaxTradesPerCycle {
		signals = signals[:e.cfg.MaxTradesPerCycle]
	}
	executed := 0
	for _, sig := range signals {
		// 每个信号前重查停牌旗标
		if e.stopped.Load() {
			break
		}
		if e.tryTrade(ctx, sig) {
			executed++
		}
	}
	return executed
}

func (e *Engine) noteCycleFailure() {
	n := e.cycleFailures.Add(1)
	if int(n) >= e.cfg.MaxCycleFailures {
		e.halt("连续分析周期失败达到上限")
	}
}

// tryTrade 对单个信号走完整的准入-校验-计算-下单链路。
// 任一环节不通过都只是放弃该信号
func (e *Engine) tryTrade(ctx context.Context, sig model.Signal) bool {
	if ok, reason := e.risk.CanTrade(ctx, sig); !ok {
		logger.Info("风控拒绝",
			logger.Pair("symbol", sig.Symbol),
			logger.Pair("reason", reason))
		return false
	}

	if ok, reason := analyzer.Validate(sig); !ok {
		logger.Info("信号校验不通过",
			logger.Pair("symbol", sig.Symbol),
			logger.Pair("reason", reason))
		return false
	}

	margin, err := e.broker.GetAvailableMargin(ctx)
	if err != nil {
		if errs.IsAuth(err) {
			e.halt("券商认证失效")
		}
		logger.Warn("查询保证金失败", logger.Pair("err", err.Error()))
		return false
	}

	qty, _ := e.risk.PositionSize(sig, margin)
	if qty < 1 {
		logger.Info("仓位计算为零，放弃", logger.Pair("symbol", sig.Symbol))
		return false
	}

	exchange := sig.Exchange
	if exchange == "" {
		exchange = "NSE"
	}
	side := model.Buy
	if sig.Direction == model.DirSell {
		side = model.Sell
	}
	order := &model.Order{
		Symbol:    sig.Symbol,
		Exchange:  exchange,
		Side:      side,
		Quantity:  qty,
		Price:     sig.Price,
		Status:    model.OrderPlaced,
		CreatedAt: e.now(),
	}

	if ok, reason := e.risk.ValidateOrderParams(order); !ok {
		logger.Warn("订单参数校验失败",
			logger.Pair("symbol", sig.Symbol),
			logger.Pair("reason", reason))
		return false
	}

	orderID, err := e.broker.PlaceOrder(ctx, broker.PlaceOrderReq{
		Symbol:    order.Symbol,
		Exchange:  order.Exchange,
		Side:      order.Side,
		Quantity:  order.Quantity,
		OrderType: model.Limit,
		Price:     order.Price,
	})
	if err != nil {
		if errs.IsAuth(err) {
			e.halt("券商认证失效")
		}
		logger.Error("下单失败",
			logger.Pair("symbol", sig.Symbol),
			logger.Pair("err", err.Error()))
		return false
	}
	order.ID = orderID

	e.mu.Lock()
	e.activeOrders[orderID] = order
	e.mu.Unlock()

	e.risk.RecordTrade(order)
	e.journal(ctx, &model.TradeRecord{
		OrderId:  orderID,
		Symbol:   order.Symbol,
		Side:     order.Side,
		Quantity: order.Quantity,
		Price:    order.Price,
		Notional: order.Notional(),
		Reason:   firstReason(sig),
	})
	e.publish(ctx, kafka.TradeEvent{
		Type:     kafka.EventOrderPlaced,
		Symbol:   order.Symbol,
		OrderID:  orderID,
		Side:     string(order.Side),
		Quantity: order.Quantity,
		Price:    order.Price,
		Reason:   firstReason(sig),
	})

	e.wg.Add(1)
	go e.monitorOrder(order)
	return true
}

func firstReason(sig model.Signal) string {
	if len(sig.Reasons) == 0 {
		return ""
	}
	return sig.Reasons[0]
}

// positionLoop 周期性重拉持仓并应用平仓策略
func (e *Engine) positionLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.MonitorInterval.D())
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.positionCycle()
		}
	}
}

func (e *Engine) positionCycle() {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("持仓监控panic", logger.Pair("panic", r))
		}
	}()

	ctx := context.Background()
	positions, err := e.risk.OpenPositions(ctx)
	if err != nil {
		if errs.IsAuth(err) {
			e.halt("券商认证失效")
		}
		logger.Warn("拉取持仓失败", logger.Pair("err", err.Error()))
		return
	}

	now := e.now()
	for _, pos := range positions {
		if should, reason := e.risk.ShouldSquareOff(pos, now); should {
			e.closePosition(ctx, pos, reason)
		}
	}
}

// closePosition 反向市价平掉一个仓位并记账
func (e *Engine) closePosition(ctx context.Context, pos model.Position, reason string) {
	side := model.Sell
	qty := pos.Quantity
	if qty < 0 {
		side = model.Buy
		qty = -qty
	}

	orderID, err := e.broker.PlaceOrder(ctx, broker.PlaceOrderReq{
		Symbol:    pos.Symbol,
		Exchange:  pos.Exchange,
		Side:      side,
		Quantity:  qty,
		OrderType: model.Market,
	})
	if err != nil {
		logger.Error("平仓下单失败",
			logger.Pair("symbol", pos.Symbol),
			logger.Pair("err", err.Error()))
		return
	}

	logger.Info("平仓",
		logger.Pair("symbol", pos.Symbol),
		logger.Pair("qty", qty),
		logger.Pair("reason", reason))
	e.risk.RecordClose(pos.Symbol, pos.PnL)
	e.journal(ctx, &model.TradeRecord{
		OrderId:  orderID,
		Symbol:   pos.Symbol,
		Side:     side,
		Quantity: qty,
		Price:    pos.LastPrice,
		Notional: float64(qty) * pos.LastPrice,
		Pnl:      pos.PnL,
		Reason:   reason,
	})
	e.publish(ctx, kafka.TradeEvent{
		Type:     kafka.EventSquareOff,
		Symbol:   pos.Symbol,
		OrderID:  orderID,
		Side:     string(side),
		Quantity: qty,
		Price:    pos.LastPrice,
		Pnl:      pos.PnL,
		Reason:   reason,
	})
}

// riskLoop 周期性巡检账本，亏损熔断时停牌并全量平仓
func (e *Engine) riskLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.RiskCheckInterval.D())
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.riskCycle()
		}
	}
}

func (e *Engine) riskCycle() {
	ctx := context.Background()
	summary := e.risk.Summary(ctx)
	logger.Info("风控巡检",
		logger.Pair("daily_pnl", summary.DailyPnL),
		logger.Pair("budget_used", summary.BudgetUsed),
		logger.Pair("open_positions", summary.OpenPositions))

	if summary.LossLimitReached && e.stopped.CompareAndSwap(false, true) {
		logger.Error("亏损熔断，停牌并全量平仓", logger.Pair("daily_pnl", summary.DailyPnL))
		if err := e.risk.EmergencySquareOffAll(ctx); err != nil {
			logger.Error("熔断平仓失败", logger.Pair("err", err.Error()))
		}
		e.publish(ctx, kafka.TradeEvent{
			Type:   kafka.EventEmergencySquareOff,
			Reason: "daily loss limit reached",
		})
	}
}

// squareOffTimer 每日收盘前的硬性强平，独立于其它循环，
// 即使各监控周期都恰好没有落在截止时刻也必须触发
func (e *Engine) squareOffTimer() {
	defer e.wg.Done()

	for {
		timer := time.NewTimer(e.untilSquareOff())
		select {
		case <-e.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			e.forceSquareOff()
		}
	}
}

// untilSquareOff 距下一次强平时刻的时长（已过点则排到明天）
func (e *Engine) untilSquareOff() time.Duration {
	now := e.now()
	t, err := time.Parse("15:04", e.cfg.SquareOffAt)
	if err != nil {
		// 配置在启动时已校验过，这里兜底给个安全值
		return 24 * time.Hour
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

func (e *Engine) forceSquareOff() {
	ctx := context.Background()
	logger.Warn("到达每日强平时刻")
	if err := e.risk.EmergencySquareOffAll(ctx); err != nil {
		logger.Error("每日强平失败", logger.Pair("err", err.Error()))
	}
	e.publish(ctx, kafka.TradeEvent{
		Type:   kafka.EventEmergencySquareOff,
		Reason: "time-based square off",
	})
}

// journal 写成交流水，未配置数据库时为空操作
func (e *Engine) journal(ctx context.Context, rec *model.TradeRecord) {
	if e.trades == nil {
		return
	}
	if err := e.trades.Insert(ctx, rec); err != nil {
		logger.Error("流水入库失败",
			logger.Pair("symbol", rec.Symbol),
			logger.Pair("err", err.Error()))
	}
}

// publish 发交易事件，未配置 Kafka 时为空操作
func (e *Engine) publish(ctx context.Context, ev kafka.TradeEvent) {
	if e.producer == nil {
		return
	}
	if err := e.producer.Publish(ctx, ev); err != nil {
		logger.Error("事件发送失败",
			logger.Pair("type", ev.Type),
			logger.Pair("err", err.Error()))
	}
}
