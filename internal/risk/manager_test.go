package risk

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tradeflow/conf"
	"tradeflow/internal/broker"
	"tradeflow/internal/model"
)

type fakeBroker struct {
	positions  []model.Position
	posErr     error
	margin     float64
	marketOpen bool

	placed   []broker.PlaceOrderReq
	placeErr map[string]error
}

func (f *fakeBroker) GetInstruments(ctx context.Context, exchange string) ([]model.Instrument, error) {
	return nil, nil
}

func (f *fakeBroker) GetHistoricalKlines(ctx context.Context, token int, from, to time.Time, interval string) ([]model.Kline, error) {
	return nil, nil
}

func (f *fakeBroker) GetLTP(ctx context.Context, keys ...string) (map[string]float64, error) {
	return nil, nil
}

func (f *fakeBroker) GetPositions(ctx context.Context) (day, net []model.Position, err error) {
	return f.positions, f.positions, f.posErr
}

func (f *fakeBroker) GetOrders(ctx context.Context) ([]model.OrderUpdate, error) {
	return nil, nil
}

func (f *fakeBroker) GetAvailableMargin(ctx context.Context) (float64, error) {
	return f.margin, nil
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, req broker.PlaceOrderReq) (string, error) {
	if err := f.placeErr[req.Symbol]; err != nil {
		return "", err
	}
	f.placed = append(f.placed, req)
	return "ORD-" + req.Symbol, nil
}

func (f *fakeBroker) CancelOrder(ctx context.Context, orderID string) error { return nil }

func (f *fakeBroker) IsMarketOpen(now time.Time) bool { return f.marketOpen }

func newTestManager(t *testing.T, fb *fakeBroker) *Manager {
	t.Helper()
	var c conf.Config
	c.ApplyDefaults()
	c.Engine.StateFile = filepath.Join(t.TempDir(), "state.json")

	m, err := NewManager(fb, c.Risk, c.Engine)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	// 固定在盘中时间，避免撞上平仓线
	m.now = func() time.Time {
		return time.Date(2024, 1, 2, 11, 0, 0, 0, time.Local)
	}
	return m
}

func buySignal(price, stop float64, strength float64) model.Signal {
	return model.Signal{
		Symbol:    "TEST",
		Direction: model.DirBuy,
		Strength:  strength,
		Price:     price,
		StopLoss:  stop,
	}
}

// 预算10000、单笔风险2%、入场100止损90 → 风险上限200 → 20股、占用2000
func TestPositionSizeBasic(t *testing.T) {
	m := newTestManager(t, &fakeBroker{margin: 10000})

	qty, amount := m.PositionSize(buySignal(100, 90, 0.8), 10000)
	if qty != 20 || amount != 2000 {
		t.Fatalf("size = (%d, %v), want (20, 2000)", qty, amount)
	}
}

func TestPositionSizeClamps(t *testing.T) {
	m := newTestManager(t, &fakeBroker{})

	// 单股风险极小时数量会爆表，要被保证金钳住
	qty, amount := m.PositionSize(buySignal(100, 99.9, 0.8), 10000)
	if qty != 100 || amount != 10000 {
		t.Fatalf("margin clamp: got (%d, %v), want (100, 10000)", qty, amount)
	}
	if amount > 10000 {
		t.Fatal("cost may never exceed margin")
	}

	// 保证金不足1股
	qty, amount = m.PositionSize(buySignal(100, 90, 0.8), 50)
	if qty != 0 || amount != 0 {
		t.Fatalf("tiny margin: got (%d, %v), want (0, 0)", qty, amount)
	}

	// 止损价等于入场价，无法定义风险
	qty, amount = m.PositionSize(buySignal(100, 100, 0.8), 10000)
	if qty != 0 || amount != 0 {
		t.Fatalf("zero risk: got (%d, %v), want (0, 0)", qty, amount)
	}
}

// 预算被占用后剩余预算参与钳制
func TestPositionSizeRespectsBudgetUsed(t *testing.T) {
	m := newTestManager(t, &fakeBroker{})
	m.RecordTrade(&model.Order{Symbol: "X", Quantity: 95, Price: 100}) // 占用9500

	// 剩余500：风险上限 min(500,10000)*0.02=10 → 1股
	qty, amount := m.PositionSize(buySignal(100, 90, 0.8), 10000)
	if qty != 1 || amount != 100 {
		t.Fatalf("got (%d, %v), want (1, 100)", qty, amount)
	}
}

func TestCanTradeShortCircuitOrder(t *testing.T) {
	ctx := context.Background()
	sig := buySignal(100, 98, 0.8)

	// (a) 旗标已置位
	fb := &fakeBroker{marketOpen: true, margin: 50000}
	m := newTestManager(t, fb)
	m.ledger.LossLimitReached = true
	if ok, reason := m.CanTrade(ctx, sig); ok || !strings.Contains(reason, "loss limit") {
		t.Fatalf("(a): %v %q", ok, reason)
	}

	// (b) 当日亏损越线：置位并拒绝，之后盈利回补也保持拒绝（锁存）
	m = newTestManager(t, fb)
	m.RecordClose("X", -500)
	if ok, _ := m.CanTrade(ctx, sig); ok {
		t.Fatal("(b): expect reject on breached loss limit")
	}
	if !m.Summary(ctx).LossLimitReached {
		t.Fatal("(b): flag must latch")
	}
	m.RecordClose("X", 800) // 回到正数
	if ok, reason := m.CanTrade(ctx, sig); ok {
		t.Fatalf("(b): latch must survive pnl recovery, got pass (%s)", reason)
	}

	// (c) 持仓数已满
	full := make([]model.Position, 5)
	for i := range full {
		full[i] = model.Position{Symbol: "P", Quantity: 1, AvgPrice: 100, LastPrice: 100}
	}
	m = newTestManager(t, &fakeBroker{marketOpen: true, margin: 50000, positions: full})
	if ok, reason := m.CanTrade(ctx, sig); ok || !strings.Contains(reason, "positions limit") {
		t.Fatalf("(c): %v %q", ok, reason)
	}

	// (d) 休市
	m = newTestManager(t, &fakeBroker{marketOpen: false, margin: 50000})
	if ok, reason := m.CanTrade(ctx, sig); ok || !strings.Contains(reason, "closed") {
		t.Fatalf("(d): %v %q", ok, reason)
	}

	// (e) 保证金不足
	m = newTestManager(t, &fakeBroker{marketOpen: true, margin: 500})
	if ok, reason := m.CanTrade(ctx, sig); ok || !strings.Contains(reason, "margin") {
		t.Fatalf("(e): %v %q", ok, reason)
	}

	// (f) 预算耗尽
	m = newTestManager(t, &fakeBroker{marketOpen: true, margin: 50000})
	m.RecordTrade(&model.Order{Symbol: "X", Quantity: 95, Price: 100})
	if ok, reason := m.CanTrade(ctx, sig); ok || !strings.Contains(reason, "budget") {
		t.Fatalf("(f): %v %q", ok, reason)
	}

	// (g) 信号太弱
	m = newTestManager(t, &fakeBroker{marketOpen: true, margin: 50000})
	if ok, reason := m.CanTrade(ctx, buySignal(100, 98, 0.45)); ok || !strings.Contains(reason, "strength") {
		t.Fatalf("(g): %v %q", ok, reason)
	}

	// 全部通过
	m = newTestManager(t, &fakeBroker{marketOpen: true, margin: 50000})
	if ok, reason := m.CanTrade(ctx, sig); !ok {
		t.Fatalf("expect pass, got %q", reason)
	}
}

// 到点平仓优先级最高，盈亏方向无关
func TestShouldSquareOffTimeCutoff(t *testing.T) {
	m := newTestManager(t, &fakeBroker{})
	at := time.Date(2024, 1, 2, 15, 20, 0, 0, time.Local)
	pos := model.Position{Symbol: "X", Quantity: 10, AvgPrice: 100, LastPrice: 100.5}

	if ok, reason := m.ShouldSquareOff(pos, at); !ok || !strings.Contains(reason, "square off") {
		t.Fatalf("at cutoff: %v %q", ok, reason)
	}
	if ok, _ := m.ShouldSquareOff(pos, at.Add(30*time.Minute)); !ok {
		t.Fatal("after cutoff: want true")
	}
	if ok, _ := m.ShouldSquareOff(pos, at.Add(-time.Hour)); ok {
		t.Fatal("small move before cutoff: want false")
	}
}

func TestShouldSquareOffStopTakeMirrored(t *testing.T) {
	m := newTestManager(t, &fakeBroker{})
	noon := time.Date(2024, 1, 2, 12, 0, 0, 0, time.Local)

	cases := []struct {
		name   string
		pos    model.Position
		want   bool
		reason string
	}{
		{"long stop loss", model.Position{Quantity: 10, AvgPrice: 100, LastPrice: 97.9}, true, "stop loss"},
		{"long take profit", model.Position{Quantity: 10, AvgPrice: 100, LastPrice: 104.1}, true, "take profit"},
		{"long in range", model.Position{Quantity: 10, AvgPrice: 100, LastPrice: 101}, false, ""},
		{"short stop loss", model.Position{Quantity: -10, AvgPrice: 100, LastPrice: 103}, true, "stop loss"},
		{"short take profit", model.Position{Quantity: -10, AvgPrice: 100, LastPrice: 95.9}, true, "take profit"},
		{"short in range", model.Position{Quantity: -10, AvgPrice: 100, LastPrice: 99}, false, ""},
		{"flat", model.Position{Quantity: 0, AvgPrice: 100, LastPrice: 50}, false, ""},
	}
	for _, c := range cases {
		got, reason := m.ShouldSquareOff(c.pos, noon)
		if got != c.want {
			t.Errorf("%s: got %v (%s), want %v", c.name, got, reason, c.want)
		}
		if c.reason != "" && !strings.Contains(reason, c.reason) {
			t.Errorf("%s: reason %q, want contains %q", c.name, reason, c.reason)
		}
	}
}

func TestValidateOrderParams(t *testing.T) {
	m := newTestManager(t, &fakeBroker{})

	if ok, _ := m.ValidateOrderParams(&model.Order{Symbol: "X", Quantity: 10, Price: 100}); !ok {
		t.Fatal("valid order rejected")
	}
	if ok, _ := m.ValidateOrderParams(&model.Order{Quantity: 10, Price: 100}); ok {
		t.Fatal("missing symbol accepted")
	}
	if ok, _ := m.ValidateOrderParams(&model.Order{Symbol: "X", Quantity: 0, Price: 100}); ok {
		t.Fatal("zero quantity accepted")
	}
	if ok, _ := m.ValidateOrderParams(&model.Order{Symbol: "X", Quantity: 10, Price: 0}); ok {
		t.Fatal("zero price accepted")
	}
	if ok, reason := m.ValidateOrderParams(&model.Order{Symbol: "X", Quantity: 200, Price: 100}); ok || !strings.Contains(reason, "budget") {
		t.Fatalf("over-budget accepted: %v %q", ok, reason)
	}
}

// 每次变更立即落盘：重启后账本状态可恢复
func TestRecordingPersistsImmediately(t *testing.T) {
	fb := &fakeBroker{}
	m := newTestManager(t, fb)

	m.RecordTrade(&model.Order{Symbol: "X", Quantity: 10, Price: 100})
	m.RecordClose("X", -250)

	reloaded := LoadLedger(m.statePath, m.now())
	if reloaded.DailyTrades != 1 || reloaded.BudgetUsed != 1000 || reloaded.DailyPnL != -250 {
		t.Fatalf("persisted state mismatch: %+v", reloaded)
	}
}

func TestEmergencySquareOffAll(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBroker{
		marketOpen: true,
		positions: []model.Position{
			{Symbol: "LONG", Exchange: "NSE", Quantity: 10, AvgPrice: 100, LastPrice: 101, PnL: 10},
			{Symbol: "SHORT", Exchange: "NSE", Quantity: -5, AvgPrice: 200, LastPrice: 195, PnL: 25},
			{Symbol: "BAD", Exchange: "NSE", Quantity: 3, AvgPrice: 50, LastPrice: 50, PnL: 0},
		},
		placeErr: map[string]error{"BAD": errors.New("rejected")},
	}
	m := newTestManager(t, fb)

	err := m.EmergencySquareOffAll(ctx)
	if err == nil {
		t.Fatal("expect aggregated error for BAD")
	}
	if len(fb.placed) != 2 {
		t.Fatalf("placed %d orders, want 2", len(fb.placed))
	}
	for _, req := range fb.placed {
		if req.OrderType != model.Market {
			t.Fatalf("square off must use market orders, got %s", req.OrderType)
		}
		switch req.Symbol {
		case "LONG":
			if req.Side != model.Sell || req.Quantity != 10 {
				t.Fatalf("LONG close: %+v", req)
			}
		case "SHORT":
			if req.Side != model.Buy || req.Quantity != 5 {
				t.Fatalf("SHORT close: %+v", req)
			}
		}
	}

	// 成功平掉的两笔已实现盈亏应入账
	if got := m.Summary(ctx).DailyPnL; got != 35 {
		t.Fatalf("daily pnl = %v, want 35", got)
	}
}
