package analyzer

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradeflow/internal/model"
)

// 构造一段通过预筛选的K线：近10根放量、温和上行、波动适中
func screenableKlines(n int) []model.Kline {
	out := make([]model.Kline, n)
	for i := 0; i < n; i++ {
		closePx := 100 + 0.06*float64(i) + 0.25*float64(i%2)
		vol := 100000.0
		if i >= n-10 {
			vol = 220000.0
		}
		out[i] = model.Kline{
			Timestamp: time.Unix(int64(1700000000+i*300), 0),
			Open:      closePx - 0.1,
			High:      closePx + 0.3,
			Low:       closePx - 0.3,
			Close:     closePx,
			Volume:    vol,
		}
	}
	return out
}

func TestPreScreenChecks(t *testing.T) {
	good := screenableKlines(30)

	if !hasSufficientVolume(good, 100000, 1.5) {
		t.Fatal("expect volume check to pass")
	}
	if !hasSignificantMovement(good) {
		t.Fatal("expect movement check to pass")
	}
	if !hasAppropriateVolatility(good) {
		t.Fatal("expect volatility check to pass")
	}

	// 缩量：近10根与整段同量级，达不到放大倍数
	flat := screenableKlines(30)
	for i := range flat {
		flat[i].Volume = 100000
	}
	if hasSufficientVolume(flat, 100000, 1.5) {
		t.Fatal("expect volume check to fail without a recent spike")
	}

	// 横盘：没有足够的价格位移
	still := screenableKlines(30)
	for i := range still {
		still[i].Close = 100
	}
	if hasSignificantMovement(still) {
		t.Fatal("expect movement check to fail on a flat tape")
	}
	if hasAppropriateVolatility(still) {
		t.Fatal("expect volatility check to fail on a flat tape")
	}
}

func TestPotentialScoreOrdering(t *testing.T) {
	quiet := screenableKlines(30)
	active := screenableKlines(30)
	// 更强的动量和更大的振幅应排在前面
	for i := range active {
		active[i].Close += 0.2 * float64(i)
		active[i].High += 0.2*float64(i) + 0.5
		active[i].Low += 0.2 * float64(i)
		active[i].Volume *= 2
	}

	qs, as := potentialScore(quiet), potentialScore(active)
	if qs < 0 || qs > 1 || as < 0 || as > 1 {
		t.Fatalf("scores out of [0,1]: quiet=%v active=%v", qs, as)
	}
	if as <= qs {
		t.Fatalf("active stock should outrank quiet: active=%v quiet=%v", as, qs)
	}
}

// 单个标的取数失败只是被剔除，整轮筛选不受影响
func TestScreenExcludesFailedFetch(t *testing.T) {
	fb := &fakeBroker{
		klines: map[int][]model.Kline{
			1: screenableKlines(30), // 通过预筛选但K线不足以算指标 → HOLD → 被丢弃
		},
		ltp: map[string]float64{"NSE:GOOD": 101},
	}
	a := newTestAnalyzer(fb)
	a.mu.Lock()
	a.instruments = []model.Instrument{
		{Symbol: "GOOD", Exchange: "NSE", Token: 1},
		{Symbol: "DEAD", Exchange: "NSE", Token: 2}, // 无数据
	}
	a.mu.Unlock()

	signals := a.Screen(context.Background())
	if len(signals) != 0 {
		t.Fatalf("expect no actionable signals, got %d", len(signals))
	}
}

func TestScreenEmptyUniverse(t *testing.T) {
	a := newTestAnalyzer(&fakeBroker{klineErr: errors.New("down")})
	if got := a.Screen(context.Background()); len(got) != 0 {
		t.Fatalf("expect empty screen, got %d", len(got))
	}
}

func TestStatsHelpers(t *testing.T) {
	if m := mean([]float64{1, 2, 3}); m != 2 {
		t.Fatalf("mean = %v, want 2", m)
	}
	if s := stddev([]float64{1, 1, 1}); s != 0 {
		t.Fatalf("stddev of constant = %v, want 0", s)
	}
	rets := returns([]float64{100, 110, 99})
	if len(rets) != 2 {
		t.Fatalf("returns length = %d, want 2", len(rets))
	}
	if rets[0] <= 0 || rets[1] >= 0 {
		t.Fatalf("unexpected return signs: %v", rets)
	}
}
