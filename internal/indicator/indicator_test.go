package indicator

import (
	"math"
	"testing"
	"time"

	"tradeflow/conf"
	"tradeflow/internal/errs"
	"tradeflow/internal/model"
)

func testCfg() conf.AnalysisConfig {
	var c conf.Config
	c.ApplyDefaults()
	return c.Analysis
}

// 生成一段确定性的K线：缓慢上涨 + 周期性波动
func genKlines(n int) []model.Kline {
	out := make([]model.Kline, n)
	for i := 0; i < n; i++ {
		base := 100 + float64(i)*0.5 + 2*math.Sin(float64(i)/3)
		out[i] = model.Kline{
			Timestamp: time.Unix(int64(1700000000+i*300), 0),
			Open:      base - 0.2,
			High:      base + 0.5,
			Low:       base - 0.5,
			Close:     base,
			Volume:    100000 + float64(i%7)*10000,
		}
	}
	return out
}

func TestComputeInsufficientData(t *testing.T) {
	cfg := testCfg()
	_, err := Compute(genKlines(10), cfg)
	if err == nil {
		t.Fatal("expect error on short input")
	}
	if errs.KindOf(err) != errs.KindDataUnavailable {
		t.Fatalf("expect KindDataUnavailable, got %v", errs.KindOf(err))
	}
}

func TestComputeAndLast(t *testing.T) {
	cfg := testCfg()
	klines := genKlines(80)
	set, err := Compute(klines, cfg)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(set.RSI) != len(klines) || len(set.MACD) != len(klines) || len(set.BBUpper) != len(klines) {
		t.Fatal("indicator series length mismatch")
	}

	snap := set.Last()
	if snap.Close != klines[len(klines)-1].Close {
		t.Fatalf("snapshot close = %v, want %v", snap.Close, klines[len(klines)-1].Close)
	}
	if snap.RSI <= 0 || snap.RSI >= 100 {
		t.Fatalf("RSI out of range: %v", snap.RSI)
	}
	if snap.BBUpper <= snap.BBLower {
		t.Fatalf("bollinger bands inverted: upper=%v lower=%v", snap.BBUpper, snap.BBLower)
	}
	if snap.VolumeRatio <= 0 {
		t.Fatalf("volume ratio should be positive, got %v", snap.VolumeRatio)
	}
	if snap.ATR <= 0 {
		t.Fatalf("ATR should be positive, got %v", snap.ATR)
	}
}
