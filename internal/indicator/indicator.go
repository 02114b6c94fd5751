package indicator

import (
	"github.com/markcheno/go-talib"

	"tradeflow/conf"
	"tradeflow/internal/errs"
	"tradeflow/internal/model"
)

// Set 一组完整的指标序列，下标与输入K线对齐，
// 前期不足窗口的位置为 0（talib 约定）
type Set struct {
	RSI        []float64
	EMAFast    []float64
	EMASlow    []float64
	MACD       []float64
	MACDSignal []float64
	MACDHist   []float64
	BBUpper    []float64
	BBMiddle   []float64
	BBLower    []float64
	ATR        []float64
	VolumeSMA  []float64

	Closes  []float64
	Volumes []float64
}

// Snapshot 最后一根K线上的指标值，信号评分只看这一份
type Snapshot struct {
	Close       float64
	RSI         float64
	EMAFast     float64
	EMASlow     float64
	MACD        float64
	MACDSignal  float64
	MACDHist    float64
	BBUpper     float64
	BBLower     float64
	ATR         float64
	Volume      float64
	VolumeSMA   float64
	VolumeRatio float64
}

// minBars 计算全套指标需要的最少K线数
func minBars(cfg conf.AnalysisConfig) int {
	need := cfg.RSIPeriod
	if cfg.EMASlow+cfg.MACDSignal > need {
		need = cfg.EMASlow + cfg.MACDSignal
	}
	if cfg.BollingerPeriod > need {
		need = cfg.BollingerPeriod
	}
	if cfg.VolumeSMAPeriod > need {
		need = cfg.VolumeSMAPeriod
	}
	return need + 1
}

// Compute 对一段K线计算全部指标。纯函数，不做任何IO
func Compute(klines []model.Kline, cfg conf.AnalysisConfig) (*Set, error) {
	if len(klines) < minBars(cfg) {
		return nil, errs.Newf(errs.KindDataUnavailable, "K线不足：%d 根，至少需要 %d 根", len(klines), minBars(cfg))
	}

	closes := model.Closes(klines)
	volumes := model.Volumes(klines)
	highs := make([]float64, len(klines))
	lows := make([]float64, len(klines))
	for i, k := range klines {
		highs[i] = k.High
		lows[i] = k.Low
	}

	s := &Set{Closes: closes, Volumes: volumes}
	s.RSI = talib.Rsi(closes, cfg.RSIPeriod)
	s.EMAFast = talib.Ema(closes, cfg.EMAFast)
	s.EMASlow = talib.Ema(closes, cfg.EMASlow)
	s.MACD, s.MACDSignal, s.MACDHist = talib.Macd(closes, cfg.EMAFast, cfg.EMASlow, cfg.MACDSignal)
	s.BBUpper, s.BBMiddle, s.BBLower = talib.BBands(closes, cfg.BollingerPeriod, cfg.BollingerStd, cfg.BollingerStd, talib.SMA)
	s.ATR = talib.Atr(highs, lows, closes, cfg.ATRPeriod)
	s.VolumeSMA = talib.Sma(volumes, cfg.VolumeSMAPeriod)
	return s, nil
}

// Last 取末根K线上的指标快照
func (s *Set) Last() Snapshot {
	i := len(s.Closes) - 1
	snap := Snapshot{
		Close:      s.Closes[i],
		RSI:        s.RSI[i],
		EMAFast:    s.EMAFast[i],
		EMASlow:    s.EMASlow[i],
		MACD:       s.MACD[i],
		MACDSignal: s.MACDSignal[i],
		MACDHist:   s.MACDHist[i],
		BBUpper:    s.BBUpper[i],
		BBLower:    s.BBLower[i],
		ATR:        s.ATR[i],
		Volume:     s.Volumes[i],
		VolumeSMA:  s.VolumeSMA[i],
	}
	if snap.VolumeSMA > 0 {
		snap.VolumeRatio = snap.Volume / snap.VolumeSMA
	} else {
		snap.VolumeRatio = 1.0
	}
	return snap
}
