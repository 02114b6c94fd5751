package analyzer

import (
	"context"
	"math"
	"sort"

	"tradeflow/internal/model"
	"tradeflow/pkg/logger"
)

// 预筛选阈值。排除噪声盘和已经走完的行情
const (
	minMovePercent = 0.005
	maxMovePercent = 0.08
	minVolatility  = 0.001
	maxVolatility  = 0.05
	// 预筛选至少需要的K线数
	minScreenBars = 20
)

// 排名综合分的权重
const (
	rankWeightVolume     = 0.30
	rankWeightVolatility = 0.25
	rankWeightMomentum   = 0.25
	rankWeightRange      = 0.20
)

type candidate struct {
	inst   model.Instrument
	klines []model.Kline
}

// Screen 两阶段选股：先用便宜的布尔测试收缩候选集，
// 候选过多时按潜力分排名截到 2N，再逐个生成信号取强度最高的 N 个。
// 单个标的取数失败只是剔除，不影响整轮
func (a *Analyzer) Screen(ctx context.Context) []model.Signal {
	universe := a.Instruments()
	topN := a.cfg.TopPerformersCount

	var passed []candidate
	for _, inst := range universe {
		klines, err := a.fetchKlines(ctx, inst)
		if err != nil || len(klines) < minScreenBars {
			continue
		}
		if !hasSufficientVolume(klines, a.cfg.MinAvgVolume, a.cfg.MinVolumeMultiplier) {
			continue
		}
		if !hasSignificantMovement(klines) {
			continue
		}
		if !hasAppropriateVolatility(klines) {
			continue
		}
		passed = append(passed, candidate{inst: inst, klines: klines})
	}
	logger.Info("预筛选完成",
		logger.Pair("universe", len(universe)),
		logger.Pair("passed", len(passed)))

	// 候选超过 2N 才值得花成本排名
	if len(passed) > topN*2 {
		sort.SliceStable(passed, func(i, j int) bool {
			return potentialScore(passed[i].klines) > potentialScore(passed[j].klines)
		})
		passed = passed[:topN*2]
	}

	var signals []model.Signal
	for _, c := range passed {
		sig := a.Generate(ctx, c.inst)
		if sig.Direction == model.DirHold || sig.Strength <= decisionThreshold {
			continue
		}
		signals = append(signals, sig)
	}

	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Strength > signals[j].Strength
	})
	if len(signals) > topN {
		signals = signals[:topN]
	}
	return signals
}

// 近10根均量达到绝对门槛，且相对整段均量有放大
func hasSufficientVolume(klines []model.Kline, minAvg, multiplier float64) bool {
	vols := model.Volumes(klines)
	recent := mean(tail(vols, 10))
	overall := mean(vols)
	return recent > minAvg && recent >= overall*multiplier
}

// 近10根K线的涨跌幅在可交易区间内
func hasSignificantMovement(klines []model.Kline) bool {
	closes := model.Closes(klines)
	last := closes[len(closes)-1]
	var prev float64
	if len(closes) > 10 {
		prev = closes[len(closes)-10]
	} else {
		prev = closes[0]
	}
	if prev == 0 {
		return false
	}
	change := math.Abs((last - prev) / prev)
	return change >= minMovePercent && change <= maxMovePercent
}

// 近20根收益率的标准差处于适中区间
func hasAppropriateVolatility(klines []model.Kline) bool {
	rets := returns(model.Closes(klines))
	vol := stddev(tail(rets, 20))
	return vol >= minVolatility && vol <= maxVolatility
}

// potentialScore 候选排名用的综合潜力分，各分量先压到 [0,1] 再加权
func potentialScore(klines []model.Kline) float64 {
	closes := model.Closes(klines)
	vols := model.Volumes(klines)
	if len(closes) < 10 {
		return 0
	}

	score := 0.0

	// 量比
	overall := mean(vols)
	if overall > 0 {
		ratio := mean(tail(vols, 5)) / overall
		score += math.Min(ratio/2, 1.0) * rankWeightVolume
	}

	// 波动率
	vol := stddev(tail(returns(closes), 10))
	score += math.Min(vol*50, 1.0) * rankWeightVolatility

	// 动量
	base := closes[len(closes)-10]
	if base != 0 {
		momentum := (closes[len(closes)-1] - base) / base
		score += math.Min(math.Abs(momentum)*10, 1.0) * rankWeightMomentum
	}

	// 高低振幅
	high, low := klines[0].High, klines[0].Low
	for _, k := range klines {
		if k.High > high {
			high = k.High
		}
		if k.Low < low {
			low = k.Low
		}
	}
	if avg := mean(closes); avg > 0 {
		score += math.Min((high-low)/avg*20, 1.0) * rankWeightRange
	}

	return score
}

func tail(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// 样本标准差（n-1）
func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

// 逐根收益率序列，长度为 len(closes)-1
func returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}
