package analyzer

import (
	"context"
	"time"

	"tradeflow/internal/indicator"
	"tradeflow/pkg/logger"
)

// 市场情绪标签
const (
	SentimentBullish = "BULLISH"
	SentimentNeutral = "NEUTRAL"
	SentimentBearish = "BEARISH"
)

// Sentiment 基于指数的大盘情绪评估
type Sentiment struct {
	Label    string  `json:"label"`
	Strength float64 `json:"strength"`
	// 指数最新收盘与近5根涨跌幅（百分比）
	IndexPrice  float64 `json:"index_price"`
	IndexChange float64 `json:"index_change"`
}

// MarketSentiment 用指数K线评估大盘情绪。
// 从中性 0.5 出发按指标加减分：>0.6 看多，<0.4 看空。
// 任何取数/计算失败都退回 NEUTRAL，不阻断分析周期
func (a *Analyzer) MarketSentiment(ctx context.Context) Sentiment {
	neutral := Sentiment{Label: SentimentNeutral, Strength: 0.5}

	to := time.Now()
	from := to.AddDate(0, 0, -a.cfg.HistoryDays)
	klines, err := a.broker.GetHistoricalKlines(ctx, a.cfg.IndexToken, from, to, a.cfg.CandleInterval)
	if err != nil || len(klines) < minScreenBars {
		logger.Warn("指数数据不足，情绪按中性处理", logger.Pair("index", a.cfg.IndexSymbol))
		return neutral
	}

	set, err := indicator.Compute(klines, a.cfg)
	if err != nil {
		return neutral
	}
	snap := set.Last()

	score := 0.5

	if snap.RSI > 60 {
		score += 0.1
	} else if snap.RSI < 40 {
		score -= 0.1
	}

	if snap.EMAFast > snap.EMASlow {
		score += 0.2
	} else {
		score -= 0.2
	}

	if snap.MACD > snap.MACDSignal {
		score += 0.1
	} else {
		score -= 0.1
	}

	// 近5根动量
	closes := set.Closes
	change := 0.0
	if base := closes[len(closes)-5]; base != 0 {
		change = (closes[len(closes)-1] - base) / base
	}
	if change > 0.01 {
		score += 0.1
	} else if change < -0.01 {
		score -= 0.1
	}

	label := SentimentNeutral
	if score > 0.6 {
		label = SentimentBullish
	} else if score < 0.4 {
		label = SentimentBearish
	}

	return Sentiment{
		Label:       label,
		Strength:    score,
		IndexPrice:  snap.Close,
		IndexChange: change * 100,
	}
}
