package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cast"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"tradeflow/conf"
	"tradeflow/internal/errs"
	"tradeflow/internal/model"
	"tradeflow/pkg/logger"
)

// KiteBroker 基于 Zerodha Kite Connect 的实现。
// 全部走 MIS 日内产品，DAY 有效期，regular 类型
type KiteBroker struct {
	client *kiteconnect.Client

	marketOpen  time.Duration // 距当日零点的偏移
	marketClose time.Duration
}

func NewKiteBroker(cfg conf.KiteConfig, engine conf.EngineConfig) (*KiteBroker, error) {
	open, err := parseClock(engine.MarketOpen)
	if err != nil {
		return nil, fmt.Errorf("非法开盘时间 %q: %w", engine.MarketOpen, err)
	}
	close_, err := parseClock(engine.MarketClose)
	if err != nil {
		return nil, fmt.Errorf("非法收盘时间 %q: %w", engine.MarketClose, err)
	}

	client := kiteconnect.New(cfg.ApiKey)
	client.SetAccessToken(cfg.AccessToken)
	return &KiteBroker{
		client:      client,
		marketOpen:  open,
		marketClose: close_,
	}, nil
}

// parseClock 把 "HH:MM" 解析成距零点的偏移
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func (b *KiteBroker) GetInstruments(ctx context.Context, exchange string) ([]model.Instrument, error) {
	list, err := b.client.GetInstrumentsByExchange(exchange)
	if err != nil {
		return nil, b.wrap(err, "拉取标的列表失败")
	}
	out := make([]model.Instrument, 0, len(list))
	for _, in := range list {
		// 只要普通股票，过滤期权/期货等衍生品
		if in.InstrumentType != "EQ" {
			continue
		}
		out = append(out, model.Instrument{
			Symbol:   in.Tradingsymbol,
			Exchange: in.Exchange,
			Token:    cast.ToInt(in.InstrumentToken),
		})
	}
	return out, nil
}

func (b *KiteBroker) GetHistoricalKlines(ctx context.Context, token int, from, to time.Time, interval string) ([]model.Kline, error) {
	candles, err := b.client.GetHistoricalData(token, interval, from, to, false, false)
	if err != nil {
		return nil, b.wrap(err, "拉取历史K线失败")
	}
	out := make([]model.Kline, 0, len(candles))
	for _, c := range candles {
		out = append(out, model.Kline{
			Timestamp: c.Date.Time,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    cast.ToFloat64(c.Volume),
		})
	}
	return out, nil
}

func (b *KiteBroker) GetLTP(ctx context.Context, keys ...string) (map[string]float64, error) {
	if len(keys) == 0 {
		return map[string]float64{}, nil
	}
	quotes, err := b.client.GetLTP(keys...)
	if err != nil {
		return nil, b.wrap(err, "拉取最新价失败")
	}
	out := make(map[string]float64, len(quotes))
	for k, q := range quotes {
		out[k] = q.LastPrice
	}
	return out, nil
}

func (b *KiteBroker) GetPositions(ctx context.Context) (day, net []model.Position, err error) {
	pos, err := b.client.GetPositions()
	if err != nil {
		return nil, nil, b.wrap(err, "拉取持仓失败")
	}
	return convertPositions(pos.Day), convertPositions(pos.Net), nil
}

func convertPositions(in []kiteconnect.Position) []model.Position {
	out := make([]model.Position, 0, len(in))
	for _, p := range in {
		out = append(out, model.Position{
			Symbol:    p.Tradingsymbol,
			Exchange:  p.Exchange,
			Quantity:  p.Quantity,
			AvgPrice:  p.AveragePrice,
			LastPrice: p.LastPrice,
			PnL:       p.PnL,
		})
	}
	return out
}

func (b *KiteBroker) GetOrders(ctx context.Context) ([]model.OrderUpdate, error) {
	orders, err := b.client.GetOrders()
	if err != nil {
		return nil, b.wrap(err, "拉取订单簿失败")
	}
	out := make([]model.OrderUpdate, 0, len(orders))
	for _, o := range orders {
		out = append(out, model.OrderUpdate{
			OrderID:        o.OrderID,
			Status:         o.Status,
			FilledQuantity: cast.ToInt(o.FilledQuantity),
			AveragePrice:   o.AveragePrice,
			StatusMessage:  o.StatusMessage,
		})
	}
	return out, nil
}

func (b *KiteBroker) GetAvailableMargin(ctx context.Context) (float64, error) {
	margins, err := b.client.GetUserMargins()
	if err != nil {
		return 0, b.wrap(err, "拉取保证金失败")
	}
	return margins.Equity.Available.Cash, nil
}

func (b *KiteBroker) PlaceOrder(ctx context.Context, req PlaceOrderReq) (string, error) {
	params := kiteconnect.OrderParams{
		Exchange:        req.Exchange,
		Tradingsymbol:   req.Symbol,
		Validity:        kiteconnect.ValidityDay,
		Product:         kiteconnect.ProductMIS,
		TransactionType: string(req.Side),
		Quantity:        req.Quantity,
	}
	switch req.OrderType {
	case model.Limit:
		params.OrderType = kiteconnect.OrderTypeLimit
		params.Price = req.Price
	default:
		params.OrderType = kiteconnect.OrderTypeMarket
	}

	resp, err := b.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		return "", b.wrap(err, "下单失败")
	}
	logger.Info("订单已提交",
		logger.Pair("order_id", resp.OrderID),
		logger.Pair("symbol", req.Symbol),
		logger.Pair("side", req.Side),
		logger.Pair("qty", req.Quantity))
	return resp.OrderID, nil
}

func (b *KiteBroker) CancelOrder(ctx context.Context, orderID string) error {
	_, err := b.client.CancelOrder(kiteconnect.VarietyRegular, orderID, nil)
	if err != nil {
		return b.wrap(err, "撤单失败")
	}
	return nil
}

// IsMarketOpen 判断是否处于交易时段（工作日 + 盘中时间窗）
func (b *KiteBroker) IsMarketOpen(now time.Time) bool {
	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	offset := now.Sub(midnight)
	return offset >= b.marketOpen && offset < b.marketClose
}

// wrap 统一包装券商错误，认证失败单独归类以便上层熔断
func (b *KiteBroker) wrap(err error, msg string) error {
	if errs.IsAuth(err) {
		return errs.Wrap(errs.KindAuth, err, msg)
	}
	return errs.Wrap(errs.KindBroker, err, msg)
}
