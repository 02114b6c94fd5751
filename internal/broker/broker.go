package broker

import (
	"context"
	"time"

	"tradeflow/internal/model"
)

// 下单请求。券商在成功时返回订单id，失败时返回 nil id + 错误
type PlaceOrderReq struct {
	Symbol    string
	Exchange  string
	Side      model.OrderSide
	Quantity  int
	OrderType model.OrderType
	// 限价单价格，市价单为 0
	Price float64
}

// Broker 券商接口。所有调用都是阻塞网络调用，可能失败；
// 失败以 errs 分类错误返回，绝不 panic
type Broker interface {
	// 拉取某交易所全部标的
	GetInstruments(ctx context.Context, exchange string) ([]model.Instrument, error)
	// 历史K线，按时间正序返回
	GetHistoricalKlines(ctx context.Context, token int, from, to time.Time, interval string) ([]model.Kline, error)
	// 最新价，key 为 "交易所:代码"
	GetLTP(ctx context.Context, keys ...string) (map[string]float64, error)
	// 当日/净持仓
	GetPositions(ctx context.Context) (day, net []model.Position, err error)
	// 订单簿
	GetOrders(ctx context.Context) ([]model.OrderUpdate, error)
	// 可用保证金
	GetAvailableMargin(ctx context.Context) (float64, error)
	// 下单，成功返回券商订单id
	PlaceOrder(ctx context.Context, req PlaceOrderReq) (string, error)
	// 撤单
	CancelOrder(ctx context.Context, orderID string) error
	// 是否在交易时段内
	IsMarketOpen(now time.Time) bool
}
