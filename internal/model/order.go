package model

import (
	"time"
)

type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite 平仓方向
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderType string

const (
	// 市价单
	Market OrderType = "MARKET"
	// 限价单
	Limit OrderType = "LIMIT"
)

// 订单状态机：PLACED -> {COMPLETE | CANCELLED | REJECTED | TIMED_OUT}，终态不可逆
type OrderStatus string

const (
	OrderPlaced    OrderStatus = "PLACED"
	OrderComplete  OrderStatus = "COMPLETE"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderTimedOut  OrderStatus = "TIMED_OUT"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderComplete || s == OrderCancelled || s == OrderRejected || s == OrderTimedOut
}

// Order 由引擎独占管理，ID 为券商下单成功后分配
type Order struct {
	ID        string
	Symbol    string
	Exchange  string
	Side      OrderSide
	Quantity  int
	Price     float64
	Status    OrderStatus
	CreatedAt time.Time
}

func (o *Order) Notional() float64 {
	return float64(o.Quantity) * o.Price
}

// OrderUpdate 券商订单簿中的一条状态
type OrderUpdate struct {
	OrderID        string
	Status         string
	FilledQuantity int
	AveragePrice   float64
	StatusMessage  string
}

// Position 持仓快照。每轮监控都从券商重新拉取，不跨周期缓存
type Position struct {
	Symbol   string
	Exchange string
	// 有符号数量，负数为空头
	Quantity  int
	AvgPrice  float64
	LastPrice float64
	// 券商口径的盈亏
	PnL float64
}
