package model

import "time"

// 成交/平仓流水，入库做审计
type TradeRecord struct {
	ID        uint      `gorm:"column:id;primary_key;" json:"id"` // 主键id，自增长，不用设置
	RefID     string    `gorm:"column:ref_id" json:"ref_id"`      // 内部引用id（snowflake）
	OrderId   string    `gorm:"column:order_id" json:"order_id"`
	Symbol    string    `gorm:"column:symbol" json:"symbol"`
	Side      OrderSide `gorm:"column:side" json:"side"`
	Quantity  int       `gorm:"column:quantity" json:"quantity"`
	Price     float64   `gorm:"column:price" json:"price"`
	Notional  float64   `gorm:"column:notional" json:"notional"`
	Pnl       float64   `gorm:"column:pnl" json:"pnl"`
	Reason    string    `gorm:"column:reason" json:"reason"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (TradeRecord) TableName() string {
	return "trade_record"
}
