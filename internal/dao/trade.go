package dao

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"tradeflow/internal/model"
)

// TradeDao 成交流水表。引擎在没有数据库时以 nil dao 运行
type TradeDao struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewTradeDao(db *gorm.DB, node *snowflake.Node) *TradeDao {
	return &TradeDao{db: db, node: node}
}

// 插入一条成交/平仓流水
func (d *TradeDao) Insert(ctx context.Context, record *model.TradeRecord) error {
	if record.RefID == "" {
		record.RefID = d.node.Generate().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	return d.db.WithContext(ctx).Create(record).Error
}

// 查询当日全部流水，按时间倒序
func (d *TradeDao) TodayRecords(ctx context.Context) (records []model.TradeRecord, err error) {
	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	err = d.db.WithContext(ctx).Model(&model.TradeRecord{}).
		Where("created_at >= ?", dayStart).
		Order("created_at DESC").
		Find(&records).Error
	return
}

// 查询某标的当日流水
func (d *TradeDao) RecordsBySymbol(ctx context.Context, symbol string) (records []model.TradeRecord, err error) {
	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	err = d.db.WithContext(ctx).Model(&model.TradeRecord{}).
		Where("symbol = ?", symbol).
		Where("created_at >= ?", dayStart).
		Order("created_at DESC").
		Find(&records).Error
	return
}
