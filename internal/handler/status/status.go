package status

import (
	"errors"

	"github.com/gin-gonic/gin"

	"tradeflow/internal/dao"
	"tradeflow/internal/engine"
	"tradeflow/internal/risk"
	"tradeflow/pkg/response"
)

// Handler 只读运维接口：引擎状态、风控摘要、持仓与当日流水
type Handler struct {
	engine *engine.Engine
	risk   *risk.Manager
	trades *dao.TradeDao // 未配置数据库时为 nil
}

func NewHandler(e *engine.Engine, rm *risk.Manager, trades *dao.TradeDao) *Handler {
	return &Handler{engine: e, risk: rm, trades: trades}
}

// 引擎运行状态
func (h *Handler) Status() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.JSON(c, nil, h.engine.Status())
	}
}

// 风控摘要
func (h *Handler) Risk() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.JSON(c, nil, h.risk.Summary(c.Request.Context()))
	}
}

// 当日未平仓位
func (h *Handler) Positions() gin.HandlerFunc {
	return func(c *gin.Context) {
		positions, err := h.risk.OpenPositions(c.Request.Context())
		response.JSON(c, err, positions)
	}
}

// 当日成交流水，依赖数据库
func (h *Handler) Trades() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.trades == nil {
			response.JSON(c, errors.New("trade journal not configured"), nil)
			return
		}
		records, err := h.trades.TodayRecords(c.Request.Context())
		response.JSON(c, err, records)
	}
}
