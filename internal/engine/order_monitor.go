package engine

import (
	"context"
	"time"

	"tradeflow/internal/errs"
	"tradeflow/internal/model"
	"tradeflow/pkg/kafka"
	"tradeflow/pkg/logger"
)

// monitorOrder 盯单协程，每笔订单一个，直到终态或超时。
// 每个订单只会从活动表里摘除一次
func (e *Engine) monitorOrder(order *model.Order) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("盯单协程panic",
				logger.Pair("order_id", order.ID),
				logger.Pair("panic", r))
			e.removeOrder(order.ID)
		}
	}()

	ctx := context.Background()
	deadline := e.now().Add(e.cfg.OrderTimeout.D())
	ticker := time.NewTicker(e.cfg.OrderPollInterval.D())
	defer ticker.Stop()

	logger.Info("开始盯单",
		logger.Pair("order_id", order.ID),
		logger.Pair("symbol", order.Symbol))

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
		}

		// 超时先于状态查询判定，网络持续失败也不会无限等
		if e.now().After(deadline) {
			e.timeoutOrder(ctx, order)
			return
		}

		updates, err := e.broker.GetOrders(ctx)
		if err != nil {
			if errs.IsAuth(err) {
				e.halt("券商认证失效")
				return
			}
			logger.Warn("查询订单簿失败",
				logger.Pair("order_id", order.ID),
				logger.Pair("err", err.Error()))
			continue
		}

		update, found := findOrder(updates, order.ID)
		if !found {
			logger.Warn("订单簿中找不到订单", logger.Pair("order_id", order.ID))
			continue
		}

		switch update.Status {
		case "COMPLETE":
			e.completeOrder(ctx, order, update)
			return
		case "CANCELLED", "REJECTED":
			e.terminateOrder(ctx, order, update.Status)
			return
		}
	}
}

func findOrder(updates []model.OrderUpdate, id string) (model.OrderUpdate, bool) {
	for _, u := range updates {
		if u.OrderID == id {
			return u, true
		}
	}
	return model.OrderUpdate{}, false
}

// removeOrder 从活动表摘除，返回是否真的在表里（幂等）
func (e *Engine) removeOrder(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.activeOrders[id]; !ok {
		return false
	}
	delete(e.activeOrders, id)
	return true
}

// completeOrder 成交：摘除订单，持仓监控接管后续
func (e *Engine) completeOrder(ctx context.Context, order *model.Order, update model.OrderUpdate) {
	if !e.removeOrder(order.ID) {
		return
	}
	order.Status = model.OrderComplete

	fillPrice := update.AveragePrice
	if fillPrice <= 0 {
		fillPrice = order.Price
	}
	logger.Info("订单成交",
		logger.Pair("order_id", order.ID),
		logger.Pair("symbol", order.Symbol),
		logger.Pair("filled", update.FilledQuantity),
		logger.Pair("avg_price", fillPrice))

	e.publish(ctx, kafka.TradeEvent{
		Type:     kafka.EventOrderFilled,
		Symbol:   order.Symbol,
		OrderID:  order.ID,
		Side:     string(order.Side),
		Quantity: update.FilledQuantity,
		Price:    fillPrice,
	})
}

// terminateOrder 券商侧终态（撤单/拒单）：摘除，不重试
func (e *Engine) terminateOrder(ctx context.Context, order *model.Order, status string) {
	if !e.removeOrder(order.ID) {
		return
	}
	if status == "REJECTED" {
		order.Status = model.OrderRejected
	} else {
		order.Status = model.OrderCancelled
	}
	logger.Warn("订单终态",
		logger.Pair("order_id", order.ID),
		logger.Pair("symbol", order.Symbol),
		logger.Pair("status", status))

	e.publish(ctx, kafka.TradeEvent{
		Type:    kafka.EventOrderCancelled,
		Symbol:  order.Symbol,
		OrderID: order.ID,
		Reason:  status,
	})
}

// timeoutOrder 超时：尽力撤单，无论撤单成败都摘除
func (e *Engine) timeoutOrder(ctx context.Context, order *model.Order) {
	if !e.removeOrder(order.ID) {
		return
	}
	order.Status = model.OrderTimedOut

	if err := e.broker.CancelOrder(ctx, order.ID); err != nil {
		logger.Warn("超时撤单失败",
			logger.Pair("order_id", order.ID),
			logger.Pair("err", err.Error()))
	} else {
		logger.Info("订单超时已撤",
			logger.Pair("order_id", order.ID),
			logger.Pair("symbol", order.Symbol))
	}

	e.publish(ctx, kafka.TradeEvent{
		Type:    kafka.EventOrderCancelled,
		Symbol:  order.Symbol,
		OrderID: order.ID,
		Reason:  "timeout",
	})
}
