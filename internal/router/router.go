package router

import (
	"github.com/gin-gonic/gin"

	"tradeflow/internal/handler/ping"
	"tradeflow/internal/handler/status"
	"tradeflow/internal/middleware"
)

type ApiRouter struct {
	statusHandler *status.Handler
}

func NewApiRouter(sh *status.Handler) *ApiRouter {
	return &ApiRouter{statusHandler: sh}
}

func (api *ApiRouter) Load(g *gin.Engine) {
	g.Use(middleware.RequestId())
	g.Use(middleware.Logger)
	g.Use(middleware.NoCache())
	g.Use(middleware.Options())
	g.Use(middleware.Secure())

	g.GET("/ping", ping.Ping())

	base := g.Group("/api", middleware.AntiDuplicateMiddleware())
	{
		base.GET("/status", api.statusHandler.Status())
		base.GET("/risk", api.statusHandler.Risk())
		base.GET("/positions", api.statusHandler.Positions())
		base.GET("/trades", api.statusHandler.Trades())
	}
}
