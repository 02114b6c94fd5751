package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	"tradeflow/conf"
	"tradeflow/internal/analyzer"
	"tradeflow/internal/broker"
	"tradeflow/internal/dao"
	"tradeflow/internal/engine"
	"tradeflow/internal/handler/status"
	"tradeflow/internal/risk"
	"tradeflow/internal/router"
	"tradeflow/pkg/db"
	"tradeflow/pkg/kafka"
	"tradeflow/pkg/logger"
)

// 日内交易引擎：选股 -> 信号 -> 风控 -> 下单 -> 盯单/盯仓 -> 收盘强平

func main() {
	cfgPath := flag.String("c", "conf/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置文件
	if err := conf.LoadConfig(*cfgPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	appCfg := conf.AppConfig
	logger.Init(appCfg.Log)
	defer logger.Sync()

	// 券商客户端，凭证无效直接启动失败
	kite, err := broker.NewKiteBroker(appCfg.Kite, appCfg.Engine)
	if err != nil {
		log.Fatalf("Failed to init broker: %v", err)
	}

	// 可选的数据库流水
	var tradeDao *dao.TradeDao
	if appCfg.Db.Enabled {
		datasource := db.Init(db.NewConfig(
			appCfg.Db.Username,
			appCfg.Db.Password,
			appCfg.Db.Host,
			appCfg.Db.Port,
			appCfg.Db.DbName,
		))
		node, err := snowflake.NewNode(appCfg.Engine.SnowflakeNode)
		if err != nil {
			log.Fatalf("Failed to init snowflake node: %v", err)
		}
		tradeDao = dao.NewTradeDao(datasource, node)
	}

	// 可选的交易事件流
	var producer kafka.ProducerService
	if appCfg.Kafka.Enabled {
		producer = kafka.NewKafkaProducer(appCfg.Kafka.Broker, appCfg.Kafka.Topic)
		defer producer.Close()
	}

	ctx := context.Background()

	an := analyzer.New(kite, appCfg.Analysis, appCfg.Risk, appCfg.Kite)
	if err := an.LoadInstruments(ctx); err != nil {
		log.Fatalf("Failed to load instruments: %v", err)
	}

	rm, err := risk.NewManager(kite, appCfg.Risk, appCfg.Engine)
	if err != nil {
		log.Fatalf("Failed to init risk manager: %v", err)
	}

	eng := engine.New(kite, an, rm, tradeDao, producer, appCfg.Engine)
	eng.Start()

	// 只读状态接口
	gin.SetMode(appCfg.Mode)
	g := gin.New()
	g.Use(gin.Recovery())
	router.NewApiRouter(status.NewHandler(eng, rm, tradeDao)).Load(g)

	srv := &http.Server{
		Addr:    appCfg.Listen,
		Handler: g,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server start failed on %s: %v", appCfg.Listen, err)
		}
	}()
	logger.Info("服务已启动", logger.Pair("listen", appCfg.Listen))

	// graceful shutdown：先停引擎（含兜底平仓），再关HTTP
	sgn := make(chan os.Signal, 1)
	signal.Notify(sgn, syscall.SIGINT, syscall.SIGTERM)
	<-sgn
	logger.Info("收到退出信号，开始停机")

	eng.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP服务关闭失败", logger.Pair("err", err.Error()))
	}
	logger.Info("停机完成")
}
