package conf

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// 配置加载（API密钥、风控参数等）

type KiteConfig struct {
	ApiKey      string `yaml:"api-key" validate:"required"`
	ApiSecret   string `yaml:"api-secret"`
	AccessToken string `yaml:"access-token" validate:"required"`
	// 扫描的交易所列表，如 NSE/BSE
	Exchanges []string `yaml:"exchanges"`
	// 动态筛选失败时的兜底股票列表
	FallbackStocks []string `yaml:"fallback-stocks"`
}

type Db struct {
	Enabled  bool   `yaml:"enabled"`
	DbName   string `yaml:"dbname"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	FileName   string `yaml:"file-name"`
	MaxSize    int    `yaml:"max-size"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAge     int    `yaml:"max-age"`
	Compress   bool   `yaml:"compress"`
	Console    bool   `yaml:"console"`
}

type KafkaConfig struct {
	Enabled bool   `yaml:"enabled"`
	Broker  string `yaml:"broker"`
	Topic   string `yaml:"topic"`
}

// 风控参数。MaxDailyLoss 为 0 时按预算的 5% 取默认值
type RiskConfig struct {
	MaxDailyBudget    float64 `yaml:"max-daily-budget"`
	RiskPerTrade      float64 `yaml:"risk-per-trade"`
	MaxPositions      int     `yaml:"max-positions"`
	MaxDailyLoss      float64 `yaml:"max-daily-loss"`
	StopLossPercent   float64 `yaml:"stop-loss-percent"`
	TakeProfitPercent float64 `yaml:"take-profit-percent"`
	MinMargin         float64 `yaml:"min-margin"`
	MinBudget         float64 `yaml:"min-budget"`
	MinStrength       float64 `yaml:"min-strength"`
}

// 技术指标与筛选参数
type AnalysisConfig struct {
	RSIPeriod     int     `yaml:"rsi-period"`
	RSIOversold   float64 `yaml:"rsi-oversold"`
	RSIOverbought float64 `yaml:"rsi-overbought"`

	EMAFast    int `yaml:"ema-fast"`
	EMASlow    int `yaml:"ema-slow"`
	MACDSignal int `yaml:"macd-signal"`

	BollingerPeriod int     `yaml:"bollinger-period"`
	BollingerStd    float64 `yaml:"bollinger-std"`
	ATRPeriod       int     `yaml:"atr-period"`
	VolumeSMAPeriod int     `yaml:"volume-sma-period"`

	// 预筛选：成交量与流动性门槛
	MinAvgVolume        float64 `yaml:"min-avg-volume"`
	MinVolumeMultiplier float64 `yaml:"min-volume-multiplier"`

	MaxStocksToAnalyze int `yaml:"max-stocks-to-analyze"`
	TopPerformersCount int `yaml:"top-performers-count"`

	HistoryDays    int    `yaml:"history-days"`
	CandleInterval string `yaml:"candle-interval"`
	// 市场情绪参照的指数
	IndexSymbol string `yaml:"index-symbol"`
	// 指数的标的 token（NIFTY 50 默认 256265）
	IndexToken int `yaml:"index-token"`
}

// Duration 支持 "5m"/"30s" 写法的时长配置项
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

type EngineConfig struct {
	AnalysisInterval  Duration `yaml:"analysis-interval"`
	MonitorInterval   Duration `yaml:"monitor-interval"`
	RiskCheckInterval Duration `yaml:"risk-check-interval"`

	OrderPollInterval Duration `yaml:"order-poll-interval"`
	OrderTimeout      Duration `yaml:"order-timeout"`

	MaxTradesPerCycle int `yaml:"max-trades-per-cycle"`
	// 连续多少次分析周期失败后熔断停机
	MaxCycleFailures int `yaml:"max-cycle-failures"`

	MarketOpen    string `yaml:"market-open"`
	MarketClose   string `yaml:"market-close"`
	SquareOffAt   string `yaml:"square-off-at"`
	StateFile     string `yaml:"state-file"`
	SnowflakeNode int64  `yaml:"snowflake-node"`
}

type Config struct {
	AppName string `yaml:"app_name"`
	Listen  string `yaml:"listen"`
	Mode    string `yaml:"mode"`

	Kite     KiteConfig     `yaml:"kite"`
	Db       Db             `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Risk     RiskConfig     `yaml:"risk"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Engine   EngineConfig   `yaml:"engine"`
}

var AppConfig Config

func LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("Read config file error %w", err)
	}
	if err := yaml.Unmarshal(data, &AppConfig); err != nil {
		return fmt.Errorf("Unmarshal config yaml error: %w", err)
	}
	AppConfig.ApplyDefaults()
	if err := validator.New().Struct(&AppConfig); err != nil {
		return fmt.Errorf("validate config error: %w", err)
	}
	return nil
}

// ApplyDefaults 补齐未配置的项。权重、阈值等常量属于算法契约，不在此处
func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8090"
	}
	if c.Mode == "" {
		c.Mode = "release"
	}
	if len(c.Kite.Exchanges) == 0 {
		c.Kite.Exchanges = []string{"NSE", "BSE"}
	}
	if len(c.Kite.FallbackStocks) == 0 {
		c.Kite.FallbackStocks = []string{
			"RELIANCE", "TCS", "HDFCBANK", "INFY", "ICICIBANK",
			"KOTAKBANK", "SBIN", "BHARTIARTL", "ITC", "LT",
		}
	}

	r := &c.Risk
	if r.MaxDailyBudget == 0 {
		r.MaxDailyBudget = 10000
	}
	if r.RiskPerTrade == 0 {
		r.RiskPerTrade = 0.02
	}
	if r.MaxPositions == 0 {
		r.MaxPositions = 5
	}
	if r.MaxDailyLoss == 0 {
		r.MaxDailyLoss = r.MaxDailyBudget * 0.05
	}
	if r.StopLossPercent == 0 {
		r.StopLossPercent = 0.02
	}
	if r.TakeProfitPercent == 0 {
		r.TakeProfitPercent = 0.04
	}
	if r.MinMargin == 0 {
		r.MinMargin = 1000
	}
	if r.MinBudget == 0 {
		r.MinBudget = 1000
	}
	if r.MinStrength == 0 {
		r.MinStrength = 0.5
	}

	a := &c.Analysis
	if a.RSIPeriod == 0 {
		a.RSIPeriod = 14
	}
	if a.RSIOversold == 0 {
		a.RSIOversold = 30
	}
	if a.RSIOverbought == 0 {
		a.RSIOverbought = 70
	}
	if a.EMAFast == 0 {
		a.EMAFast = 12
	}
	if a.EMASlow == 0 {
		a.EMASlow = 26
	}
	if a.MACDSignal == 0 {
		a.MACDSignal = 9
	}
	if a.BollingerPeriod == 0 {
		a.BollingerPeriod = 20
	}
	if a.BollingerStd == 0 {
		a.BollingerStd = 2
	}
	if a.ATRPeriod == 0 {
		a.ATRPeriod = 14
	}
	if a.VolumeSMAPeriod == 0 {
		a.VolumeSMAPeriod = 20
	}
	if a.MinAvgVolume == 0 {
		a.MinAvgVolume = 100000
	}
	if a.MinVolumeMultiplier == 0 {
		a.MinVolumeMultiplier = 1.5
	}
	if a.MaxStocksToAnalyze == 0 {
		a.MaxStocksToAnalyze = 500
	}
	if a.TopPerformersCount == 0 {
		a.TopPerformersCount = 50
	}
	if a.HistoryDays == 0 {
		a.HistoryDays = 5
	}
	if a.CandleInterval == "" {
		a.CandleInterval = "5minute"
	}
	if a.IndexSymbol == "" {
		a.IndexSymbol = "NIFTY 50"
	}
	if a.IndexToken == 0 {
		a.IndexToken = 256265
	}

	e := &c.Engine
	if e.AnalysisInterval == 0 {
		e.AnalysisInterval = Duration(5 * time.Minute)
	}
	if e.MonitorInterval == 0 {
		e.MonitorInterval = Duration(time.Minute)
	}
	if e.RiskCheckInterval == 0 {
		e.RiskCheckInterval = Duration(2 * time.Minute)
	}
	if e.OrderPollInterval == 0 {
		e.OrderPollInterval = Duration(30 * time.Second)
	}
	if e.OrderTimeout == 0 {
		e.OrderTimeout = Duration(5 * time.Minute)
	}
	if e.MaxTradesPerCycle == 0 {
		e.MaxTradesPerCycle = 3
	}
	if e.MaxCycleFailures == 0 {
		e.MaxCycleFailures = 3
	}
	if e.MarketOpen == "" {
		e.MarketOpen = "09:15"
	}
	if e.MarketClose == "" {
		e.MarketClose = "15:30"
	}
	if e.SquareOffAt == "" {
		// 收盘前10分钟强制平仓
		e.SquareOffAt = "15:20"
	}
	if e.StateFile == "" {
		e.StateFile = "daily_state.json"
	}
	if e.SnowflakeNode == 0 {
		e.SnowflakeNode = 1
	}
}
