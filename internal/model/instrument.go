package model

// Instrument 可交易标的。缓存生命周期为一次进程运行，加载后不可变
type Instrument struct {
	Symbol   string
	Exchange string
	// 券商分配的标的 token，透传给历史数据接口
	Token int
}

// QuoteKey 行情接口使用的 "交易所:代码" 形式
func (i Instrument) QuoteKey() string {
	return i.Exchange + ":" + i.Symbol
}
