package errs

import (
	"errors"
	"fmt"
	"strings"
)

// 错误分类。调用方据此区分"跳过本条继续"与"必须停机"的错误，
// 避免把所有异常一视同仁地吞掉
type Kind int

const (
	KindUnknown Kind = iota
	// 行情/历史数据缺失，本周期内跳过该标的，不重试
	KindDataUnavailable
	// 指标计算失败，信号降级为 HOLD
	KindComputation
	// 风控拒绝（准入或仓位计算），原因需要保留并透出
	KindRiskRejected
	// 券商侧终态
	KindOrderRejected
	KindOrderCancelled
	// 订单超时，按可撤销处理，不算异常
	KindOrderTimeout
	// 券商调用失败（网络/接口）
	KindBroker
	// 鉴权失效，引擎必须停机
	KindAuth
	// 连续分析周期失败，熔断
	KindCycleFailure
)

func (k Kind) String() string {
	switch k {
	case KindDataUnavailable:
		return "data_unavailable"
	case KindComputation:
		return "computation"
	case KindRiskRejected:
		return "risk_rejected"
	case KindOrderRejected:
		return "order_rejected"
	case KindOrderCancelled:
		return "order_cancelled"
	case KindOrderTimeout:
		return "order_timeout"
	case KindBroker:
		return "broker"
	case KindAuth:
		return "auth"
	case KindCycleFailure:
		return "cycle_failure"
	}
	return "unknown"
}

type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Kind() Kind { return e.kind }

func New(kind Kind, msg string) error {
	return &Error{kind: kind, msg: msg}
}

func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: msg, err: err}
}

// KindOf 返回错误的分类，非本包错误返回 KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

// IsAuth 判断是否鉴权失效。Kite SDK 的 TokenException 也按鉴权失效处理
func IsAuth(err error) bool {
	if err == nil {
		return false
	}
	if KindOf(err) == KindAuth {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "TokenException") || strings.Contains(s, "api_key or access_token")
}
