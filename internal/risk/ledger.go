package risk

import (
	"encoding/json"
	"os"
	"time"

	"tradeflow/pkg/logger"
)

const ledgerDateLayout = "2006-01-02"

// Ledger 当日风控账本，唯一的持久化状态。
// 每次变更后整体覆盖写盘，崩溃最多丢失在途的那一笔
type Ledger struct {
	Date             string  `json:"date"`
	DailyPnL         float64 `json:"daily_pnl"`
	DailyTrades      int     `json:"daily_trades"`
	BudgetUsed       float64 `json:"daily_budget_used"`
	LossLimitReached bool    `json:"max_daily_loss_reached"`
}

func newLedger(now time.Time) *Ledger {
	return &Ledger{Date: now.Format(ledgerDateLayout)}
}

// LoadLedger 读取账本文件。文件不存在或损坏时从零开始；
// 存储日期与当日不符时执行换日清零（只在加载时检查，盘中不换日）
func LoadLedger(path string, now time.Time) *Ledger {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("读取账本失败，按新账本处理", logger.Pair("err", err.Error()))
		}
		return newLedger(now)
	}

	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		logger.Warn("账本解析失败，按新账本处理", logger.Pair("err", err.Error()))
		return newLedger(now)
	}

	today := now.Format(ledgerDateLayout)
	if l.Date != today {
		logger.Info("账本换日清零",
			logger.Pair("stored", l.Date),
			logger.Pair("today", today))
		return newLedger(now)
	}
	return &l
}

// saveLedger 原子写盘：先写临时文件并 fsync，
// 旧文件转成 .bak 后 rename 就位，避免写一半留下脏文件
func saveLedger(path string, l *Ledger) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err = f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err = f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err = f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if _, err = os.Stat(path); err == nil {
		// 保留上一份做回退
		_ = os.Rename(path, path+".bak")
	}
	return os.Rename(tmp, path)
}
