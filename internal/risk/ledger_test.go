package risk

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLedgerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.Local)

	l := newLedger(now)
	l.DailyPnL = -123.45
	l.DailyTrades = 3
	l.BudgetUsed = 4500
	if err := saveLedger(path, l); err != nil {
		t.Fatalf("saveLedger: %v", err)
	}

	got := LoadLedger(path, now)
	if got.Date != "2024-01-02" || got.DailyPnL != -123.45 || got.DailyTrades != 3 || got.BudgetUsed != 4500 {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if got.LossLimitReached {
		t.Fatal("flag should be clear")
	}
}

// 换日清零：存储日期与当日不符时所有计数器归零
func TestLedgerRollover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	yesterday := time.Date(2024, 1, 1, 15, 0, 0, 0, time.Local)
	today := time.Date(2024, 1, 2, 9, 0, 0, 0, time.Local)

	l := newLedger(yesterday)
	l.DailyPnL = -500
	l.DailyTrades = 7
	l.BudgetUsed = 9000
	l.LossLimitReached = true
	if err := saveLedger(path, l); err != nil {
		t.Fatalf("saveLedger: %v", err)
	}

	got := LoadLedger(path, today)
	if got.Date != "2024-01-02" {
		t.Fatalf("date = %s, want rollover to 2024-01-02", got.Date)
	}
	if got.DailyPnL != 0 || got.DailyTrades != 0 || got.BudgetUsed != 0 || got.LossLimitReached {
		t.Fatalf("counters not reset: %+v", got)
	}

	// 同日重载不应清零
	got.DailyTrades = 2
	if err := saveLedger(path, got); err != nil {
		t.Fatalf("saveLedger: %v", err)
	}
	again := LoadLedger(path, today)
	if again.DailyTrades != 2 {
		t.Fatalf("same-day reload reset counters: %+v", again)
	}
}

func TestLedgerMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.Local)

	l := LoadLedger(filepath.Join(dir, "nope.json"), now)
	if l.Date != "2024-01-02" || l.DailyTrades != 0 {
		t.Fatalf("missing file should yield fresh ledger: %+v", l)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	l = LoadLedger(bad, now)
	if l.Date != "2024-01-02" || l.BudgetUsed != 0 {
		t.Fatalf("corrupt file should yield fresh ledger: %+v", l)
	}
}

// 第二次写盘要保留上一份 .bak
func TestLedgerKeepsBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	now := time.Now()

	l := newLedger(now)
	if err := saveLedger(path, l); err != nil {
		t.Fatal(err)
	}
	l.DailyTrades = 1
	if err := saveLedger(path, l); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Fatalf("expect backup file: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("tmp file should not linger")
	}
}
