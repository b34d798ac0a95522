package domain

import "time"

// ActivePosition is an open position created by an executed copy BUY. It is
// owned exclusively by the account's trading loop and removed on exit
// (copied sell, take-profit, or market closure).
type ActivePosition struct {
	MarketID   string
	TokenID    string
	Outcome    string
	Title      string
	EntryPrice float64
	SizeUSD    float64
	Shares     float64
	OpenedAt   time.Time
}

// CopyTradeStatus is the persisted outcome of processing one signal.
type CopyTradeStatus string

const (
	CopyTradeExecuted CopyTradeStatus = "executed"
	CopyTradePartial  CopyTradeStatus = "partial"
	CopyTradeSkipped  CopyTradeStatus = "skipped"
	CopyTradeFailed   CopyTradeStatus = "failed"
)

// CopyTrade is the durable record of one copy attempt, successful or not.
type CopyTrade struct {
	ID          string
	Account     string // follower account address
	SignalID    string // original trade identity
	Trader      string
	MarketID    string
	TokenID     string
	Outcome     string
	Title       string
	Side        SignalSide
	IntendedUSD float64
	ExecutedUSD float64
	Price       float64
	Shares      float64
	Status      CopyTradeStatus
	Reason      string
	OrderID     string
	Source      string
	SignalAt    time.Time
	ExecutedAt  time.Time
}

// AccountStats aggregates per-account trading activity for reporting.
type AccountStats struct {
	Account     string
	Copied      int64
	Skipped     int64
	Failed      int64
	VolumeUSD   float64
	RealizedPnL float64
	FastestCopy time.Duration
	SlowestCopy time.Duration
	LastCopyAt  time.Time
}

// RecordCopy folds one copy latency observation into the stats.
func (s *AccountStats) RecordCopy(latency time.Duration, volumeUSD float64) {
	s.Copied++
	s.VolumeUSD += volumeUSD
	s.LastCopyAt = time.Now().UTC()
	if s.FastestCopy == 0 || latency < s.FastestCopy {
		s.FastestCopy = latency
	}
	if latency > s.SlowestCopy {
		s.SlowestCopy = latency
	}
}
