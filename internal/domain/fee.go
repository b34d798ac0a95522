package domain

import "time"

// FeeEventStatus tracks a fee distribution through settlement.
type FeeEventStatus string

const (
	FeeEventPending FeeEventStatus = "pending"
	FeeEventSettled FeeEventStatus = "settled"
	FeeEventFailed  FeeEventStatus = "failed"
)

// FeeDistribution records one profit split between the trader's lister and
// the platform. Both transfers must settle before the event is marked
// settled; a partial settlement leaves the event failed for replay.
type FeeDistribution struct {
	ID           string
	TradeID      string // dedup key: one distribution per closed trade
	Account      string
	Trader       string
	ProfitUSD    float64
	ListerAddr   string
	PlatformAddr string
	ListerUSD    float64
	PlatformUSD  float64
	ListerRef    string // settlement transaction reference
	PlatformRef  string
	Status       FeeEventStatus
	Reason       string
	CreatedAt    time.Time
	SettledAt    time.Time
}

// Settled reports whether both legs carry a settlement reference.
func (f *FeeDistribution) Settled() bool {
	return f.ListerRef != "" && f.PlatformRef != ""
}
