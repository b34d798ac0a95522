package trader

import "polymirror/internal/domain"

// Events are fire-and-forget callbacks into the orchestration and
// persistence layer. Each is invoked on its own goroutine so the trading
// loop never blocks on persistence latency. Any field may be nil.
type Events struct {
	TradeRecorded  func(trade domain.CopyTrade)
	PositionOpened func(account string, pos domain.ActivePosition)
	PositionClosed func(account string, pos domain.ActivePosition, pnlUSD float64)
	StatsUpdated   func(stats domain.AccountStats)
	FeeDistributed func(ev domain.FeeDistribution)
}

func (e Events) tradeRecorded(trade domain.CopyTrade) {
	if e.TradeRecorded != nil {
		go e.TradeRecorded(trade)
	}
}

func (e Events) positionOpened(account string, pos domain.ActivePosition) {
	if e.PositionOpened != nil {
		go e.PositionOpened(account, pos)
	}
}

func (e Events) positionClosed(account string, pos domain.ActivePosition, pnlUSD float64) {
	if e.PositionClosed != nil {
		go e.PositionClosed(account, pos, pnlUSD)
	}
}

func (e Events) statsUpdated(stats domain.AccountStats) {
	if e.StatsUpdated != nil {
		go e.StatsUpdated(stats)
	}
}

func (e Events) feeDistributed(ev domain.FeeDistribution) {
	if e.FeeDistributed != nil {
		go e.FeeDistributed(ev)
	}
}
