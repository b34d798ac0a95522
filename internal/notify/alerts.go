package notify

import (
	"context"
	"fmt"

	"polymirror/internal/domain"
)

// Event types emitted by the copy-trading loop.
const (
	EventCopyExecuted   = "copy_executed"
	EventPositionClosed = "position_closed"
	EventFeeSettled     = "fee_settled"
	EventCashout        = "cashout"
	EventError          = "error"
)

// CopyTradeAlerts formats copy-trading domain events into operator
// notifications. Its methods match the trading loop's event callbacks, so it
// can be plugged in directly at wiring time.
type CopyTradeAlerts struct {
	notifier *Notifier
}

// NewCopyTradeAlerts creates alerts that deliver through the given Notifier.
func NewCopyTradeAlerts(n *Notifier) *CopyTradeAlerts {
	return &CopyTradeAlerts{notifier: n}
}

// TradeRecorded announces the outcome of one copy attempt. Skips are not
// notified; failures go out under the error event type.
func (a *CopyTradeAlerts) TradeRecorded(trade domain.CopyTrade) {
	ctx := context.Background()

	switch trade.Status {
	case domain.CopyTradeSkipped:
		return
	case domain.CopyTradeFailed:
		_ = a.notifier.Notify(ctx, EventError, "Copy failed",
			fmt.Sprintf("%s %s on %s: %s",
				trade.Side, shortAddr(trade.Trader), marketLabel(trade.Title, trade.MarketID), trade.Reason))
	default:
		_ = a.notifier.Notify(ctx, EventCopyExecuted, "Copy executed",
			fmt.Sprintf("%s $%.2f of %s (mirroring %s, %s)",
				trade.Side, trade.ExecutedUSD, marketLabel(trade.Title, trade.MarketID),
				shortAddr(trade.Trader), trade.Status))
	}
}

// PositionClosed announces a fully exited position with its realized PnL.
func (a *CopyTradeAlerts) PositionClosed(account string, pos domain.ActivePosition, pnlUSD float64) {
	direction := "profit"
	if pnlUSD < 0 {
		direction = "loss"
	}
	_ = a.notifier.Notify(context.Background(), EventPositionClosed, "Position closed",
		fmt.Sprintf("%s closed with $%.2f %s (entry %.3f, %.2f shares)",
			marketLabel(pos.Title, pos.MarketID), abs(pnlUSD), direction, pos.EntryPrice, pos.Shares))
}

// FeeDistributed announces a settled profit-fee split.
func (a *CopyTradeAlerts) FeeDistributed(ev domain.FeeDistribution) {
	if ev.Status != domain.FeeEventSettled {
		return
	}
	_ = a.notifier.Notify(context.Background(), EventFeeSettled, "Fees settled",
		fmt.Sprintf("trade %s: lister $%.2f, platform $%.2f of $%.2f profit",
			ev.TradeID, ev.ListerUSD, ev.PlatformUSD, ev.ProfitUSD))
}

// CashoutExecuted announces an automatic fund sweep.
func (a *CopyTradeAlerts) CashoutExecuted(account string, amountUSD float64, ref string) {
	_ = a.notifier.Notify(context.Background(), EventCashout, "Cashout",
		fmt.Sprintf("swept $%.2f from %s (ref %s)", amountUSD, shortAddr(account), ref))
}

func marketLabel(title, marketID string) string {
	if title != "" {
		return title
	}
	return marketID
}

func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
