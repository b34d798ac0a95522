package trader

import "sync"

// pendingSpend counts USD already committed to in-flight BUYs since the
// last fresh balance snapshot. Without it, rapid repeated signals would
// each size against the same stale balance and over-spend.
type pendingSpend struct {
	mu  sync.Mutex
	usd float64
}

// Add records spend from a successful BUY submission.
func (p *pendingSpend) Add(usd float64) {
	p.mu.Lock()
	p.usd += usd
	p.mu.Unlock()
}

// Outstanding returns the committed USD not yet reflected in any snapshot.
func (p *pendingSpend) Outstanding() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usd
}

// Reset clears the counter after a fresh balance snapshot absorbed it.
func (p *pendingSpend) Reset() {
	p.mu.Lock()
	p.usd = 0
	p.mu.Unlock()
}
