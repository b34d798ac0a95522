// Package monitor polls tracked traders' public activity and turns it into
// a deduplicated stream of trade signals.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"polymirror/internal/domain"
)

// TradeFetcher is the slice of the exchange the monitor needs.
type TradeFetcher interface {
	FetchTrades(ctx context.Context, trader string, since time.Time) ([]domain.PublicTrade, error)
}

// Config controls polling cadence and windowing.
type Config struct {
	// PollInterval is the pause between the end of one tick and the start
	// of the next. Ticks never overlap.
	PollInterval time.Duration
	// Window is the aggregation window: trades older than it are ignored.
	Window time.Duration
	// BatchSize bounds concurrent per-trader fetches within one tick.
	BatchSize int
	// SeenCapacity is the identity table's sweep threshold.
	SeenCapacity int
}

// windowFloor is the minimum effective lookback. A shorter configured
// window still tolerates this much feed lag without dropping fills.
const windowFloor = 10 * time.Minute

func (c *Config) withDefaults() Config {
	out := *c
	if out.PollInterval <= 0 {
		out.PollInterval = 2 * time.Second
	}
	if out.Window <= 0 {
		out.Window = 5 * time.Minute
	}
	if out.BatchSize <= 0 {
		out.BatchSize = 5
	}
	return out
}

// Monitor emits one TradeSignal per newly observed fill across the tracked
// traders. Ticks are strictly serialized.
type Monitor struct {
	cfg     Config
	fetcher TradeFetcher
	traders []string
	seen    *seenTable
	marks   *highWaterMarks
	store   domain.HighWaterStore // optional, survives restarts
	signals chan domain.TradeSignal
	logger  *slog.Logger
}

// New builds a Monitor tracking the given trader addresses. store may be
// nil; high-water marks are then purely in-memory.
func New(cfg Config, fetcher TradeFetcher, traders []string, store domain.HighWaterStore, logger *slog.Logger) *Monitor {
	cfg = cfg.withDefaults()
	return &Monitor{
		cfg:     cfg,
		fetcher: fetcher,
		traders: traders,
		seen:    newSeenTable(cfg.SeenCapacity),
		marks:   newHighWaterMarks(),
		store:   store,
		signals: make(chan domain.TradeSignal, 64),
		logger:  logger.With(slog.String("component", "monitor")),
	}
}

// Signals returns the stream of detected trades. Closed when Run returns.
func (m *Monitor) Signals() <-chan domain.TradeSignal { return m.signals }

// Run polls until ctx is cancelled. A tick completes all of its network
// round-trips before the next one is scheduled.
func (m *Monitor) Run(ctx context.Context) error {
	defer close(m.signals)

	m.restoreMarks(ctx)
	m.logger.Info("monitor started",
		slog.Int("traders", len(m.traders)),
		slog.Duration("poll_interval", m.cfg.PollInterval),
		slog.Duration("window", m.cfg.Window))

	for {
		m.tick(ctx)
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return ctx.Err()
		case <-time.After(m.cfg.PollInterval):
		}
	}
}

func (m *Monitor) restoreMarks(ctx context.Context) {
	if m.store == nil {
		return
	}
	for _, trader := range m.traders {
		ts, err := m.store.HighWater(ctx, trader)
		if err != nil || ts.IsZero() {
			continue
		}
		m.marks.Advance(trader, ts)
	}
}

// cutoff is the oldest trade timestamp still eligible for emission.
func (m *Monitor) cutoff(now time.Time) time.Time {
	window := m.cfg.Window
	if window < windowFloor {
		window = windowFloor
	}
	return now.Add(-window)
}

func (m *Monitor) tick(ctx context.Context) {
	cutoff := m.cutoff(time.Now().UTC())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.BatchSize)
	for _, trader := range m.traders {
		trader := trader
		g.Go(func() error {
			m.pollTrader(gctx, trader, cutoff)
			return nil
		})
	}
	_ = g.Wait()
}

// pollTrader fetches one trader's recent activity and emits anything new.
// Errors are logged and skipped for this tick only.
func (m *Monitor) pollTrader(ctx context.Context, trader string, cutoff time.Time) {
	since := m.marks.Get(trader)
	if since.Before(cutoff) {
		since = cutoff
	}

	trades, err := m.fetcher.FetchTrades(ctx, trader, since)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		level := slog.LevelError
		if domain.IsTransient(err) {
			level = slog.LevelWarn
		}
		m.logger.Log(ctx, level, "activity fetch failed",
			slog.String("trader", trader),
			slog.String("error", err.Error()))
		return
	}

	for _, tr := range trades {
		if tr.Timestamp.Before(cutoff) {
			continue
		}
		if !tr.Timestamp.After(m.marks.Get(trader)) {
			continue
		}
		if m.seen.MarkSeen(tr.ID, cutoff) {
			continue
		}
		m.marks.Advance(trader, tr.Timestamp)
		m.persistMark(ctx, trader, tr.Timestamp)
		m.emit(ctx, tr, "poll")
	}
}

// Ingest pushes an externally sourced fill (the live WebSocket feed)
// through the same window, dedup, and high-water rules as polled activity,
// so both paths emit each fill at most once between them.
func (m *Monitor) Ingest(ctx context.Context, tr domain.PublicTrade) {
	cutoff := m.cutoff(time.Now().UTC())
	if tr.Timestamp.Before(cutoff) {
		return
	}
	if m.seen.MarkSeen(tr.ID, cutoff) {
		return
	}
	m.marks.Advance(tr.Trader, tr.Timestamp)
	m.persistMark(ctx, tr.Trader, tr.Timestamp)
	m.emit(ctx, tr, "ws")
}

func (m *Monitor) persistMark(ctx context.Context, trader string, ts time.Time) {
	if m.store == nil {
		return
	}
	if err := m.store.SetHighWater(ctx, trader, ts); err != nil {
		m.logger.Warn("high-water persist failed",
			slog.String("trader", trader),
			slog.String("error", err.Error()))
	}
}

func (m *Monitor) emit(ctx context.Context, tr domain.PublicTrade, source string) {
	sig := domain.TradeSignal{
		ID:         tr.ID,
		Trader:     tr.Trader,
		MarketID:   tr.MarketID,
		TokenID:    tr.TokenID,
		Side:       tr.Side,
		Outcome:    tr.Outcome,
		Title:      tr.Title,
		SizeUSD:    tr.SizeUSD,
		Price:      tr.Price,
		Timestamp:  tr.Timestamp,
		DetectedAt: time.Now().UTC(),
		Source:     source,
	}
	select {
	case m.signals <- sig:
		m.logger.Info("signal detected",
			slog.String("trader", sig.Trader),
			slog.String("side", string(sig.Side)),
			slog.String("outcome", sig.Outcome),
			slog.Float64("size_usd", sig.SizeUSD),
			slog.Float64("price", sig.Price),
			slog.Duration("age", sig.Age()))
	case <-ctx.Done():
	}
}

// highWaterMarks tracks the newest processed trade timestamp per trader.
type highWaterMarks struct {
	mu    sync.Mutex
	marks map[string]time.Time
}

func newHighWaterMarks() *highWaterMarks {
	return &highWaterMarks{marks: make(map[string]time.Time)}
}

func (h *highWaterMarks) Get(trader string) time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.marks[trader]
}

// Advance moves the mark forward only; stale timestamps are ignored.
func (h *highWaterMarks) Advance(trader string, ts time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ts.After(h.marks[trader]) {
		h.marks[trader] = ts
	}
}
