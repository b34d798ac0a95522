package funds

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottleSuppressesWithinInterval(t *testing.T) {
	th := NewThrottle(time.Hour)
	calls := 0
	fn := func(ctx context.Context) error { calls++; return nil }

	ran, err := th.Do(context.Background(), false, fn)
	require.NoError(t, err)
	assert.True(t, ran)

	ran, err = th.Do(context.Background(), false, fn)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 1, calls)
}

func TestThrottleBypass(t *testing.T) {
	th := NewThrottle(time.Hour)
	calls := 0
	fn := func(ctx context.Context) error { calls++; return nil }

	_, _ = th.Do(context.Background(), false, fn)
	ran, err := th.Do(context.Background(), true, fn)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 2, calls)
}

func TestThrottleErrorDoesNotConsumeInterval(t *testing.T) {
	th := NewThrottle(time.Hour)
	calls := 0

	_, err := th.Do(context.Background(), false, func(ctx context.Context) error {
		calls++
		return fmt.Errorf("rpc unavailable")
	})
	require.Error(t, err)

	ran, err := th.Do(context.Background(), false, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran, "a failed check must not block the retry")
	assert.Equal(t, 2, calls)
}

func TestThrottleAllowsAfterInterval(t *testing.T) {
	th := NewThrottle(10 * time.Millisecond)
	calls := 0
	fn := func(ctx context.Context) error { calls++; return nil }

	_, _ = th.Do(context.Background(), false, fn)
	time.Sleep(20 * time.Millisecond)
	ran, _ := th.Do(context.Background(), false, fn)
	assert.True(t, ran)
	assert.Equal(t, 2, calls)
}

type fakeReader struct {
	balance float64
	err     error
	calls   int
}

func (f *fakeReader) USDCBalance(ctx context.Context, address string) (float64, error) {
	f.calls++
	return f.balance, f.err
}

type fakeSweeper struct {
	swept []float64
	err   error
}

func (f *fakeSweeper) Sweep(ctx context.Context, from string, amountUSD float64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.swept = append(f.swept, amountUSD)
	return "0xsweep", nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatcherSweepsExcess(t *testing.T) {
	reader := &fakeReader{balance: 1500}
	sweeper := &fakeSweeper{}
	var notified float64
	w := NewWatcher(
		WatcherConfig{ThresholdUSD: 1000, ReserveUSD: 200},
		reader, sweeper, "0xacct",
		func(amount float64, ref string) { notified = amount },
		discard(),
	)

	require.NoError(t, w.Check(context.Background(), false))
	require.Len(t, sweeper.swept, 1)
	assert.InDelta(t, 1300, sweeper.swept[0], 1e-9)
	assert.InDelta(t, 1300, notified, 1e-9)
}

func TestWatcherUnderThresholdNoSweep(t *testing.T) {
	reader := &fakeReader{balance: 800}
	sweeper := &fakeSweeper{}
	w := NewWatcher(WatcherConfig{ThresholdUSD: 1000}, reader, sweeper, "0xacct", nil, discard())

	require.NoError(t, w.Check(context.Background(), false))
	assert.Empty(t, sweeper.swept)
}

func TestWatcherThrottlesRepeatedChecks(t *testing.T) {
	reader := &fakeReader{balance: 800}
	w := NewWatcher(WatcherConfig{Interval: time.Hour, ThresholdUSD: 1000}, reader, &fakeSweeper{}, "0xacct", nil, discard())

	require.NoError(t, w.Check(context.Background(), false))
	require.NoError(t, w.Check(context.Background(), false))
	assert.Equal(t, 1, reader.calls)

	// Bypass goes through regardless.
	require.NoError(t, w.Check(context.Background(), true))
	assert.Equal(t, 2, reader.calls)
}
