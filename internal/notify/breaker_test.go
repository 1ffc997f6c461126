package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyNotifier struct {
	err   error
	calls int
}

func (f *flakyNotifier) Notify(context.Context, Notification) error {
	f.calls++
	return f.err
}

func newTestBreaker(next Notifier, failures, successes int) (*Breaker, *time.Time) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	b := NewBreaker(next, failures, successes, time.Minute)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_opensAfterConsecutiveFailures(t *testing.T) {
	sink := &flakyNotifier{err: errors.New("redis: connection refused")}
	b, _ := newTestBreaker(sink, 3, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := b.Notify(ctx, testNotification())
		require.Error(t, err, "call %d", i)
		require.NotErrorIs(t, err, ErrCircuitOpen, "call %d", i)
	}
	require.Equal(t, BreakerOpen, b.State())

	assert.ErrorIs(t, b.Notify(ctx, testNotification()), ErrCircuitOpen)
	assert.Equal(t, 3, sink.calls)
}

func TestBreaker_successResetsFailureCount(t *testing.T) {
	sink := &flakyNotifier{err: errors.New("boom")}
	b, _ := newTestBreaker(sink, 2, 1)
	ctx := context.Background()

	_ = b.Notify(ctx, testNotification())
	sink.err = nil
	_ = b.Notify(ctx, testNotification())
	sink.err = errors.New("boom")
	_ = b.Notify(ctx, testNotification())

	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_halfOpenRecovery(t *testing.T) {
	sink := &flakyNotifier{err: errors.New("boom")}
	b, now := newTestBreaker(sink, 1, 2)
	ctx := context.Background()

	_ = b.Notify(ctx, testNotification())
	require.Equal(t, BreakerOpen, b.State())

	*now = now.Add(time.Minute)
	require.Equal(t, BreakerHalfOpen, b.State())

	sink.err = nil
	require.NoError(t, b.Notify(ctx, testNotification()))
	assert.Equal(t, BreakerHalfOpen, b.State(), "after one trial call")
	_ = b.Notify(ctx, testNotification())
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_halfOpenFailureReopens(t *testing.T) {
	sink := &flakyNotifier{err: errors.New("boom")}
	b, now := newTestBreaker(sink, 1, 1)
	ctx := context.Background()

	_ = b.Notify(ctx, testNotification())
	*now = now.Add(2 * time.Minute)

	require.Error(t, b.Notify(ctx, testNotification()))
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakerState_String(t *testing.T) {
	tests := map[BreakerState]string{
		BreakerClosed:    "closed",
		BreakerOpen:      "open",
		BreakerHalfOpen:  "half-open",
		BreakerState(42): "unknown",
	}
	for state, want := range tests {
		assert.Equal(t, want, state.String(), "state %d", int(state))
	}
}
