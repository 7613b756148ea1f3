package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/infralens/infralens/pkg/clock"
)

func newTestLimiter(max int, window time.Duration) (*Limiter, *clock.Fake) {
	fc := clock.NewFake(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	return New(Config{MaxRequests: max, Window: window}, fc), fc
}

func TestClosesAfterMaxRecords(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		require.True(t, l.CanProceed(), "request %d should be admitted", i)
		l.Record()
	}
	require.False(t, l.CanProceed())
	require.Equal(t, time.Minute, l.TimeUntilNextSlot())
}

func TestReopensAfterWindowWithoutNewRecords(t *testing.T) {
	l, fc := newTestLimiter(2, time.Minute)

	l.Record()
	fc.Advance(20 * time.Second)
	l.Record()
	require.False(t, l.CanProceed())
	require.Equal(t, 40*time.Second, l.TimeUntilNextSlot())

	fc.Advance(40 * time.Second)
	require.True(t, l.CanProceed(), "oldest stamp left the window")
	require.Equal(t, 1, l.InWindow())
	require.Zero(t, l.TimeUntilNextSlot())
}

func TestTimeUntilNextSlotZeroWhenOpen(t *testing.T) {
	l, _ := newTestLimiter(5, time.Minute)
	l.Record()
	require.Zero(t, l.TimeUntilNextSlot())
}

func TestDefaults(t *testing.T) {
	l := New(Config{}, nil)
	require.Equal(t, DefaultConfig(), l.Config())
}
