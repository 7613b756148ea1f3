package clock

import (
	"context"
	"testing"
	"time"
)

func TestFakeSleepAdvances(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	if err := f.Sleep(context.Background(), 2*time.Second); err != nil {
		t.Fatal(err)
	}
	f.Advance(time.Second)

	if got := f.Now().Sub(start); got != 3*time.Second {
		t.Errorf("expected 3s elapsed, got %v", got)
	}
	if s := f.Sleeps(); len(s) != 1 || s[0] != 2*time.Second {
		t.Errorf("unexpected sleeps: %v", s)
	}
}

func TestRealSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (Real{}).Sleep(ctx, time.Hour); err == nil {
		t.Error("expected context error")
	}
}
