// Package resourcestest provides test doubles for code built on the resources
// package.
package resourcestest

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/eser/ajan/logfx"
	"github.com/eser/aicaller/pkg/api/business/resources"
)

func NewLogger(tb testing.TB) *logfx.Logger {
	tb.Helper()

	logger, err := logfx.NewLogger(io.Discard, &logfx.Config{}) //nolint:exhaustruct
	if err != nil {
		tb.Fatalf("failed to create logger: %v", err)
	}

	return logger
}

var _ resources.Clock = (*FakeClock)(nil)

// FakeClock records every requested sleep and advances its own time instead
// of blocking.
type FakeClock struct {
	now    time.Time
	sleeps []time.Duration
	mu     sync.Mutex
}

func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)

	return nil
}

func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)

	return out
}

func (c *FakeClock) SleepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.sleeps)
}
