// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package admission

import (
	"context"
	"sync"
	"time"
)

// Counter is a fixed-window hit counter.
type Counter interface {
	// Increment adds one hit to key's current window, opening a new window of
	// the given length if none is active. It returns the hit count within the
	// window and the time left until the window resets.
	Increment(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// DefaultCleanupInterval is how often MemoryCounter sweeps expired windows.
const DefaultCleanupInterval = time.Minute

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

// MemoryCounter is an in-process Counter. serve uses it when no Redis host is
// configured, so windows are not shared between instances. It is safe for
// concurrent use.
//
// A background goroutine evicts expired windows. Call Close to stop it.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time

	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewMemoryCounter starts a MemoryCounter that sweeps every cleanupInterval
// (DefaultCleanupInterval if zero or negative).
func NewMemoryCounter(cleanupInterval time.Duration) *MemoryCounter {
	return newMemoryCounter(cleanupInterval, time.Now)
}

func newMemoryCounter(cleanupInterval time.Duration, now func() time.Time) *MemoryCounter {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	c := &MemoryCounter{
		windows:  make(map[string]*memoryWindow),
		now:      now,
		stopChan: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.cleanupLoop(cleanupInterval)
	return c
}

// Increment implements Counter.
func (c *MemoryCounter) Increment(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(window)}
		c.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt.Sub(now), nil
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (c *MemoryCounter) Close() {
	c.closeOnce.Do(func() {
		close(c.stopChan)
	})
	c.wg.Wait()
}

func (c *MemoryCounter) cleanupLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopChan:
			return
		}
	}
}

func (c *MemoryCounter) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, w := range c.windows {
		if !now.Before(w.resetAt) {
			delete(c.windows, key)
		}
	}
}

func (c *MemoryCounter) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.windows)
}
