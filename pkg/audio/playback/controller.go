package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Controller owns the single active playback handle of a conversation.
//
// All methods are safe for concurrent use.
type Controller struct {
	mu     sync.Mutex
	active Handle
}

// NewController returns an idle Controller.
func NewController() *Controller {
	return &Controller{}
}

// Play stops and releases the active handle, if any, then starts h. After Play
// returns h is the only active handle, even when starting it failed.
func (c *Controller) Play(h Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil && c.active != h {
		if err := c.active.Stop(); err != nil {
			slog.Warn("playback: stop previous handle", "err", err)
		}
	}
	c.active = h
	if h == nil {
		return nil
	}
	return h.Start()
}

// Stop halts and releases the active handle.
func (c *Controller) Stop() error {
	c.mu.Lock()
	h := c.active
	c.active = nil
	c.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Stop()
}

// Active returns the active handle, or nil.
func (c *Controller) Active() Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// IsSpeaking reports whether the active handle is audibly playing.
func (c *Controller) IsSpeaking() bool {
	c.mu.Lock()
	h := c.active
	c.mu.Unlock()
	if h == nil {
		return false
	}
	return h.Status().Speaking()
}

// Watch polls IsSpeaking every interval and calls fn whenever the value
// changes. It blocks until ctx is cancelled.
func (c *Controller) Watch(ctx context.Context, interval time.Duration, fn func(speaking bool)) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	last := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			now := c.IsSpeaking()
			if now != last {
				last = now
				fn(now)
			}
		}
	}
}
