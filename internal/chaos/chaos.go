// Package chaos injects seeded drops and delays into event delivery.
package chaos

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Chaos provides deterministic failure injection
type Chaos struct {
	cfg     *Config
	logger  *zap.Logger
	rng     *rand.Rand
	mu      sync.Mutex
	start   time.Time
	targets map[string]bool
}

// New creates a new Chaos instance. A nil cfg disables injection.
func New(cfg *Config, logger *zap.Logger) *Chaos {
	if cfg == nil {
		cfg = &Config{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Chaos{
		cfg:     cfg,
		logger:  logger,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		start:   time.Now(),
		targets: make(map[string]bool, len(cfg.TargetEvents)),
	}
	for _, t := range cfg.TargetEvents {
		c.targets[t] = true
	}

	// Profile values override the individual settings
	if cfg.Profile != "" {
		dropPct, delayMin, delayMax, err := ParseProfile(cfg.Profile)
		if err != nil {
			logger.Warn("failed to parse chaos profile", zap.Error(err))
		} else {
			if dropPct > 0 {
				cfg.DropPct = dropPct
			}
			if delayMin > 0 || delayMax > 0 {
				cfg.DelayMsMin = delayMin
				cfg.DelayMsMax = delayMax
			}
		}
	}

	return c
}

// EnabledFor checks if chaos applies to an event type
func (c *Chaos) EnabledFor(target string) bool {
	if c == nil || !c.cfg.Enabled {
		return false
	}

	if c.cfg.WindowMs > 0 && time.Since(c.start).Milliseconds() > int64(c.cfg.WindowMs) {
		return false
	}

	return len(c.targets) == 0 || c.targets[target]
}

// Delay returns the delay to inject before delivering an event of type target
func (c *Chaos) Delay(target string) time.Duration {
	if !c.EnabledFor(target) || (c.cfg.DelayMsMin == 0 && c.cfg.DelayMsMax == 0) {
		return 0
	}

	c.mu.Lock()
	delayMs := c.cfg.DelayMsMin
	if c.cfg.DelayMsMax > c.cfg.DelayMsMin {
		delayMs += c.rng.Intn(c.cfg.DelayMsMax - c.cfg.DelayMsMin + 1)
	}
	c.mu.Unlock()

	return time.Duration(delayMs) * time.Millisecond
}

// MaybeDelay sleeps for Delay(target) unless ctx ends first
func (c *Chaos) MaybeDelay(ctx context.Context, target, op string) error {
	d := c.Delay(target)
	if d == 0 {
		return nil
	}

	c.logger.Info("chaos delay injected",
		zap.String("target", target),
		zap.String("op", op),
		zap.Duration("delay", d),
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// MaybeDrop returns true if the event should be dropped
func (c *Chaos) MaybeDrop(target, op string) bool {
	if !c.EnabledFor(target) || c.cfg.DropPct == 0 {
		return false
	}

	c.mu.Lock()
	drop := c.rng.Intn(100) < c.cfg.DropPct
	c.mu.Unlock()

	if drop {
		c.logger.Info("chaos drop injected",
			zap.String("target", target),
			zap.String("op", op),
		)
	}

	return drop
}
