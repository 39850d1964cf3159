package service

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const sweepTimeout = time.Minute

type sweepTarget interface {
	Sweep(ctx context.Context, now time.Time) (*SweepResult, error)
}

// Sweeper runs the expiry sweep on a fixed interval until its context ends.
type Sweeper struct {
	target   sweepTarget
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
}

func NewSweeper(target sweepTarget, interval time.Duration) *Sweeper {
	return &Sweeper{
		target:   target,
		interval: interval,
		timeout:  sweepTimeout,
		now:      time.Now,
	}
}

// Run sweeps once at startup, then on every tick.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		slog.Error("expiry sweep disabled: interval must be positive", "interval", s.interval)
		return
	}

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *Sweeper) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.target.Sweep(cctx, s.now().UTC())
	if err != nil {
		// Shutdown cancellation is expected
		if errors.Is(err, context.Canceled) {
			return
		}
		slog.Error("expiry sweep failed", "error", err)
		return
	}
	if result.Secrets > 0 || result.Handoffs > 0 {
		slog.Info("expired secrets swept",
			"secrets", result.Secrets,
			"handoffs", result.Handoffs,
			"files", result.FilesDeleted,
		)
	}
}
