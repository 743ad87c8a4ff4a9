// Package orchestrator generalizes cuemby-warren's reconciler/scheduler
// Start/Stop/run ticker shape into one reusable Loop: every `*loop` CLI
// command (refreshloop, validateloop, cleanloop, ...) wraps its one-shot
// Pass function in a Loop instead of hand-rolling its own goroutine.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pass is one stage's one-shot unit of work, e.g. pkg/refresh.Pass.
type Pass func(ctx context.Context) error

// Loop runs a Pass on a fixed interval until Stop is called, the same
// Start()/Stop()/run() shape cuemby-warren's reconciler and scheduler
// both use, generalized from two copies into one reusable type.
type Loop struct {
	name     string
	interval time.Duration
	pass     Pass
	logger   zerolog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

func NewLoop(name string, interval time.Duration, pass Pass, logger zerolog.Logger) *Loop {
	return &Loop{name: name, interval: interval, pass: pass, logger: logger}
}

// Start runs one pass immediately, then on every tick, until Stop.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	l.running = true
	l.mu.Unlock()

	go l.run(ctx)
}

// Stop signals the loop to exit and blocks until the current pass finishes.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	close(l.stopCh)
	done := l.doneCh
	l.running = false
	l.mu.Unlock()

	<-done
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.doneCh)

	l.logger.Info().Str("loop", l.name).Msg("orchestrator loop started")
	l.runPass(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.runPass(ctx)
		case <-l.stopCh:
			l.logger.Info().Str("loop", l.name).Msg("orchestrator loop stopped")
			return
		case <-ctx.Done():
			l.logger.Info().Str("loop", l.name).Msg("orchestrator loop cancelled")
			return
		}
	}
}

func (l *Loop) runPass(ctx context.Context) {
	if err := l.pass(ctx); err != nil {
		l.logger.Error().Str("loop", l.name).Err(err).Msg("pass failed")
	}
}
