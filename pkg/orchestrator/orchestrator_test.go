package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLoopRunsImmediatelyThenOnTicks(t *testing.T) {
	var calls int64
	l := NewLoop("test", 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt64(&calls, 1)
		return nil
	}, zerolog.Nop())

	l.Start(context.Background())
	time.Sleep(35 * time.Millisecond)
	l.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt64(&calls), int64(2))
}

func TestLoopStopBlocksUntilPassFinishes(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	l := NewLoop("test", time.Hour, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}, zerolog.Nop())

	l.Start(context.Background())
	<-started

	done := make(chan struct{})
	go func() {
		l.Stop()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Stop returned before in-flight pass finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-done
}
