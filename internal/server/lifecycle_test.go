package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestLifecycleCancelStopsReverseOrder(t *testing.T) {
	logger := zaptest.NewLogger(t)
	lc := NewLifecycle(logger)

	var running atomic.Int32
	var order []string

	lc.Add("listener", func(ctx context.Context) error {
		running.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}, func() { order = append(order, "listener") })
	lc.Add("pool", nil, func() { order = append(order, "pool") })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- lc.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for running.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("runner did not start in time")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle did not shut down in time")
	}

	// Teardown runs in reverse registration order.
	assert.Equal(t, []string{"pool", "listener"}, order)
}

func TestLifecycleRunnerFailureTriggersShutdown(t *testing.T) {
	logger := zaptest.NewLogger(t)
	lc := NewLifecycle(logger)

	boom := errors.New("listen tcp: address in use")
	var stopped atomic.Bool

	lc.Add("listener", func(ctx context.Context) error {
		return boom
	}, nil)
	lc.Add("sessions", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, func() { stopped.Store(true) })

	err := lc.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `"listener"`)
	assert.True(t, stopped.Load())
}

func TestLifecycleStopOnlyComponents(t *testing.T) {
	logger := zaptest.NewLogger(t)
	lc := NewLifecycle(logger)

	var stops atomic.Int32
	lc.Add("manager", nil, func() { stops.Add(1) })
	lc.Add("pool", nil, func() { stops.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := lc.Run(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int32(2), stops.Load())
}
