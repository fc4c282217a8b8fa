// Package server coordinates the long-lived parts of the battle server
// process: the HTTP listener, the session manager, and the database pool.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// RunFunc drives a component until the context is cancelled. A non-nil
// return brings the whole process down.
type RunFunc func(ctx context.Context) error

// StopFunc releases a component's resources during shutdown.
type StopFunc func()

type component struct {
	name string
	run  RunFunc
	stop StopFunc
}

// Lifecycle starts registered components together and tears them down in
// reverse registration order on the first failure, signal, or context
// cancellation.
type Lifecycle struct {
	logger     *zap.Logger
	components []component
}

func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{logger: logger}
}

// Add registers a component under name. run may be nil for components
// that only need teardown, such as the database pool and the session
// manager; stop may be nil for pure runners.
//
// Precondition: Run has not been called yet.
func (l *Lifecycle) Add(name string, run RunFunc, stop StopFunc) {
	l.components = append(l.components, component{name: name, run: run, stop: stop})
}

// Run starts every registered runner and blocks until one of them fails,
// the process receives SIGINT or SIGTERM, or ctx is cancelled. It then
// stops all components in reverse registration order and returns the
// failure that triggered shutdown, if any.
//
// Postcondition: every registered StopFunc has been invoked exactly once.
func (l *Lifecycle) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(l.components))
	var wg sync.WaitGroup

	for _, c := range l.components {
		if c.run == nil {
			continue
		}
		l.logger.Info("component starting", zap.String("component", c.name))
		wg.Add(1)
		go func(c component) {
			defer wg.Done()
			if err := c.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("component %q: %w", c.name, err)
			}
		}(c)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var failure error
	select {
	case sig := <-sigCh:
		l.logger.Info("signal received", zap.String("signal", sig.String()))
	case failure = <-errCh:
		l.logger.Error("component failed", zap.Error(failure))
	case <-ctx.Done():
		l.logger.Info("context cancelled")
	}

	cancel()
	l.shutdown()
	wg.Wait()
	return failure
}

func (l *Lifecycle) shutdown() {
	for i := len(l.components) - 1; i >= 0; i-- {
		c := l.components[i]
		if c.stop == nil {
			continue
		}
		begin := time.Now()
		c.stop()
		l.logger.Info("component stopped",
			zap.String("component", c.name),
			zap.Duration("took", time.Since(begin)),
		)
	}
}
