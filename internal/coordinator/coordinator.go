// Package coordinator provides a shared poll-and-fan-out helper for
// cloud integrations.
//
// A Coordinator owns one fetch function and a refresh interval. Many
// entities subscribe as listeners and receive every successful result,
// so one API call feeds all of them. Failed fetches are retried with
// doubling backoff before the coordinator marks its data unavailable.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
)

// Failed-fetch retry schedule, applied within one refresh cycle.
const (
	fetchRetryAttempts = 3
	fetchRetryDelay    = 2 * time.Second
)

// Logger defines the logging interface used by the Coordinator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Coordinator polls a data source and fans results out to listeners.
//
// All public methods are thread-safe. Listeners are invoked on the
// coordinator's refresh goroutine and must not block.
type Coordinator[T any] struct {
	name     string
	interval time.Duration
	fetch    func(ctx context.Context) (T, error)
	clock    clock.Clock
	logger   Logger

	mu        sync.Mutex
	data      T
	hasData   bool
	available bool
	listeners map[int]func(data T, available bool)
	nextID    int

	stop     chan struct{}
	stopOnce sync.Once
	started  bool
	done     chan struct{}
}

// New creates a coordinator.
//
// Parameters:
//   - name: used in log lines ("olarm", "vaillant")
//   - interval: time between successful refreshes
//   - fetch: retrieves a fresh snapshot of the remote data
//   - clk: defaults to the wall clock when nil
func New[T any](name string, interval time.Duration, fetch func(ctx context.Context) (T, error), clk clock.Clock) *Coordinator[T] {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Coordinator[T]{
		name:      name,
		interval:  interval,
		fetch:     fetch,
		clock:     clk,
		logger:    noopLogger{},
		listeners: make(map[int]func(T, bool)),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger for the coordinator.
func (c *Coordinator[T]) SetLogger(logger Logger) {
	c.logger = logger
}

// AddListener registers a callback for refresh results and returns an
// unsubscribe function. If data is already present the listener is
// invoked immediately with the current snapshot.
func (c *Coordinator[T]) AddListener(fn func(data T, available bool)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	hasData, data, available := c.hasData, c.data, c.available
	c.mu.Unlock()

	if hasData {
		fn(data, available)
	}

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Data returns the latest snapshot and whether the source is reachable.
func (c *Coordinator[T]) Data() (data T, available bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data, c.available && c.hasData
}

// Refresh fetches once, retrying transient failures, and notifies
// listeners. On persistent failure the coordinator flips to
// unavailable and the error is returned.
func (c *Coordinator[T]) Refresh(ctx context.Context) error {
	var data T
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			var ferr error
			data, ferr = c.fetch(ctx)
			return ferr
		},
		IsFatalError: func(err error) bool {
			return ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			c.logger.Warn("fetch failed",
				"coordinator", c.name, "attempt", attempt, "error", err)
		},
		Attempts:    fetchRetryAttempts,
		Delay:       fetchRetryDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       c.clock,
		Stop:        c.stop,
	})

	if err != nil {
		c.markUnavailable()
		return err
	}

	c.mu.Lock()
	c.data = data
	c.hasData = true
	c.available = true
	fns := c.snapshotListeners()
	c.mu.Unlock()

	for _, fn := range fns {
		fn(data, true)
	}
	return nil
}

// markUnavailable flips availability off and notifies listeners once.
func (c *Coordinator[T]) markUnavailable() {
	c.mu.Lock()
	wasAvailable := c.available
	c.available = false
	data := c.data
	fns := c.snapshotListeners()
	c.mu.Unlock()

	if !wasAvailable {
		return
	}
	c.logger.Warn("source unavailable", "coordinator", c.name)
	for _, fn := range fns {
		fn(data, false)
	}
}

// snapshotListeners copies the listener set; callers hold c.mu.
func (c *Coordinator[T]) snapshotListeners() []func(T, bool) {
	fns := make([]func(T, bool), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	return fns
}

// Start performs an initial refresh and then polls on the interval
// until Stop is called. The initial refresh error is returned so
// integration setup can surface it; the background loop keeps running
// regardless.
func (c *Coordinator[T]) Start(ctx context.Context) error {
	err := c.Refresh(ctx)

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		for {
			select {
			case <-c.stop:
				return
			case <-c.clock.After(c.interval):
				ctx, cancel := context.WithTimeout(context.Background(), c.interval)
				if rerr := c.Refresh(ctx); rerr != nil {
					c.logger.Warn("scheduled refresh failed",
						"coordinator", c.name, "error", rerr)
				}
				cancel()
			}
		}
	}()

	return err
}

// Stop halts the polling loop and waits for it to exit.
func (c *Coordinator[T]) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.done
	}
}
