package runstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrExhausted marks a poll loop that hit its attempt ceiling without
	// seeing a terminal status.
	ErrExhausted = errors.New("runstate: poll attempts exhausted")

	// ErrUnavailable marks an agent that failed too many consecutive
	// status fetches.
	ErrUnavailable = errors.New("runstate: agent unavailable")
)

// StatusFunc fetches the agent's current status.
type StatusFunc func(ctx context.Context) (Status, error)

// Poller watches a run until it terminates. It tolerates a bounded stretch
// of consecutive idle reads (the agent may not have picked the export up
// yet) and a bounded stretch of consecutive fetch failures, and gives up
// after a fixed number of attempts.
type Poller struct {
	fetch            StatusFunc
	interval         time.Duration
	maxAttempts      int
	idleGrace        int
	unavailableLimit int
	log              *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

type PollerOption func(*Poller)

func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

func WithMaxAttempts(n int) PollerOption {
	return func(p *Poller) { p.maxAttempts = n }
}

// WithIdleGrace sets how many consecutive idle reads end the watch.
func WithIdleGrace(n int) PollerOption {
	return func(p *Poller) { p.idleGrace = n }
}

// WithUnavailableLimit sets how many consecutive fetch failures end the
// watch.
func WithUnavailableLimit(n int) PollerOption {
	return func(p *Poller) { p.unavailableLimit = n }
}

func WithPollerLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) { p.log = l }
}

func NewPoller(fetch StatusFunc, opts ...PollerOption) *Poller {
	p := &Poller{
		fetch:            fetch,
		interval:         2 * time.Second,
		maxAttempts:      150,
		idleGrace:        3,
		unavailableLimit: 15,
		log:              slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until a terminal status, an idle drain, an unavailable drain,
// exhaustion, or context cancellation. It returns the final observed
// status; for the drain and exhaustion outcomes the error tells which
// ceiling was hit.
func (p *Poller) Run(ctx context.Context) (Status, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var (
		attempts    int
		idle        int
		unavailable int
		last        Status
	)
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}

		attempts++
		if attempts > p.maxAttempts {
			return last, ErrExhausted
		}

		st, err := p.fetch(ctx)
		if err != nil {
			unavailable++
			p.log.Debug("runstate: status fetch failed", "attempt", attempts, "consecutive", unavailable, "error", err)
			if unavailable >= p.unavailableLimit {
				return last, fmt.Errorf("%w after %d consecutive failures: %v", ErrUnavailable, unavailable, err)
			}
			continue
		}
		unavailable = 0
		last = st

		switch st {
		case StatusSuccess, StatusError:
			return st, nil
		case StatusIdle:
			idle++
			if idle >= p.idleGrace {
				return st, nil
			}
		default:
			idle = 0
		}
	}
}

// Watch starts a background poll, cancelling any poll already in flight:
// a fresh export supersedes the previous watch. done is called with the
// outcome unless the watch was itself superseded or stopped.
func (p *Poller) Watch(ctx context.Context, done func(Status, error)) {
	ctx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = cancel
	p.mu.Unlock()

	go func() {
		st, err := p.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return
		}
		if done != nil {
			done(st, err)
		}
	}()
}

// Stop cancels any in-flight watch.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}
