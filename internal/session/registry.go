package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ExpireFunc is called once when a session's time budget runs out.
type ExpireFunc func(ctx context.Context, m *Machine)

// Registry holds one Machine per user, restored on first access. Each
// machine gets a timer goroutine that lives until Close.
type Registry struct {
	persist  Persister
	opts     []Option
	interval time.Duration
	onExpire ExpireFunc

	mu       sync.Mutex
	machines map[string]*Machine
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewRegistry creates a Registry. A zero interval ticks every second.
func NewRegistry(p Persister, interval time.Duration, onExpire ExpireFunc, opts ...Option) *Registry {
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		persist:  p,
		opts:     opts,
		interval: interval,
		onExpire: onExpire,
		machines: make(map[string]*Machine),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Get returns the machine for userID, restoring persisted state on first use.
// Restore runs without the registry lock, so a slow load only delays its own
// user. When two calls race on a new user, the first inserted machine wins.
func (r *Registry) Get(ctx context.Context, userID string) (*Machine, error) {
	r.mu.Lock()
	m, ok := r.machines[userID]
	r.mu.Unlock()
	if ok {
		return m, nil
	}

	fresh := New(userID, r.persist, r.opts...)
	if err := fresh.Restore(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.machines[userID]; ok {
		return m, nil
	}
	r.machines[userID] = fresh

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fresh.RunTimer(r.ctx, r.interval, func(ctx context.Context) {
			if r.onExpire != nil {
				r.onExpire(ctx, fresh)
			}
		})
	}()
	slog.Debug("session machine created", "user", userID, "state", fresh.State().String())
	return fresh, nil
}

// Close stops every timer and waits for them to exit.
func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
}
