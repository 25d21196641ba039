package breaker

import (
	"sync"
	"time"
)

const (
	defaultReapInterval = 30 * time.Second
	defaultTTL          = 30 * time.Minute
)

// Registry holds one breaker per route path, created lazily on first
// report. Entries for routes that stop seeing traffic are reaped after a
// TTL so deleted routes do not accumulate state forever.
type Registry struct {
	mu           sync.Mutex
	breakers     map[string]*entry
	config       Config
	reapInterval time.Duration
	ttl          time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
	onTransition func(routePath string, state State)
}

type entry struct {
	breaker  *Breaker
	lastSeen time.Time
}

func NewRegistry(cfg Config, reapInterval, ttl time.Duration) *Registry {
	if reapInterval <= 0 {
		reapInterval = defaultReapInterval
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	r := &Registry{
		breakers:     make(map[string]*entry),
		config:       cfg.withDefaults(),
		reapInterval: reapInterval,
		ttl:          ttl,
		stopCh:       make(chan struct{}),
	}
	go r.reapLoop()
	return r
}

// SetOnTransition registers a hook invoked after every report with the
// breaker's resulting state. Used for metrics; may be unset.
func (r *Registry) SetOnTransition(fn func(routePath string, state State)) {
	r.mu.Lock()
	r.onTransition = fn
	r.mu.Unlock()
}

// Report records a dispatch outcome for the route path.
func (r *Registry) Report(routePath string, success bool) {
	if r == nil || routePath == "" {
		return
	}
	b, hook := r.ensure(routePath)
	state := b.Report(success)
	if hook != nil {
		hook(routePath, state)
	}
}

// StateOf returns the current state for a route path. Unknown paths are
// closed.
func (r *Registry) StateOf(routePath string) State {
	r.mu.Lock()
	e := r.breakers[routePath]
	r.mu.Unlock()
	if e == nil {
		return StateClosed
	}
	return e.breaker.CurrentState()
}

// Stop terminates the reap loop.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Registry) ensure(routePath string) (*Breaker, func(string, State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.breakers[routePath]
	if e == nil {
		e = &entry{breaker: New(r.config)}
		r.breakers[routePath] = e
	}
	e.lastSeen = time.Now()
	return e.breaker, r.onTransition
}

func (r *Registry) reapLoop() {
	ticker := time.NewTicker(r.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.reap(time.Now())
		}
	}
}

func (r *Registry) reap(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for path, e := range r.breakers {
		if now.Sub(e.lastSeen) > r.ttl {
			delete(r.breakers, path)
		}
	}
}
