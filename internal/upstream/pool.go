package upstream

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	DefaultPoolCapacity  = 50
	DefaultIdleTimeout   = 5 * time.Minute
	DefaultSweepInterval = time.Minute
)

// PooledConnection is a memoized descriptor plus its usage counters.
type PooledConnection struct {
	Provider     *ResolvedProvider
	LastUsed     time.Time
	RequestCount int
}

// Pool memoizes Resolve results by provider name. When full it evicts the
// least recently used entry; a background sweep drops entries idle longer than
// the idle timeout and exits once the pool is empty.
//
// The mutex only guards map access. Resolution happens outside it, so two
// concurrent misses on one name both resolve and the last insert wins.
type Pool struct {
	resolver      Resolver
	logger        *slog.Logger
	capacity      int
	idleTimeout   time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	mu        sync.Mutex
	entries   map[string]*PooledConnection
	stopSweep chan struct{}
}

type PoolOption func(*Pool)

func WithCapacity(n int) PoolOption {
	return func(p *Pool) { p.capacity = n }
}

func WithIdleTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.idleTimeout = d }
}

func WithSweepInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.sweepInterval = d }
}

func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

func NewPool(resolver Resolver, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		resolver:      resolver,
		logger:        logger,
		capacity:      DefaultPoolCapacity,
		idleTimeout:   DefaultIdleTimeout,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		entries:       make(map[string]*PooledConnection),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *Pool) Resolve(name string) (*ResolvedProvider, error) {
	p.mu.Lock()
	if entry, ok := p.entries[name]; ok {
		entry.LastUsed = p.now()
		entry.RequestCount++
		provider := entry.Provider
		p.mu.Unlock()
		return provider, nil
	}
	p.mu.Unlock()

	provider, err := p.resolver.Resolve(name)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[name]; !exists && len(p.entries) >= p.capacity {
		p.evictOldestLocked()
	}

	p.entries[name] = &PooledConnection{
		Provider:     provider,
		LastUsed:     p.now(),
		RequestCount: 1,
	}
	p.startSweepLocked()

	return provider, nil
}

// evictOldestLocked drops the entry with the smallest LastUsed, regardless of
// insertion order.
func (p *Pool) evictOldestLocked() {
	var (
		oldestName string
		oldestTime time.Time
	)

	for name, entry := range p.entries {
		if oldestName == "" || entry.LastUsed.Before(oldestTime) {
			oldestName = name
			oldestTime = entry.LastUsed
		}
	}

	if oldestName != "" {
		delete(p.entries, oldestName)
		p.logger.Debug("Evicted pooled provider", "provider", oldestName, "reason", "capacity")
	}
}

func (p *Pool) startSweepLocked() {
	if p.stopSweep != nil {
		return
	}

	stop := make(chan struct{})
	p.stopSweep = stop

	go p.sweepLoop(stop)
}

func (p *Pool) sweepLoop(stop chan struct{}) {
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.EvictIdle()

			p.mu.Lock()
			if len(p.entries) == 0 && p.stopSweep == stop {
				p.stopSweep = nil
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
		}
	}
}

// EvictIdle removes entries unused for longer than the idle timeout and
// returns their names.
func (p *Pool) EvictIdle() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var evicted []string

	for name, entry := range p.entries {
		if now.Sub(entry.LastUsed) > p.idleTimeout {
			delete(p.entries, name)
			evicted = append(evicted, name)
		}
	}

	if len(evicted) > 0 {
		sort.Strings(evicted)
		p.logger.Debug("Evicted idle pooled providers", "providers", evicted)
	}

	return evicted
}

func (p *Pool) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.entries, name)
}

// Clear empties the pool and stops the sweep.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.entries = make(map[string]*PooledConnection)
	if p.stopSweep != nil {
		close(p.stopSweep)
		p.stopSweep = nil
	}
}

func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.entries)
}

// Sweeping reports whether the idle sweep goroutine is running.
func (p *Pool) Sweeping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stopSweep != nil
}

// Entries returns a copy of the pooled entries keyed by provider name.
func (p *Pool) Entries() map[string]PooledConnection {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]PooledConnection, len(p.entries))
	for name, entry := range p.entries {
		out[name] = *entry
	}

	return out
}
