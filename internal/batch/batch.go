package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var ErrStopped = errors.New("batcher stopped")

type Policy int

const (
	// Sum accumulates relative deltas.
	Sum Policy = iota
	// LastWrite keeps the latest absolute value.
	LastWrite
)

func (p Policy) String() string {
	switch p {
	case Sum:
		return "sum"
	case LastWrite:
		return "last-write"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Mutation is the coalesced value handed to a flush.
type Mutation struct {
	Key    string
	Policy Policy
	Delta  int
	Value  any
	// Edits counts the Batch calls folded into this mutation.
	Edits int
}

type FlushFunc func(ctx context.Context, m Mutation) error

// Update is one local edit. Scope names the serialization group (a team):
// Structural updates run alone within their scope, others share it.
type Update struct {
	Policy     Policy
	Window     time.Duration
	Delta      int
	Value      any
	Scope      string
	Structural bool
	// Done is called once per flush with its final outcome. The latest
	// Update's Done for a key wins.
	Done func(Mutation, error)
}

type Config struct {
	Attempts  uint
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// MaxInFlight caps concurrent flushes; 0 means unlimited.
	MaxInFlight int64
	// Retryable reports whether a failed flush should be retried. Nil
	// retries nothing.
	Retryable func(error) bool
	// RetryAfter returns the wait a retryable failure asked for, or zero to
	// use the backoff. Waits are capped at MaxDelay.
	RetryAfter func(error) time.Duration
}

func DefaultConfig() Config {
	return Config{
		Attempts:  3,
		BaseDelay: 250 * time.Millisecond,
		MaxDelay:  4 * time.Second,
	}
}

type pending struct {
	m          Mutation
	window     time.Duration
	scope      string
	structural bool
	flush      FlushFunc
	done       func(Mutation, error)
	timer      *time.Timer
}

type Batcher struct {
	cfg    Config
	log    *zap.Logger
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	stopped  bool
	pending  map[string]*pending
	inflight map[string]chan struct{}
	scopes   map[string]*sync.RWMutex
}

func New(parent context.Context, cfg Config, log *zap.Logger) *Batcher {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	ctx, cancel := context.WithCancel(parent)
	b := &Batcher{
		cfg:      cfg,
		log:      log.Named("batch"),
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]*pending),
		inflight: make(map[string]chan struct{}),
		scopes:   make(map[string]*sync.RWMutex),
	}
	if cfg.MaxInFlight > 0 {
		b.sem = semaphore.NewWeighted(cfg.MaxInFlight)
	}
	return b
}

// Batch folds u into the pending mutation for key and restarts the key's
// coalescing window. When the window elapses without another call, flush
// runs once with the coalesced mutation.
func (b *Batcher) Batch(key string, u Update, flush FlushFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return ErrStopped
	}

	p := b.pending[key]
	if p == nil {
		p = &pending{m: Mutation{Key: key, Policy: u.Policy}}
		b.pending[key] = p
		p.timer = time.AfterFunc(u.Window, func() { b.fire(key, p) })
	} else {
		p.timer.Reset(u.Window)
	}

	switch u.Policy {
	case Sum:
		p.m.Delta += u.Delta
	case LastWrite:
		p.m.Value = u.Value
	}
	p.m.Policy = u.Policy
	p.m.Edits++
	p.window = u.Window
	p.scope = u.Scope
	p.structural = p.structural || u.Structural
	p.flush = flush
	if u.Done != nil {
		p.done = u.Done
	}
	return nil
}

// Pending reports whether key has an unflushed mutation.
func (b *Batcher) Pending(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[key]
	return ok
}

// Flush sends every pending mutation now and waits for them. It returns the
// first flush error.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	results := make([]<-chan error, 0, len(b.pending))
	for key, p := range b.pending {
		p.timer.Stop()
		delete(b.pending, key)
		results = append(results, b.dispatchLocked(key, p))
	}
	b.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, res := range results {
		g.Go(func() error {
			select {
			case err := <-res:
				return err
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	return g.Wait()
}

// Stop cancels every coalescing timer, drops pending mutations, aborts
// in-flight retries and waits for senders to return. It reports how many
// pending mutations were dropped.
func (b *Batcher) Stop() int {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return 0
	}
	b.stopped = true
	dropped := len(b.pending)
	for key, p := range b.pending {
		p.timer.Stop()
		delete(b.pending, key)
	}
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	if dropped > 0 {
		b.log.Warn("dropped pending mutations", zap.Int("count", dropped))
	}
	return dropped
}

func (b *Batcher) fire(key string, p *pending) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// A reset timer can fire once more after its mutation was taken.
	if b.pending[key] != p {
		return
	}
	delete(b.pending, key)
	b.dispatchLocked(key, p)
}

// dispatchLocked starts the send for p behind any earlier send for the same
// key, so at most one request per key is in flight and they go out in order.
func (b *Batcher) dispatchLocked(key string, p *pending) <-chan error {
	prev := b.inflight[key]
	done := make(chan struct{})
	b.inflight[key] = done
	res := make(chan error, 1)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if prev != nil {
			<-prev
		}
		err := b.send(p)
		if p.done != nil {
			p.done(p.m, err)
		}

		b.mu.Lock()
		if b.inflight[key] == done {
			delete(b.inflight, key)
		}
		b.mu.Unlock()
		close(done)
		res <- err
	}()
	return res
}

func (b *Batcher) send(p *pending) error {
	m := p.m
	if m.Policy == Sum && m.Delta == 0 {
		b.log.Debug("skipping net-zero mutation", zap.String("key", m.Key), zap.Int("edits", m.Edits))
		return nil
	}

	if p.scope != "" {
		lock := b.scopeLock(p.scope)
		if p.structural {
			lock.Lock()
			defer lock.Unlock()
		} else {
			lock.RLock()
			defer lock.RUnlock()
		}
	}

	if b.sem != nil {
		if err := b.sem.Acquire(b.ctx, 1); err != nil {
			return fmt.Errorf("flush %s: %w", m.Key, err)
		}
		defer b.sem.Release(1)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.cfg.BaseDelay
	eb.MaxInterval = b.cfg.MaxDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.5

	var last error
	_, err := backoff.Retry(b.ctx, func() (struct{}, error) {
		err := p.flush(b.ctx, m)
		if err == nil {
			return struct{}{}, nil
		}
		last = err
		if b.cfg.Retryable == nil || !b.cfg.Retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		if wait := b.retryAfter(err); wait > 0 {
			b.log.Debug("backend asked to wait", zap.String("key", m.Key), zap.Duration("wait", wait), zap.Error(err))
			return struct{}{}, &backoff.RetryAfterError{Duration: wait}
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(b.cfg.Attempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			b.log.Debug("retrying flush", zap.String("key", m.Key), zap.Duration("wait", wait), zap.Error(err))
		}),
	)
	// A RetryAfterError carries no cause; report the backend's error instead.
	var ra *backoff.RetryAfterError
	if errors.As(err, &ra) && last != nil {
		err = last
	}
	if err != nil {
		b.log.Warn("flush failed", zap.String("key", m.Key), zap.Stringer("policy", m.Policy), zap.Error(err))
		return fmt.Errorf("flush %s: %w", m.Key, err)
	}
	return nil
}

func (b *Batcher) retryAfter(err error) time.Duration {
	if b.cfg.RetryAfter == nil {
		return 0
	}
	wait := b.cfg.RetryAfter(err)
	if b.cfg.MaxDelay > 0 && wait > b.cfg.MaxDelay {
		wait = b.cfg.MaxDelay
	}
	return wait
}

func (b *Batcher) scopeLock(scope string) *sync.RWMutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.scopes[scope]
	if !ok {
		l = &sync.RWMutex{}
		b.scopes[scope] = l
	}
	return l
}
