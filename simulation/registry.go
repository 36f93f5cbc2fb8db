package simulation

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sync/semaphore"
)

// session owns one context. The semaphore grants exclusive use of it;
// closed is only read or written while holding the semaphore.
type session struct {
	id      uuid.UUID
	engine  Engine
	lock    *semaphore.Weighted
	closed  bool
	created time.Time
}

// Registry keeps the live stateful simulations of the process.
type Registry struct {
	factory  EngineFactory
	sessions *xsync.MapOf[uuid.UUID, *session]
}

// NewRegistry creates an empty registry building contexts with factory.
func NewRegistry(factory EngineFactory) *Registry {
	return &Registry{
		factory:  factory,
		sessions: xsync.NewMapOf[uuid.UUID, *session](),
	}
}

// Create opens a context and registers it under a fresh id.
func (r *Registry) Create(ctx context.Context, opts ContextOptions) (uuid.UUID, error) {
	evm, err := openContext(ctx, r.factory, opts)
	if err != nil {
		return uuid.Nil, err
	}
	s := &session{
		id:      uuid.New(),
		engine:  evm,
		lock:    semaphore.NewWeighted(1),
		created: time.Now(),
	}
	r.sessions.Store(s.id, s)

	sessionCreateMeter.Mark(1)
	sessionGauge.Inc(1)
	log.Info("Created stateful simulation", "id", s.id, "chain", opts.ChainID, "block", evm.Block())
	return s.id, nil
}

// Handle is exclusive access to a session context. It must be released.
type Handle struct {
	s    *session
	once sync.Once
}

// Engine returns the context. It must not be used after Release.
func (h *Handle) Engine() Engine {
	return h.s.engine
}

// Release gives up the exclusive access. Releasing twice is a no-op.
func (h *Handle) Release() {
	h.once.Do(func() { h.s.lock.Release(1) })
}

// Acquire waits for exclusive access to a session. It fails with
// ErrSessionNotFound if the session does not exist or is destroyed while
// waiting, and with the context's error if ctx ends first.
func (r *Registry) Acquire(ctx context.Context, id uuid.UUID) (*Handle, error) {
	s, ok := r.sessions.Load(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.acquire(ctx)
}

func (s *session) acquire(ctx context.Context) (*Handle, error) {
	start := time.Now()
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	sessionWaitTimer.UpdateSince(start)
	if s.closed {
		s.lock.Release(1)
		return nil, ErrSessionNotFound
	}
	return &Handle{s: s}, nil
}

// Destroy removes a session and reports whether it existed. The context is
// closed once the current holder, if any, releases it; the session cannot
// be acquired anymore as soon as Destroy starts.
func (r *Registry) Destroy(id uuid.UUID) bool {
	s, ok := r.sessions.LoadAndDelete(id)
	if !ok {
		return false
	}
	// Acquire with a background context cannot fail.
	_ = s.lock.Acquire(context.Background(), 1)
	s.closed = true
	s.engine.Close()
	s.lock.Release(1)

	sessionDestroyMeter.Mark(1)
	sessionGauge.Dec(1)
	log.Info("Ended stateful simulation", "id", id, "age", common.PrettyAge(s.created))
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.sessions.Size()
}

// Close destroys every session.
func (r *Registry) Close() {
	var ids []uuid.UUID
	r.sessions.Range(func(id uuid.UUID, _ *session) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		r.Destroy(id)
	}
	if len(ids) > 0 {
		log.Info("Closed stateful simulations", "count", len(ids))
	}
}
