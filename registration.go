package hound

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aca-labs/hound-dog/dlog"
)

// Config identifies the single (service, name, uri) binding a
// Registration owns, mirroring the teacher's RegisterOptions.
type Config struct {
	Store     Store
	Log       *dlog.Logger
	Namespace string
	Service   string
	Name      string
	URI       string
}

// Registration is the Registration Engine of spec.md §4.1: it owns one
// Service Binding, runs its keep-alive loop, and publishes adopted lease
// ids on Signal.
type Registration struct {
	store    Store
	retrying Store
	log      *dlog.Logger

	namespace string
	service   string
	name      string
	uri       string
	nodeKey   string

	mu            sync.Mutex
	registered    bool
	leaseID       int64
	signal        chan int64
	signalClosed  bool
	stopKeepAlive chan struct{}

	monitorMu sync.Mutex
	watch     WatchHandle
}

// New validates the identifiers and constructs a fresh, unregistered
// binding. Construction has no side effects on the store (spec.md §3
// Lifecycle); call Register to acquire a lease.
func New(cfg Config) (*Registration, error) {
	if err := validateSegment(cfg.Namespace); err != nil {
		return nil, fmt.Errorf("namespace %q: %w", cfg.Namespace, err)
	}
	if err := validateSegment(cfg.Service); err != nil {
		return nil, fmt.Errorf("service %q: %w", cfg.Service, err)
	}
	node, err := NewNode(cfg.Name, cfg.URI)
	if err != nil {
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = dlog.Noop()
	}

	return &Registration{
		store:     cfg.Store,
		retrying:  retryingStore{inner: cfg.Store},
		log:       log,
		namespace: cfg.Namespace,
		service:   cfg.Service,
		name:      cfg.Name,
		uri:       node.URI.String(),
		nodeKey:   nodeKey(cfg.Namespace, cfg.Service, cfg.Name),
		signal:    make(chan int64, 1),
	}, nil
}

// Registered reports whether the binding currently believes it holds a
// live lease.
func (r *Registration) Registered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered
}

// Signal returns the channel successive adopted lease ids are posted
// to. It is a single-slot buffered rendezvous: a consumer that isn't
// reading when an id is emitted may miss it, but will always see the
// most recently emitted id that hasn't been drained, per the
// permitted refinement in spec.md §9.
func (r *Registration) Signal() <-chan int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.signal
}

// Register is idempotent: if already Registered it returns immediately.
// Otherwise it adopts an existing lease bound to this node's key with a
// matching value, or grants a fresh one, then starts the keep-alive
// loop (spec.md §4.1).
func (r *Registration) Register(ctx context.Context, ttlSeconds int64) error {
	if ttlSeconds < 1 {
		return fmt.Errorf("hound: ttl must be >= 1 second")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.registered {
		return nil
	}

	if r.signalClosed {
		r.signal = make(chan int64, 1)
		r.signalClosed = false
	}

	existing, err := r.store.Range(ctx, r.nodeKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnreachable, err)
	}

	var leaseID, ttl int64
	if len(existing) == 1 && existing[0].Value == r.uri && existing[0].Lease != 0 {
		// Adopt: another process (or a previous run of this one)
		// already holds nodeKey with our value under a live lease.
		leaseID = existing[0].Lease
		ttl = ttlSeconds
		r.log.Info("adopted existing lease", zap.String("key", r.nodeKey), zap.Int64("lease", leaseID))
	} else {
		grant, err := r.store.Grant(ctx, ttlSeconds)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnreachable, err)
		}
		ok, err := r.store.Put(ctx, r.nodeKey, r.uri, grant.ID)
		if err != nil || !ok {
			return fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
		}
		leaseID = grant.ID
		ttl = grant.TTL
		r.log.Info("registered new lease", zap.String("key", r.nodeKey), zap.Int64("lease", leaseID))
	}

	r.leaseID = leaseID
	r.registered = true
	r.sendSignal(leaseID)

	stop := make(chan struct{})
	r.stopKeepAlive = stop
	go r.keepAlive(ttl, stop)

	return nil
}

// Unregister revokes the lease and clears local state. It is idempotent:
// calling it with no active lease is a no-op. On failure, local state is
// left Registered so a retried Unregister is meaningful (spec.md §7,
// §9 open question #1).
func (r *Registration) Unregister(ctx context.Context) error {
	r.mu.Lock()
	if !r.registered {
		r.mu.Unlock()
		return nil
	}
	leaseID := r.leaseID
	stop := r.stopKeepAlive
	r.mu.Unlock()

	ok, err := r.retrying.Revoke(ctx, leaseID)
	if err != nil || !ok {
		r.log.Error("unregister failed, leaving binding registered", zap.Int64("lease", leaseID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnregisterFailed, err)
	}

	r.mu.Lock()
	r.registered = false
	r.leaseID = 0
	if !r.signalClosed {
		close(r.signal)
		r.signalClosed = true
	}
	r.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	r.log.Info("unregistered", zap.String("key", r.nodeKey), zap.Int64("lease", leaseID))
	return nil
}

// Monitor begins a watch on the service prefix, delivering each Event to
// handler synchronously. Calling Monitor again replaces the previous
// watch; the old one is stopped first (spec.md §4.4).
func (r *Registration) Monitor(ctx context.Context, handler func(Event)) error {
	r.monitorMu.Lock()
	defer r.monitorMu.Unlock()

	if r.watch != nil {
		r.watch.Stop()
		r.watch = nil
	}

	h, err := Watch(ctx, r.store, r.namespace, r.service, handler, r.log)
	if err != nil {
		return err
	}
	r.watch = h
	return nil
}

// Unmonitor stops the current watch, if any, and forgets it.
func (r *Registration) Unmonitor() {
	r.monitorMu.Lock()
	defer r.monitorMu.Unlock()

	if r.watch != nil {
		r.watch.Stop()
		r.watch = nil
	}
}

// sendSignal posts id on the registration channel without blocking. If
// the slot still holds an undrained id, that older id is replaced by
// this one; if the channel has been closed concurrently by Unregister,
// the resulting panic is swallowed.
func (r *Registration) sendSignal(id int64) {
	defer func() { recover() }()
	select {
	case r.signal <- id:
	default:
		select {
		case <-r.signal:
		default:
		}
		select {
		case r.signal <- id:
		default:
		}
	}
}

// keepAlive is the renewal loop of spec.md §4.1.1. It wakes every
// ttl/3 seconds, re-grants the lease if the store rejected the last
// renewal or the tick fired so late the lease must be presumed expired,
// and otherwise renews in place. It only exits when stop is closed by
// Unregister.
func (r *Registration) keepAlive(ttl int64, stop chan struct{}) {
	interval := ttlInterval(ttl)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		start := time.Now()
		select {
		case <-timer.C:
		case <-stop:
			return
		}

		r.mu.Lock()
		live := r.registered
		leaseID := r.leaseID
		r.mu.Unlock()
		if !live {
			return
		}

		elapsed := time.Since(start)
		switch {
		case elapsed > time.Duration(ttl)*time.Second:
			r.log.Warn("keepalive tick overslept the lease ttl, presuming expiry",
				zap.Duration("elapsed", elapsed), zap.Int64("ttl", ttl))
			ttl = r.renewFresh(context.Background(), ttl, leaseID)
		default:
			ttl = r.renewTick(context.Background(), ttl, leaseID)
		}

		timer.Reset(ttlInterval(ttl))
	}
}

// renewTick calls KeepAlive once for the current tick. A transient error
// is logged and the loop continues unchanged, so the next tick retries
// (spec.md §7's "log and continue"); an explicit rejection (ok=false)
// is lease loss and triggers renewFresh.
func (r *Registration) renewTick(ctx context.Context, ttl, leaseID int64) int64 {
	newTTL, ok, err := r.store.KeepAlive(ctx, leaseID)
	if err != nil {
		r.log.Warn("keepalive tick failed, retrying next tick", zap.Error(err))
		return ttl
	}
	if !ok {
		r.log.Warn("lease rejected by keepalive, re-registering", zap.Int64("lease", leaseID))
		return r.renewFresh(ctx, ttl, leaseID)
	}
	return newTTL
}

// renewFresh re-grants the lease and re-puts nodeKey, emitting the new
// lease id on the registration channel in adoption order (spec.md §7
// "Lease loss during keep-alive").
func (r *Registration) renewFresh(ctx context.Context, ttl, oldLeaseID int64) int64 {
	grant, err := r.store.Grant(ctx, ttl)
	if err != nil {
		r.log.Error("re-grant after lease loss failed, retrying next tick", zap.Error(err))
		return ttl
	}
	ok, err := r.store.Put(ctx, r.nodeKey, r.uri, grant.ID)
	if err != nil || !ok {
		r.log.Error("re-put after lease loss failed, retrying next tick", zap.Error(err))
		return ttl
	}

	r.mu.Lock()
	if !r.registered {
		r.mu.Unlock()
		return ttl
	}
	r.leaseID = grant.ID
	r.mu.Unlock()

	r.sendSignal(grant.ID)
	r.log.Info("re-registered after lease loss",
		zap.Int64("old_lease", oldLeaseID), zap.Int64("new_lease", grant.ID))
	return grant.TTL
}

// ttlInterval gives three keep-alive opportunities per TTL window
// (spec.md §4.1.1's retryInterval = ttl/3 rationale).
func ttlInterval(ttl int64) time.Duration {
	interval := time.Duration(ttl) * time.Second / 3
	if interval <= 0 {
		return time.Second
	}
	return interval
}
