package hound

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/aca-labs/hound-dog/backoff"
	"github.com/aca-labs/hound-dog/dlog"
)

// KV is the opaque key/value/lease triple the store returns from range
// reads (spec.md §3 Store KV).
type KV struct {
	Key   string
	Value string
	Lease int64
}

// LeaseGrant is what Grant returns: the lease id and the TTL the store
// actually granted (which may differ from what was requested).
type LeaseGrant struct {
	ID  int64
	TTL int64
}

// EventType distinguishes a watch event's kind.
type EventType int

const (
	EventPut EventType = iota
	EventDelete
)

func (t EventType) String() string {
	if t == EventDelete {
		return "DELETE"
	}
	return "PUT"
}

// WatchEvent is a single raw event off a prefix watch, before the
// Watch & Event Parser (watch.go) splits its key into namespace/service.
type WatchEvent struct {
	Key   string
	Value string
	Type  EventType
}

// WatchHandle is a live prefix subscription. Events are delivered in the
// store's emission order until Stop is called or the store closes the
// subscription, at which point Events' channel is closed.
type WatchHandle interface {
	Events() <-chan WatchEvent
	Stop()
}

// Store is the abstract contract spec.md §6 describes: KV put/range/
// delete with prefix, lease grant/keep-alive/revoke, and prefix watch.
// The Registration Engine, Namespace Query API and Watch & Event Parser
// only ever depend on this interface, never on *StoreClientAdapter or
// clientv3 directly.
type Store interface {
	Grant(ctx context.Context, ttlSeconds int64) (LeaseGrant, error)
	// KeepAlive reports the remaining TTL and ok=true on a successful
	// renewal; ok=false means the store rejected the lease (treat as
	// expired), matching the "nullable" KeepAlive result in spec.md §6.
	KeepAlive(ctx context.Context, leaseID int64) (ttlSeconds int64, ok bool, err error)
	Revoke(ctx context.Context, leaseID int64) (bool, error)
	Put(ctx context.Context, key, value string, leaseID int64) (bool, error)
	Range(ctx context.Context, key string) ([]KV, error)
	RangePrefix(ctx context.Context, prefix string) ([]KV, error)
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
	WatchPrefix(ctx context.Context, prefix string) (WatchHandle, error)
}

// StoreClientAdapter is the Store Client Adapter of spec.md §4.2: a thin
// facade over clientv3 that serializes every call behind one mutex (so
// Put/KeepAlive/Revoke from the Registration Engine never interleave
// over the shared transport) and lazily reconstructs the underlying
// client after any call fails, the way the teacher's
// RegisterService.recreateEtcdClient does in register.go.
type StoreClientAdapter struct {
	mu     sync.Mutex
	cfg    clientv3.Config
	client *clientv3.Client
	log    *dlog.Logger
}

// NewStoreClientAdapter builds an adapter around the given etcd config.
// The underlying client is constructed lazily on first use, same as the
// teacher's EtcdHandle; passing a nil logger is fine, a no-op logger is
// used instead.
func NewStoreClientAdapter(cfg clientv3.Config, log *dlog.Logger) *StoreClientAdapter {
	if log == nil {
		log = dlog.Noop()
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	cfg.DialOptions = append(cfg.DialOptions, grpc.WithBlock())
	return &StoreClientAdapter{cfg: cfg, log: log}
}

// WithRetry returns a Store whose calls are wrapped in the exponential
// backoff-with-jitter policy (backoff.Do) until they succeed or ctx is
// cancelled. Direct calls on the adapter remain single-attempt.
func (a *StoreClientAdapter) WithRetry() Store {
	return retryingStore{inner: a}
}

// Close releases the underlying client, if one has been constructed.
func (a *StoreClientAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	return err
}

// ensure returns the live client, lazily dialing one if the previous
// attempt failed and was discarded. Callers must hold a.mu.
func (a *StoreClientAdapter) ensure() (*clientv3.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	c, err := clientv3.New(a.cfg)
	if err != nil {
		return nil, err
	}
	a.client = c
	return c, nil
}

// discard drops the current client after an error so the next call
// reconnects from scratch. Callers must hold a.mu.
func (a *StoreClientAdapter) discard(cause error) {
	if a.client == nil {
		return
	}
	a.log.Warn("discarding etcd client after error", zap.Error(cause))
	_ = a.client.Close()
	a.client = nil
}

func (a *StoreClientAdapter) Grant(ctx context.Context, ttlSeconds int64) (LeaseGrant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.ensure()
	if err != nil {
		return LeaseGrant{}, err
	}
	resp, err := c.Grant(ctx, ttlSeconds)
	if err != nil {
		a.discard(err)
		return LeaseGrant{}, err
	}
	return LeaseGrant{ID: int64(resp.ID), TTL: resp.TTL}, nil
}

func (a *StoreClientAdapter) KeepAlive(ctx context.Context, leaseID int64) (int64, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.ensure()
	if err != nil {
		return 0, false, err
	}
	resp, err := c.KeepAliveOnce(ctx, clientv3.LeaseID(leaseID))
	if errors.Is(err, rpctypes.ErrLeaseNotFound) {
		return 0, false, nil
	}
	if err != nil {
		a.discard(err)
		return 0, false, err
	}
	if resp == nil || resp.TTL <= 0 {
		return 0, false, nil
	}
	return resp.TTL, true, nil
}

func (a *StoreClientAdapter) Revoke(ctx context.Context, leaseID int64) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.ensure()
	if err != nil {
		return false, err
	}
	if _, err := c.Revoke(ctx, clientv3.LeaseID(leaseID)); err != nil {
		a.discard(err)
		return false, err
	}
	return true, nil
}

func (a *StoreClientAdapter) Put(ctx context.Context, key, value string, leaseID int64) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.ensure()
	if err != nil {
		return false, err
	}

	var opts []clientv3.OpOption
	if leaseID != 0 {
		opts = append(opts, clientv3.WithLease(clientv3.LeaseID(leaseID)))
	}
	if _, err := c.Put(ctx, key, value, opts...); err != nil {
		a.discard(err)
		return false, err
	}
	return true, nil
}

func (a *StoreClientAdapter) Range(ctx context.Context, key string) ([]KV, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.ensure()
	if err != nil {
		return nil, err
	}
	resp, err := c.Get(ctx, key)
	if err != nil {
		a.discard(err)
		return nil, err
	}
	return toKVs(resp), nil
}

func (a *StoreClientAdapter) RangePrefix(ctx context.Context, prefix string) ([]KV, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.ensure()
	if err != nil {
		return nil, err
	}
	resp, err := c.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		a.discard(err)
		return nil, err
	}
	return toKVs(resp), nil
}

func (a *StoreClientAdapter) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.ensure()
	if err != nil {
		return 0, err
	}
	resp, err := c.Delete(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		a.discard(err)
		return 0, err
	}
	return resp.Deleted, nil
}

// WatchPrefix issues a clientv3 prefix watch and translates the
// delivery loop into a WatchHandle, the way the teacher's
// fapi.Client.watcher/builder.Resolver.watcher range over a
// clientv3.WatchChan.
func (a *StoreClientAdapter) WatchPrefix(ctx context.Context, prefix string) (WatchHandle, error) {
	a.mu.Lock()
	c, err := a.ensure()
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &watchHandle{
		events: make(chan WatchEvent, 16),
		cancel: cancel,
	}

	watchChan := c.Watch(ctx, prefix, clientv3.WithPrefix())
	go func() {
		defer close(h.events)
		for resp := range watchChan {
			if resp.Err() != nil {
				a.log.Warn("watch disconnected", zap.String("prefix", prefix), zap.Error(resp.Err()))
				return
			}
			for _, ev := range resp.Events {
				we := WatchEvent{Key: string(ev.Kv.Key)}
				if ev.Type == clientv3.EventTypeDelete {
					we.Type = EventDelete
				} else {
					we.Type = EventPut
					we.Value = string(ev.Kv.Value)
				}
				select {
				case h.events <- we:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return h, nil
}

type watchHandle struct {
	events chan WatchEvent
	cancel context.CancelFunc
}

func (h *watchHandle) Events() <-chan WatchEvent { return h.events }
func (h *watchHandle) Stop()                     { h.cancel() }

func toKVs(resp *clientv3.GetResponse) []KV {
	kvs := make([]KV, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		kvs = append(kvs, KV{Key: string(kv.Key), Value: string(kv.Value), Lease: kv.Lease})
	}
	return kvs
}

// retryingStore decorates a Store so every call retries with
// exponential backoff and jitter (backoff.Do) until it succeeds or ctx
// is cancelled. This is the "retrying callers" path of spec.md §4.2;
// Unregister's Revoke is the one call in the Registration Engine that
// opts into it.
type retryingStore struct {
	inner Store
}

func (s retryingStore) Grant(ctx context.Context, ttlSeconds int64) (LeaseGrant, error) {
	var out LeaseGrant
	err := backoff.Do(ctx, func() error {
		var err error
		out, err = s.inner.Grant(ctx, ttlSeconds)
		return err
	})
	return out, err
}

func (s retryingStore) KeepAlive(ctx context.Context, leaseID int64) (int64, bool, error) {
	var ttl int64
	var ok bool
	err := backoff.Do(ctx, func() error {
		var err error
		ttl, ok, err = s.inner.KeepAlive(ctx, leaseID)
		return err
	})
	return ttl, ok, err
}

func (s retryingStore) Revoke(ctx context.Context, leaseID int64) (bool, error) {
	var ok bool
	err := backoff.Do(ctx, func() error {
		var err error
		ok, err = s.inner.Revoke(ctx, leaseID)
		return err
	})
	return ok, err
}

func (s retryingStore) Put(ctx context.Context, key, value string, leaseID int64) (bool, error) {
	var ok bool
	err := backoff.Do(ctx, func() error {
		var err error
		ok, err = s.inner.Put(ctx, key, value, leaseID)
		return err
	})
	return ok, err
}

func (s retryingStore) Range(ctx context.Context, key string) ([]KV, error) {
	var out []KV
	err := backoff.Do(ctx, func() error {
		var err error
		out, err = s.inner.Range(ctx, key)
		return err
	})
	return out, err
}

func (s retryingStore) RangePrefix(ctx context.Context, prefix string) ([]KV, error) {
	var out []KV
	err := backoff.Do(ctx, func() error {
		var err error
		out, err = s.inner.RangePrefix(ctx, prefix)
		return err
	})
	return out, err
}

func (s retryingStore) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	var n int64
	err := backoff.Do(ctx, func() error {
		var err error
		n, err = s.inner.DeletePrefix(ctx, prefix)
		return err
	})
	return n, err
}

func (s retryingStore) WatchPrefix(ctx context.Context, prefix string) (WatchHandle, error) {
	var h WatchHandle
	err := backoff.Do(ctx, func() error {
		var err error
		h, err = s.inner.WatchPrefix(ctx, prefix)
		return err
	})
	return h, err
}
