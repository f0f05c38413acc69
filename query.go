package hound

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/aca-labs/hound-dog/dlog"
)

// Namespace is the Namespace Query API of spec.md §4.3: read-only and
// destructive views over everything registered under one namespace,
// independent of any single Registration. Grounded on the teacher's
// service_discovery.go and fapi.Client's getServices/processKvPair.
type Namespace struct {
	store     Store
	namespace string
	log       *dlog.Logger
}

// NewNamespace validates namespace and returns a query handle over it.
func NewNamespace(store Store, namespace string, log *dlog.Logger) (*Namespace, error) {
	if err := validateSegment(namespace); err != nil {
		return nil, fmt.Errorf("namespace %q: %w", namespace, err)
	}
	if log == nil {
		log = dlog.Noop()
	}
	return &Namespace{store: store, namespace: namespace, log: log}, nil
}

// Nodes lists every node currently registered under service. Keys are
// unique by construction (nodeKey is deterministic per name), so no
// two entries share a Name.
func (n *Namespace) Nodes(ctx context.Context, service string) ([]Node, error) {
	if err := validateSegment(service); err != nil {
		return nil, fmt.Errorf("service %q: %w", service, err)
	}

	prefix := n.namespace + "/" + service + "/"
	kvs, err := n.store.RangePrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnreachable, err)
	}

	nodes := make([]Node, 0, len(kvs))
	for _, kv := range kvs {
		name := strings.TrimPrefix(kv.Key, prefix)
		if name == "" || strings.Contains(name, "/") {
			n.log.Warn("skipping key outside the node schema", zap.String("key", kv.Key))
			continue
		}
		node, err := NewNode(name, kv.Value)
		if err != nil {
			n.log.Warn("skipping node with unparsable uri", zap.String("key", kv.Key))
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// Services lists every distinct service name with at least one node
// registered under this namespace.
func (n *Namespace) Services(ctx context.Context) ([]string, error) {
	kvs, err := n.store.RangePrefix(ctx, n.namespace+"/")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnreachable, err)
	}

	seen := make(map[string]struct{})
	prefix := n.namespace + "/"
	for _, kv := range kvs {
		rest := strings.TrimPrefix(kv.Key, prefix)
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		seen[parts[0]] = struct{}{}
	}

	services := make([]string, 0, len(seen))
	for s := range seen {
		services = append(services, s)
	}
	sort.Strings(services)
	return services, nil
}

// ClearNamespace deletes every key under this namespace. It is meant
// for test teardown, mirroring the teacher's own scratch-namespace
// cleanup helpers; production callers should not need it.
func (n *Namespace) ClearNamespace(ctx context.Context) error {
	_, err := n.store.DeletePrefix(ctx, n.namespace+"/")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnreachable, err)
	}
	return nil
}
