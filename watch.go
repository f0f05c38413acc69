package hound

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/aca-labs/hound-dog/dlog"
)

// Event is a single membership change under a service, with its key
// already split into namespace/service/name (spec.md §4.4).
type Event struct {
	Namespace string
	Service   string
	Name      string
	Value     string
	Type      EventType
}

// Watch opens a prefix watch on namespace/service and delivers every
// event to handler synchronously, in the order the store emits them.
// The returned WatchHandle is the one to Stop; doing so closes the
// underlying store subscription and ends the delivery goroutine, the
// way the teacher's fapi.Client.watcher/handlerEvents loop unwinds on
// its stop channel closing.
func Watch(ctx context.Context, store Store, namespace, service string, handler func(Event), log *dlog.Logger) (WatchHandle, error) {
	if log == nil {
		log = dlog.Noop()
	}
	if err := validateSegment(namespace); err != nil {
		return nil, fmt.Errorf("namespace %q: %w", namespace, err)
	}
	if err := validateSegment(service); err != nil {
		return nil, fmt.Errorf("service %q: %w", service, err)
	}

	prefix := namespace + "/" + service + "/"
	h, err := store.WatchPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnreachable, err)
	}

	go func() {
		for we := range h.Events() {
			ev, ok := parseEvent(we)
			if !ok {
				log.Warn("dropping malformed watch event", zap.String("key", we.Key))
				continue
			}
			deliver(handler, ev, log)
		}
	}()

	return h, nil
}

// parseEvent splits a raw key into its namespace/service/name parts.
// A key with fewer than three segments doesn't belong to this watch's
// data model and is dropped rather than delivered; everything after the
// second "/" becomes Name, so a name containing "/" is kept whole.
func parseEvent(we WatchEvent) (Event, bool) {
	parts := strings.SplitN(we.Key, "/", 3)
	if len(parts) != 3 {
		return Event{}, false
	}
	return Event{
		Namespace: parts[0],
		Service:   parts[1],
		Name:      parts[2],
		Value:     we.Value,
		Type:      we.Type,
	}, true
}

// deliver invokes handler, recovering a panic so one broken callback
// can't tear down the whole watch (spec.md §4.4 edge case).
func deliver(handler func(Event), ev Event, log *dlog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("watch handler panicked", zap.Any("recover", r))
		}
	}()
	handler(ev)
}
