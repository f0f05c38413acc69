package hound

import (
	"fmt"
	"net/url"
	"strings"
)

// Node is a single registered endpoint within a service: a name, unique
// within the service, and the URI at which it can be reached.
type Node struct {
	Name string
	URI  *url.URL
}

// NewNode validates name and rawURI and returns the Node they describe.
// name must be non-empty and must not contain "/". rawURI must parse as
// a well-formed absolute URI.
func NewNode(name, rawURI string) (Node, error) {
	if err := validateSegment(name); err != nil {
		return Node{}, fmt.Errorf("node name %q: %w", name, err)
	}

	u, err := url.Parse(rawURI)
	if err != nil {
		return Node{}, fmt.Errorf("node uri %q: %w", rawURI, err)
	}
	if !u.IsAbs() {
		return Node{}, fmt.Errorf("node uri %q: %w", rawURI, ErrNotAbsoluteURI)
	}

	return Node{Name: name, URI: u}, nil
}

func validateSegment(s string) error {
	if s == "" {
		return ErrEmptySegment
	}
	if strings.Contains(s, "/") {
		return ErrSlashInSegment
	}
	return nil
}

// nodeKey derives the deterministic store key for a (namespace, service,
// name) triple. It never changes for a binding's lifetime (spec
// invariant I3).
func nodeKey(namespace, service, name string) string {
	return strings.Join([]string{namespace, service, name}, "/")
}
