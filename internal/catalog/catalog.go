// Package catalog models the remote library's service inventory: the
// immutable per-run snapshot every translation and action resolves
// service keys against.
package catalog

import (
	"context"
	"fmt"
	"sort"
)

// Kind classifies a service by how warden may use it.
type Kind int

const (
	KindUnknown Kind = iota
	// KindLocalFileDomain is a local file storage domain, a valid
	// placement destination.
	KindLocalFileDomain
	// KindTagService accepts tag writes.
	KindTagService
	// KindLikeDislike is a binary rating service.
	KindLikeDislike
	// KindNumerical is a bounded star rating service (1..MaxStars).
	KindNumerical
	// KindIncDec is an unbounded ordinal counter service.
	KindIncDec
)

// String returns the kind's stable name, used in errors and CLI output.
func (k Kind) String() string {
	switch k {
	case KindLocalFileDomain:
		return "local_file_domain"
	case KindTagService:
		return "tag_service"
	case KindLikeDislike:
		return "like_dislike"
	case KindNumerical:
		return "numerical"
	case KindIncDec:
		return "inc_dec"
	default:
		return "unknown"
	}
}

// Rateable reports whether the kind accepts rating operations.
func (k Kind) Rateable() bool {
	return k == KindLikeDislike || k == KindNumerical || k == KindIncDec
}

// Service is one library service as seen in a snapshot.
type Service struct {
	Key  string
	Name string
	Kind Kind

	// MaxStars is the upper rating bound; meaningful only for
	// KindNumerical.
	MaxStars int
}

// NotFoundError reports a service key that does not exist in the
// snapshot. Callers detect it with errors.As to classify rule failures.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("service %q not found in catalog", e.Key)
}

// Catalog is an immutable snapshot of the library's services. A pass
// takes one snapshot up front; every rule in the pass resolves against
// the same one.
type Catalog struct {
	byKey   map[string]Service
	ordered []Service
}

// New builds a snapshot from a service list. Order is normalized to
// key-ascending so every derived listing is deterministic.
func New(services []Service) *Catalog {
	ordered := make([]Service, len(services))
	copy(ordered, services)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Key < ordered[j].Key })

	byKey := make(map[string]Service, len(ordered))
	for _, s := range ordered {
		byKey[s.Key] = s
	}
	return &Catalog{byKey: byKey, ordered: ordered}
}

// Resolve looks up a service by key.
func (c *Catalog) Resolve(key string) (Service, error) {
	s, ok := c.byKey[key]
	if !ok {
		return Service{}, &NotFoundError{Key: key}
	}
	return s, nil
}

// Services returns every service, key-ascending. Never nil.
func (c *Catalog) Services() []Service {
	out := make([]Service, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// LocalFileDomains returns the placement-capable services,
// key-ascending. Never nil.
func (c *Catalog) LocalFileDomains() []Service {
	out := []Service{}
	for _, s := range c.ordered {
		if s.Kind == KindLocalFileDomain {
			out = append(out, s)
		}
	}
	return out
}

// Provider produces catalog snapshots. The engine takes one snapshot
// per pass; implementations may cache but a snapshot itself never
// mutates.
type Provider interface {
	Snapshot(ctx context.Context) (*Catalog, error)
}
