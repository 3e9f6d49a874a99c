// Package library defines warden's contracts with the remote media
// library - searching, acting on files, and snapshotting the service
// catalog - plus the HTTP client implementing them against the real
// API. The engine accepts these interfaces; tests substitute fakes.
package library

import (
	"context"

	"github.com/mwald/warden/internal/predicate"
	"github.com/mwald/warden/internal/rule"
)

// Search finds files matching a predicate query.
type Search interface {
	// Query returns the content hashes matching q. limit caps results
	// (0 = uncapped). deep marks a deep re-check run; the predicates
	// already encode the widened search, the flag lets backends bypass
	// incremental caches.
	Query(ctx context.Context, q predicate.Query, limit int, deep bool) ([]string, error)
}

// Result is the per-hash outcome of an action call. Err is empty on
// success.
type Result struct {
	Hash string
	Err  string
}

// OK reports whether the action succeeded for this hash.
func (r Result) OK() bool {
	return r.Err == ""
}

// PlacementMode selects how ApplyPlacement treats existing locations.
type PlacementMode int

const (
	// PlacementAdd copies files into the destinations and leaves other
	// locations alone.
	PlacementAdd PlacementMode = iota + 1
	// PlacementForce copies files into the destinations, verifies the
	// copies, then removes the files from every other local file
	// domain.
	PlacementForce
)

// TagMode selects the direction of ApplyTags.
type TagMode int

const (
	TagsAdd TagMode = iota + 1
	TagsRemove
)

// Actioner applies effects to files. Every method returns one Result
// per input hash; a returned error means the library itself was
// unreachable or rejected the call outright, and nothing can be said
// about individual hashes.
type Actioner interface {
	ApplyPlacement(ctx context.Context, hashes []string, destinations []string, mode PlacementMode) ([]Result, error)
	ApplyTags(ctx context.Context, hashes []string, service string, tags []string, mode TagMode) ([]Result, error)
	ApplyRating(ctx context.Context, hashes []string, service string, value rule.RatingValue) ([]Result, error)
	ApplyArchive(ctx context.Context, hashes []string) ([]Result, error)
}

// successAll is a convenience for call paths that succeed wholesale.
func successAll(hashes []string) []Result {
	out := make([]Result, len(hashes))
	for i, h := range hashes {
		out[i] = Result{Hash: h}
	}
	return out
}
