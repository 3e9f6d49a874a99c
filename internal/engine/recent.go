package engine

import (
	"context"

	"github.com/mwald/warden/internal/predicate"
)

// viewedTimeLayout is the timestamp format the library's
// "system:last viewed time" predicate accepts.
const viewedTimeLayout = "2006-01-02 15:04:05"

// filterRecentlyViewed splits hashes into those safe to act on and
// those the library reports as viewed within the configured threshold.
// The recency lookup is a separate search; a failing lookup is treated
// as no recent views so a flaky view-time index never blocks a run.
func (e *Engine) filterRecentlyViewed(ctx context.Context, hashes []string) (kept, recent []string) {
	if e.recentView <= 0 || len(hashes) == 0 {
		return hashes, nil
	}

	cutoff := e.now().Add(-e.recentView)
	q := predicate.Query{
		predicate.Term("system:last viewed time > " + cutoff.Format(viewedTimeLayout)),
	}
	viewed, err := e.search.Query(ctx, q, 0, false)
	if err != nil {
		e.log.Warn("recently-viewed lookup failed, filter skipped", "error", err)
		return hashes, nil
	}

	viewedSet := make(map[string]bool, len(viewed))
	for _, h := range viewed {
		viewedSet[h] = true
	}

	kept = []string{}
	for _, h := range hashes {
		if viewedSet[h] {
			recent = append(recent, h)
		} else {
			kept = append(kept, h)
		}
	}
	return kept, recent
}
