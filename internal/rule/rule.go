package rule

import (
	"sort"
	"time"
)

// ScheduleMode selects which execution interval governs a rule or set.
type ScheduleMode string

const (
	// ScheduleDefault defers to the next level of the interval
	// hierarchy (set override, then the global default).
	ScheduleDefault ScheduleMode = "default"
	// ScheduleCustom runs on the Seconds interval carried alongside.
	ScheduleCustom ScheduleMode = "custom"
	// ScheduleNone excludes the rule or set from scheduling entirely;
	// only manual triggers run it.
	ScheduleNone ScheduleMode = "none"
)

// Schedule is an execution-interval override.
type Schedule struct {
	Mode    ScheduleMode
	Seconds int // meaningful only when Mode == ScheduleCustom
}

// DeepCheckMode selects how often a ForceIn rule re-verifies files it
// already placed.
type DeepCheckMode string

const (
	DeepCheckNever     DeepCheckMode = "never"
	DeepCheckEveryRun  DeepCheckMode = "every_run"
	DeepCheckEveryNRun DeepCheckMode = "every_n_runs"
)

// DeepCheck is a ForceIn rule's re-check policy. EveryN is meaningful
// only when Mode == DeepCheckEveryNRun.
type DeepCheck struct {
	Mode   DeepCheckMode
	EveryN int
}

// Rule is one declarative rule: a condition tree, one action, a
// precedence priority and its scheduling knobs.
//
// Priority is an integer where a LOWER value means HIGHER precedence.
// Ties on priority break by rule id ascending, giving every pass a
// stable total order.
type Rule struct {
	ID         string
	Name       string
	Priority   int
	Conditions []Condition
	Action     Action
	Schedule   Schedule
	DeepCheck  DeepCheck

	// RunCount is the persisted scheduled-pass counter backing the
	// every_n_runs deep-check cadence. Manual runs never touch it.
	RunCount  int
	CreatedAt time.Time
}

// Less reports whether r executes before other in a pass:
// ascending priority value, ties by id ascending.
func (r *Rule) Less(other *Rule) bool {
	if r.Priority != other.Priority {
		return r.Priority < other.Priority
	}
	return r.ID < other.ID
}

// SortByPrecedence orders rules into pass execution order in place.
func SortByPrecedence(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Less(&rules[j])
	})
}

// RuleSet is a named, ordered grouping of rules with its own interval
// override. Membership is many-to-many and lives in associations.
type RuleSet struct {
	ID       string
	Name     string
	Schedule Schedule
}

// Association links a rule into a set at a position. Deleting a rule
// cascades its associations; deleting a set removes only associations.
type Association struct {
	RuleID   string
	SetID    string
	Position int
}

// Owner records which rule holds an exclusive claim, with the
// priority it held at grant time. The priority is denormalized so
// precedence checks survive later edits or deletion of the owning rule.
type Owner struct {
	RuleID   string `json:"rule_id"`
	Priority int    `json:"priority"`
}

// GovernanceRecord is the per-file conflict-governance state, keyed by
// content hash. Created lazily on first governed action; written only
// via compare-and-set; removed only by explicit retention pruning.
type GovernanceRecord struct {
	Hash string

	// Placement is the ForceIn placement owner, nil when unowned.
	Placement *Owner

	// CorrectPlacement is the set of file service keys the file is
	// currently supposed to live in, per the owning rule.
	CorrectPlacement []string

	// RatingOwners maps rating service key to the rule owning that
	// service's rating for this file.
	RatingOwners map[string]Owner

	LastUpdated time.Time
}

// RunStatus is the terminal state of one rule execution.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailure RunStatus = "failure"
)

// RunCounts are the per-rule-execution tallies recorded in the run log.
type RunCounts struct {
	Matched        int `json:"matched"`
	Eligible       int `json:"eligible"`
	Succeed        int `json:"succeeded"`
	Failed         int `json:"failed"`
	Skipped        int `json:"skipped_due_to_override"`
	RecentlyViewed int `json:"skipped_recent_view"`
}

// RunLogEntry is the immutable record of one rule execution within a
// pass. Entries sharing a ParentRunID belong to the same pass.
type RunLogEntry struct {
	ID          string
	ParentRunID string
	RuleID      string
	RuleName    string

	// ExecOrder is the rule's position within its pass, starting at 0.
	ExecOrder int

	StartTime time.Time
	EndTime   time.Time
	Status    RunStatus
	Counts    RunCounts

	// Warnings is serialized translator output (level + message pairs).
	Warnings []Warning
	Summary  string
}

// WarnLevel grades a translation warning.
type WarnLevel string

const (
	WarnInfo WarnLevel = "info"
	// WarnCritical aborts the rule run before any search is issued.
	WarnCritical WarnLevel = "critical"
)

// Warning is one structured translation warning.
type Warning struct {
	Level   WarnLevel `json:"level"`
	Message string    `json:"message"`
}

// CriticalWarnings filters ws down to the critical entries.
func CriticalWarnings(ws []Warning) []Warning {
	out := []Warning{}
	for _, w := range ws {
		if w.Level == WarnCritical {
			out = append(out, w)
		}
	}
	return out
}

// FileEvent is one per-file outcome row attached to a run log entry.
type FileEvent struct {
	ID       int64
	RunLogID string
	Hash     string
	Status   string
	Detail   string
}

// File event statuses.
const (
	FileEventActioned   = "actioned"
	FileEventFailed     = "failed"
	FileEventSkipped    = "skipped_due_to_override"
	FileEventRecentView = "skipped_recent_view"
)
