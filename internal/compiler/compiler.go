// Package compiler turns declarative CUE rule files into rule.Rule
// and rule.RuleSet values. Uses the CUE SDK's Go API directly (not a
// CLI subprocess); every diagnostic carries the source position.
package compiler

import (
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/mwald/warden/internal/rule"
)

// File is the compiled content of one rule file.
type File struct {
	Rules []rule.Rule
	Sets  []SetDef
}

// SetDef pairs a compiled set with its member rule ids in declared
// order.
type SetDef struct {
	Set     rule.RuleSet
	Members []string
}

// CompileFile reads and compiles one CUE rule file.
func CompileFile(path string) (*File, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	return CompileBytes(src, path)
}

// CompileBytes compiles CUE source. filename is used in diagnostics.
//
// The expected shape:
//
//	rule: <id>: {
//		name:     "..."
//		priority: 10
//		conditions: [...]
//		action: <kind>: {...}
//		schedule:   {mode: "custom", seconds: 3600}  // optional
//		deep_check: {mode: "every_n_runs", n: 5}     // optional
//	}
//	set: <id>: {
//		name:  "..."
//		rules: ["id", ...]
//		schedule: {...}  // optional
//	}
func CompileBytes(src []byte, filename string) (*File, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	out := &File{Rules: []rule.Rule{}, Sets: []SetDef{}}

	rulesVal := v.LookupPath(cue.ParsePath("rule"))
	if rulesVal.Exists() {
		iter, err := rulesVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			r, err := compileRule(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			out.Rules = append(out.Rules, *r)
		}
	}

	setsVal := v.LookupPath(cue.ParsePath("set"))
	if setsVal.Exists() {
		iter, err := setsVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			s, err := compileSet(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			out.Sets = append(out.Sets, *s)
		}
	}

	if len(out.Rules) == 0 && len(out.Sets) == 0 {
		return nil, &CompileError{
			Field:   "rule",
			Message: "file defines no rules or sets",
			Pos:     v.Pos(),
		}
	}
	return out, nil
}

func compileRule(id string, v cue.Value) (*rule.Rule, error) {
	r := &rule.Rule{
		ID:        id,
		Schedule:  rule.Schedule{Mode: rule.ScheduleDefault},
		CreatedAt: time.Now().UTC(),
	}

	name, err := requiredString(v, "name")
	if err != nil {
		return nil, err
	}
	r.Name = name

	prioVal := v.LookupPath(cue.ParsePath("priority"))
	if !prioVal.Exists() {
		return nil, &CompileError{
			Field:   fieldPath(id, "priority"),
			Message: "priority is required",
			Pos:     v.Pos(),
		}
	}
	prio, err := prioVal.Int64()
	if err != nil {
		return nil, formatCUEError(err)
	}
	r.Priority = int(prio)

	condsVal := v.LookupPath(cue.ParsePath("conditions"))
	if condsVal.Exists() {
		conds, err := compileConditions(id, condsVal, false)
		if err != nil {
			return nil, err
		}
		r.Conditions = conds
	}

	actionVal := v.LookupPath(cue.ParsePath("action"))
	if !actionVal.Exists() {
		return nil, &CompileError{
			Field:   fieldPath(id, "action"),
			Message: "action is required",
			Pos:     v.Pos(),
		}
	}
	action, err := compileAction(id, actionVal)
	if err != nil {
		return nil, err
	}
	r.Action = action

	if schedVal := v.LookupPath(cue.ParsePath("schedule")); schedVal.Exists() {
		sched, err := compileSchedule(id, schedVal)
		if err != nil {
			return nil, err
		}
		r.Schedule = sched
	}

	if deepVal := v.LookupPath(cue.ParsePath("deep_check")); deepVal.Exists() {
		deep, err := compileDeepCheck(id, deepVal)
		if err != nil {
			return nil, err
		}
		r.DeepCheck = deep
	}

	if err := rule.Validate(r); err != nil {
		return nil, &CompileError{
			Field:   fieldPath(id, ""),
			Message: err.Error(),
			Pos:     v.Pos(),
		}
	}
	return r, nil
}

func compileSet(id string, v cue.Value) (*SetDef, error) {
	name, err := requiredString(v, "name")
	if err != nil {
		return nil, err
	}
	def := &SetDef{
		Set:     rule.RuleSet{ID: id, Name: name, Schedule: rule.Schedule{Mode: rule.ScheduleDefault}},
		Members: []string{},
	}

	if schedVal := v.LookupPath(cue.ParsePath("schedule")); schedVal.Exists() {
		sched, err := compileSchedule(id, schedVal)
		if err != nil {
			return nil, err
		}
		def.Set.Schedule = sched
	}

	rulesVal := v.LookupPath(cue.ParsePath("rules"))
	if rulesVal.Exists() {
		members, err := stringList(rulesVal)
		if err != nil {
			return nil, err
		}
		def.Members = members
	}
	return def, nil
}

func compileSchedule(id string, v cue.Value) (rule.Schedule, error) {
	mode, err := requiredString(v, "mode")
	if err != nil {
		return rule.Schedule{}, err
	}
	sched := rule.Schedule{Mode: rule.ScheduleMode(mode)}
	if secVal := v.LookupPath(cue.ParsePath("seconds")); secVal.Exists() {
		sec, err := secVal.Int64()
		if err != nil {
			return rule.Schedule{}, formatCUEError(err)
		}
		sched.Seconds = int(sec)
	}
	switch sched.Mode {
	case rule.ScheduleDefault, rule.ScheduleCustom, rule.ScheduleNone:
		return sched, nil
	default:
		return rule.Schedule{}, &CompileError{
			Field:   fieldPath(id, "schedule.mode"),
			Message: fmt.Sprintf("unknown mode %q (default, custom, none)", mode),
			Pos:     v.Pos(),
		}
	}
}

func compileDeepCheck(id string, v cue.Value) (rule.DeepCheck, error) {
	mode, err := requiredString(v, "mode")
	if err != nil {
		return rule.DeepCheck{}, err
	}
	deep := rule.DeepCheck{Mode: rule.DeepCheckMode(mode)}
	if nVal := v.LookupPath(cue.ParsePath("n")); nVal.Exists() {
		n, err := nVal.Int64()
		if err != nil {
			return rule.DeepCheck{}, formatCUEError(err)
		}
		deep.EveryN = int(n)
	}
	return deep, nil
}

func fieldPath(ruleID, field string) string {
	if field == "" {
		return "rule." + ruleID
	}
	return "rule." + ruleID + "." + field
}

func requiredString(v cue.Value, path string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   path,
			Message: path + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func stringList(v cue.Value) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	out := []string{}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
