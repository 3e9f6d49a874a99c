package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/mwald/warden/internal/rule"
)

// compileConditions parses a CUE list of single-key condition structs,
// e.g. {tags: [...]}, {file_size: {...}}, {or: [...]}.
func compileConditions(ruleID string, v cue.Value, insideOr bool) ([]rule.Condition, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	conds := []rule.Condition{}
	for iter.Next() {
		c, err := compileCondition(ruleID, iter.Value(), insideOr)
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
	}
	return conds, nil
}

func compileCondition(ruleID string, v cue.Value, insideOr bool) (rule.Condition, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	if !iter.Next() {
		return nil, &CompileError{
			Field:   fieldPath(ruleID, "conditions"),
			Message: "empty condition entry",
			Pos:     v.Pos(),
		}
	}
	kind := iter.Label()
	body := iter.Value()
	if iter.Next() {
		return nil, &CompileError{
			Field:   fieldPath(ruleID, "conditions"),
			Message: fmt.Sprintf("condition entry has more than one key (first %q, then %q)", kind, iter.Label()),
			Pos:     v.Pos(),
		}
	}

	switch kind {
	case "tags":
		terms, err := stringList(body)
		if err != nil {
			return nil, err
		}
		return rule.Tags{Terms: terms}, nil

	case "rating":
		return compileRatingCondition(body)

	case "file_service":
		service, err := requiredString(body, "service")
		if err != nil {
			return nil, err
		}
		op, err := requiredString(body, "op")
		if err != nil {
			return nil, err
		}
		return rule.FileService{Service: service, Op: rule.FileServiceOp(op)}, nil

	case "file_size":
		return compileFileSizeCondition(body)

	case "boolean":
		flag, err := requiredString(body, "flag")
		if err != nil {
			return nil, err
		}
		val := true
		if bv := body.LookupPath(cue.ParsePath("value")); bv.Exists() {
			val, err = bv.Bool()
			if err != nil {
				return nil, formatCUEError(err)
			}
		}
		return rule.Boolean{Flag: rule.BoolFlag(flag), Value: val}, nil

	case "url":
		return compileURLCondition(body)

	case "file_type":
		op, err := requiredString(body, "op")
		if err != nil {
			return nil, err
		}
		values, err := stringList(body.LookupPath(cue.ParsePath("values")))
		if err != nil {
			return nil, err
		}
		return rule.FileType{Op: rule.FileTypeOp(op), Values: values}, nil

	case "limit":
		n, err := body.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return rule.Limit{Value: int(n)}, nil

	case "or":
		if insideOr {
			return nil, &CompileError{
				Field:   fieldPath(ruleID, "conditions"),
				Message: "or groups do not nest",
				Pos:     v.Pos(),
			}
		}
		children, err := compileConditions(ruleID, body, true)
		if err != nil {
			return nil, err
		}
		return rule.OrGroup{Conditions: children}, nil

	case "raw":
		text, err := body.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return rule.RawPredicateBlock{Text: text}, nil

	default:
		return nil, &CompileError{
			Field:   fieldPath(ruleID, "conditions"),
			Message: fmt.Sprintf("unknown condition kind %q", kind),
			Pos:     v.Pos(),
		}
	}
}

func compileRatingCondition(v cue.Value) (rule.Condition, error) {
	service, err := requiredString(v, "service")
	if err != nil {
		return nil, err
	}
	op, err := requiredString(v, "op")
	if err != nil {
		return nil, err
	}
	c := rule.Rating{Service: service, Op: rule.RatingOp(op)}
	if valVal := v.LookupPath(cue.ParsePath("value")); valVal.Exists() {
		val, err := valVal.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		c.Value = int(val)
	}
	return c, nil
}

func compileFileSizeCondition(v cue.Value) (rule.Condition, error) {
	op, err := requiredString(v, "op")
	if err != nil {
		return nil, err
	}
	valVal := v.LookupPath(cue.ParsePath("value"))
	if !valVal.Exists() {
		return nil, &CompileError{
			Field:   "file_size.value",
			Message: "value is required",
			Pos:     v.Pos(),
		}
	}
	val, err := valVal.Float64()
	if err != nil {
		return nil, formatCUEError(err)
	}
	unit := string(rule.UnitBytes)
	if unitVal := v.LookupPath(cue.ParsePath("unit")); unitVal.Exists() {
		unit, err = unitVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
	}
	return rule.FileSize{Op: rule.SizeOp(op), Value: val, Unit: rule.SizeUnit(unit)}, nil
}

func compileURLCondition(v cue.Value) (rule.Condition, error) {
	subtype, err := requiredString(v, "subtype")
	if err != nil {
		return nil, err
	}
	op, err := requiredString(v, "op")
	if err != nil {
		return nil, err
	}
	c := rule.URL{Subtype: rule.URLSubtype(subtype), Op: op}

	if kindVal := v.LookupPath(cue.ParsePath("kind")); kindVal.Exists() {
		kind, err := kindVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		c.Kind = rule.URLMatchKind(kind)
	}
	if valVal := v.LookupPath(cue.ParsePath("value")); valVal.Exists() {
		val, err := valVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		c.Value = val
	}
	if cntVal := v.LookupPath(cue.ParsePath("count")); cntVal.Exists() {
		cnt, err := cntVal.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		c.Count = int(cnt)
	}
	return c, nil
}

// compileAction parses the single-key action struct, e.g.
// action: force_in: {destinations: [...]}.
func compileAction(ruleID string, v cue.Value) (rule.Action, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	if !iter.Next() {
		return nil, &CompileError{
			Field:   fieldPath(ruleID, "action"),
			Message: "action is empty",
			Pos:     v.Pos(),
		}
	}
	kind := iter.Label()
	body := iter.Value()
	if iter.Next() {
		return nil, &CompileError{
			Field:   fieldPath(ruleID, "action"),
			Message: "a rule has exactly one action",
			Pos:     v.Pos(),
		}
	}

	switch kind {
	case "add_to":
		dests, err := stringList(body.LookupPath(cue.ParsePath("destinations")))
		if err != nil {
			return nil, err
		}
		return rule.AddTo{Destinations: dests}, nil

	case "force_in":
		dests, err := stringList(body.LookupPath(cue.ParsePath("destinations")))
		if err != nil {
			return nil, err
		}
		return rule.ForceIn{Destinations: dests}, nil

	case "add_tags":
		service, tags, err := tagAction(body)
		if err != nil {
			return nil, err
		}
		return rule.AddTags{Service: service, Tags: tags}, nil

	case "remove_tags":
		service, tags, err := tagAction(body)
		if err != nil {
			return nil, err
		}
		return rule.RemoveTags{Service: service, Tags: tags}, nil

	case "modify_rating":
		return compileModifyRating(ruleID, body)

	case "archive":
		return rule.ArchiveFile{}, nil

	default:
		return nil, &CompileError{
			Field:   fieldPath(ruleID, "action"),
			Message: fmt.Sprintf("unknown action kind %q", kind),
			Pos:     v.Pos(),
		}
	}
}

func tagAction(v cue.Value) (service string, tags []string, err error) {
	service, err = requiredString(v, "service")
	if err != nil {
		return "", nil, err
	}
	tags, err = stringList(v.LookupPath(cue.ParsePath("tags")))
	if err != nil {
		return "", nil, err
	}
	return service, tags, nil
}

// compileModifyRating accepts value: "none" | "like" | "dislike" or a
// bare integer for numeric services.
func compileModifyRating(ruleID string, v cue.Value) (rule.Action, error) {
	service, err := requiredString(v, "service")
	if err != nil {
		return nil, err
	}
	valVal := v.LookupPath(cue.ParsePath("value"))
	if !valVal.Exists() {
		return nil, &CompileError{
			Field:   fieldPath(ruleID, "action.modify_rating.value"),
			Message: "value is required",
			Pos:     v.Pos(),
		}
	}

	if s, err := valVal.String(); err == nil {
		switch s {
		case "none", "like", "dislike":
			return rule.ModifyRating{Service: service,
				Value: rule.RatingValue{Kind: rule.RatingValueKind(s)}}, nil
		default:
			return nil, &CompileError{
				Field:   fieldPath(ruleID, "action.modify_rating.value"),
				Message: fmt.Sprintf("unknown rating value %q (none, like, dislike, or an integer)", s),
				Pos:     valVal.Pos(),
			}
		}
	}

	n, err := valVal.Int64()
	if err != nil {
		return nil, formatCUEError(err)
	}
	return rule.ModifyRating{Service: service,
		Value: rule.RatingValue{Kind: rule.RatingValueNumeric, Numeric: int(n)}}, nil
}
