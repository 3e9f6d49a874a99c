package rule

import (
	"fmt"
	"strings"
)

// Validate checks structural invariants on a rule before it is stored.
// Semantic checks that need the service catalog (kind/operator fit,
// service existence) happen at translation time instead.
func Validate(r *Rule) error {
	if r.ID == "" {
		return fmt.Errorf("rule has no id")
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule %s: name is empty", r.ID)
	}
	if r.Priority < 0 {
		return fmt.Errorf("rule %s: priority must be >= 0, got %d", r.ID, r.Priority)
	}
	if r.Action == nil {
		return fmt.Errorf("rule %s: no action", r.ID)
	}
	if err := validateAction(r.Action); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if err := validateSchedule(r.Schedule); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if err := validateDeepCheck(r); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}

	limits := 0
	for i, c := range r.Conditions {
		if err := validateCondition(c, false); err != nil {
			return fmt.Errorf("rule %s: condition[%d]: %w", r.ID, i, err)
		}
		if _, ok := c.(Limit); ok {
			limits++
		}
	}
	if limits > 1 {
		return fmt.Errorf("rule %s: more than one limit condition", r.ID)
	}
	return nil
}

func validateAction(a Action) error {
	switch v := a.(type) {
	case AddTo:
		if len(v.Destinations) == 0 {
			return fmt.Errorf("add_to: no destinations")
		}
	case ForceIn:
		if len(v.Destinations) == 0 {
			return fmt.Errorf("force_in: no destinations")
		}
	case AddTags:
		if v.Service == "" {
			return fmt.Errorf("add_tags: no service")
		}
		if len(v.Tags) == 0 {
			return fmt.Errorf("add_tags: no tags")
		}
	case RemoveTags:
		if v.Service == "" {
			return fmt.Errorf("remove_tags: no service")
		}
		if len(v.Tags) == 0 {
			return fmt.Errorf("remove_tags: no tags")
		}
	case ModifyRating:
		if v.Service == "" {
			return fmt.Errorf("modify_rating: no service")
		}
		switch v.Value.Kind {
		case RatingValueNone, RatingValueNumeric, RatingValueLike, RatingValueDislike:
		default:
			return fmt.Errorf("modify_rating: unknown value kind %q", v.Value.Kind)
		}
	case ArchiveFile:
	default:
		return fmt.Errorf("unknown action type %T", a)
	}
	return nil
}

func validateSchedule(s Schedule) error {
	switch s.Mode {
	case ScheduleDefault, ScheduleNone:
		return nil
	case ScheduleCustom:
		if s.Seconds <= 0 {
			return fmt.Errorf("custom schedule: interval must be positive, got %d", s.Seconds)
		}
		return nil
	default:
		return fmt.Errorf("unknown schedule mode %q", s.Mode)
	}
}

func validateDeepCheck(r *Rule) error {
	switch r.DeepCheck.Mode {
	case "", DeepCheckNever:
		return nil
	case DeepCheckEveryRun:
	case DeepCheckEveryNRun:
		if r.DeepCheck.EveryN < 1 {
			return fmt.Errorf("deep check every_n_runs: n must be >= 1, got %d", r.DeepCheck.EveryN)
		}
	default:
		return fmt.Errorf("unknown deep check mode %q", r.DeepCheck.Mode)
	}
	// Only ForceIn rules have placed files worth re-verifying.
	if _, ok := r.Action.(ForceIn); !ok {
		return fmt.Errorf("deep check configured on non-force_in action")
	}
	return nil
}

func validateCondition(c Condition, insideOr bool) error {
	switch v := c.(type) {
	case Tags:
		if len(v.Terms) == 0 {
			return fmt.Errorf("tags: no terms")
		}
		for _, t := range v.Terms {
			if strings.TrimSpace(strings.TrimPrefix(t, "-")) == "" {
				return fmt.Errorf("tags: empty term")
			}
		}
	case Rating:
		if v.Service == "" {
			return fmt.Errorf("rating: no service")
		}
		switch v.Op {
		case RatingIsLiked, RatingIsDisliked, RatingIs, RatingMoreThan,
			RatingLessThan, RatingNotEqual, RatingHasRating, RatingNoRating:
		default:
			return fmt.Errorf("rating: unknown operator %q", v.Op)
		}
	case FileService:
		if v.Service == "" {
			return fmt.Errorf("file_service: no service")
		}
		if v.Op != FileServiceIsIn && v.Op != FileServiceIsNotIn {
			return fmt.Errorf("file_service: unknown operator %q", v.Op)
		}
	case FileSize:
		switch v.Op {
		case SizeGreater, SizeLess, SizeEqual, SizeNotEqual:
		default:
			return fmt.Errorf("file_size: unknown operator %q", v.Op)
		}
		switch v.Unit {
		case UnitBytes, UnitKilobytes, UnitMegabytes, UnitGigabytes:
		default:
			return fmt.Errorf("file_size: unknown unit %q", v.Unit)
		}
		if v.Value < 0 {
			return fmt.Errorf("file_size: negative value")
		}
	case Boolean:
		switch v.Flag {
		case FlagInbox, FlagArchive, FlagLocal, FlagTrashed, FlagDeleted,
			FlagHasAudio, FlagHasDuration, FlagHasEXIF, FlagHasEmbeddedMeta,
			FlagHasICCProfile, FlagHasNotes, FlagHasTags, FlagHasTransparency,
			FlagBestDuplicate:
		default:
			return fmt.Errorf("boolean: unknown flag %q", v.Flag)
		}
	case URL:
		switch v.Subtype {
		case URLSpecific:
			switch v.Kind {
			case URLMatchURL, URLMatchDomain, URLMatchRegex:
			default:
				return fmt.Errorf("url: unknown match kind %q", v.Kind)
			}
			if v.Op != "is" && v.Op != "is_not" {
				return fmt.Errorf("url specific: unknown operator %q", v.Op)
			}
			if v.Value == "" {
				return fmt.Errorf("url specific: empty value")
			}
		case URLExistence:
			if v.Op != "has" && v.Op != "has_not" {
				return fmt.Errorf("url existence: unknown operator %q", v.Op)
			}
		case URLCount:
			switch v.Op {
			case "=", ">", "<", "!=":
			default:
				return fmt.Errorf("url count: unknown operator %q", v.Op)
			}
			if v.Count < 0 {
				return fmt.Errorf("url count: negative count")
			}
		default:
			return fmt.Errorf("url: unknown subtype %q", v.Subtype)
		}
	case FileType:
		if v.Op != FileTypeIs && v.Op != FileTypeIsNot {
			return fmt.Errorf("file_type: unknown operator %q", v.Op)
		}
		if len(v.Values) == 0 {
			return fmt.Errorf("file_type: no values")
		}
	case Limit:
		if insideOr {
			return fmt.Errorf("limit inside or_group")
		}
		if v.Value < 1 {
			return fmt.Errorf("limit: must be >= 1, got %d", v.Value)
		}
	case OrGroup:
		if insideOr {
			return fmt.Errorf("nested or_group")
		}
		if len(v.Conditions) == 0 {
			return fmt.Errorf("or_group: empty")
		}
		for i, child := range v.Conditions {
			if err := validateCondition(child, true); err != nil {
				return fmt.Errorf("or_group[%d]: %w", i, err)
			}
		}
	case RawPredicateBlock:
		if strings.TrimSpace(v.Text) == "" {
			return fmt.Errorf("raw_predicates: empty block")
		}
	default:
		return fmt.Errorf("unknown condition type %T", c)
	}
	return nil
}
