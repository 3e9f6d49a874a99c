package predicate

import (
	"fmt"
	"math"

	"golang.org/x/text/unicode/norm"

	"github.com/mwald/warden/internal/catalog"
	"github.com/mwald/warden/internal/rule"
)

// Options tune a single translation.
type Options struct {
	// Deep marks a deep re-check run: a ForceIn rule's implied
	// exclusions are replaced by a sweep over every local file domain
	// so already-placed files are re-verified.
	Deep bool
}

// Translate turns a rule's condition tree plus its action into the
// predicate set to search with.
//
// Clause order follows condition order; action-implied clauses come
// last. Errors are *ConfigError for broken rule configuration and
// *catalog.NotFoundError for unresolvable service keys. Warnings never
// stop translation, but the engine aborts the run before searching
// when any warning is critical.
func Translate(r *rule.Rule, cat *catalog.Catalog, opts Options) (*Set, []rule.Warning, error) {
	set := &Set{Clauses: []Clause{}}
	warnings := []rule.Warning{}

	for i, cond := range r.Conditions {
		switch c := cond.(type) {
		case rule.Limit:
			if set.Limit != 0 {
				return nil, warnings, configErrorf("condition %d: a limit is already set (%d)", i, set.Limit)
			}
			set.Limit = c.Value

		case rule.OrGroup:
			group := OrClause{}
			for j, child := range c.Conditions {
				res, err := translateLeaf(child, cat)
				if err != nil {
					return nil, warnings, fmt.Errorf("condition %d, alternative %d: %w", i, j, err)
				}
				group = append(group, res.terms...)
				group = append(group, res.or...)
			}
			set.Clauses = append(set.Clauses, group)

		case rule.RawPredicateBlock:
			clauses, ws := parseRawBlock(c.Text)
			warnings = append(warnings, ws...)
			set.Clauses = append(set.Clauses, clauses...)

		default:
			res, err := translateLeaf(cond, cat)
			if err != nil {
				return nil, warnings, fmt.Errorf("condition %d: %w", i, err)
			}
			for _, t := range res.terms {
				set.Clauses = append(set.Clauses, t)
			}
			if len(res.or) > 0 {
				set.Clauses = append(set.Clauses, res.or)
			}
		}
	}

	implied, err := impliedClauses(r.Action, cat, opts)
	if err != nil {
		return nil, warnings, fmt.Errorf("action: %w", err)
	}
	set.Clauses = append(set.Clauses, implied...)

	if len(set.Clauses) == 0 {
		warnings = append(warnings, rule.Warning{
			Level:   rule.WarnInfo,
			Message: "rule has no search predicates and matches every file",
		})
	}

	return set, warnings, nil
}

// leafResult is the translation of one leaf condition: terms AND
// together; or holds alternatives that must stay disjunctive (numeric
// not-equal expansions). In an OrGroup both flatten into the group.
type leafResult struct {
	terms []Term
	or    OrClause
}

func translateLeaf(cond rule.Condition, cat *catalog.Catalog) (leafResult, error) {
	switch c := cond.(type) {
	case rule.Tags:
		terms := make([]Term, 0, len(c.Terms))
		for _, t := range c.Terms {
			terms = append(terms, Term(norm.NFC.String(t)))
		}
		return leafResult{terms: terms}, nil

	case rule.Rating:
		return translateRating(c, cat)

	case rule.FileService:
		svc, err := cat.Resolve(c.Service)
		if err != nil {
			return leafResult{}, err
		}
		if c.Op == rule.FileServiceIsNotIn {
			return leafResult{terms: []Term{fileServiceNotIn(svc.Name)}}, nil
		}
		return leafResult{terms: []Term{fileServiceIn(svc.Name)}}, nil

	case rule.FileSize:
		return leafResult{terms: []Term{fileSize(c.Op, toBytes(c.Value, c.Unit))}}, nil

	case rule.Boolean:
		return leafResult{terms: []Term{boolTerm(c.Flag, c.Value)}}, nil

	case rule.URL:
		return translateURL(c)

	case rule.FileType:
		formats, err := expandFileTypes(c.Values)
		if err != nil {
			return leafResult{}, err
		}
		return leafResult{terms: []Term{fileTypes(c.Op, formats)}}, nil

	case rule.Limit:
		return leafResult{}, configErrorf("limit is not a matching condition")

	case rule.OrGroup:
		return leafResult{}, configErrorf("nested or group")

	case rule.RawPredicateBlock:
		return leafResult{}, configErrorf("raw predicate block inside or group")

	default:
		return leafResult{}, configErrorf("unknown condition type %T", cond)
	}
}

func translateRating(c rule.Rating, cat *catalog.Catalog) (leafResult, error) {
	svc, err := cat.Resolve(c.Service)
	if err != nil {
		return leafResult{}, err
	}
	if !svc.Kind.Rateable() {
		return leafResult{}, configErrorf("service %q is not a rating service", svc.Name)
	}

	switch c.Op {
	case rule.RatingHasRating:
		return leafResult{terms: []Term{hasRating(svc.Name)}}, nil
	case rule.RatingNoRating:
		return leafResult{terms: []Term{noRating(svc.Name)}}, nil

	case rule.RatingIsLiked, rule.RatingIsDisliked:
		if svc.Kind != catalog.KindLikeDislike {
			return leafResult{}, configErrorf("operator %q needs a like/dislike service, %q is %s", c.Op, svc.Name, svc.Kind)
		}
		if c.Op == rule.RatingIsLiked {
			return leafResult{terms: []Term{ratingLike(svc.Name)}}, nil
		}
		return leafResult{terms: []Term{ratingDislike(svc.Name)}}, nil

	case rule.RatingIs, rule.RatingMoreThan, rule.RatingLessThan, rule.RatingNotEqual:
		if svc.Kind == catalog.KindLikeDislike {
			return leafResult{}, configErrorf("numeric operator %q on like/dislike service %q", c.Op, svc.Name)
		}
		if err := checkRatingBounds(svc, c.Value); err != nil {
			return leafResult{}, err
		}
		switch c.Op {
		case rule.RatingIs:
			return leafResult{terms: []Term{ratingCompare(svc, "=", c.Value)}}, nil
		case rule.RatingMoreThan:
			return leafResult{terms: []Term{ratingCompare(svc, ">", c.Value)}}, nil
		case rule.RatingLessThan:
			return leafResult{terms: []Term{ratingCompare(svc, "<", c.Value)}}, nil
		default: // not_equal has no direct spelling, expand to < OR >
			return leafResult{or: OrClause{
				ratingCompare(svc, "<", c.Value),
				ratingCompare(svc, ">", c.Value),
			}}, nil
		}

	default:
		return leafResult{}, configErrorf("unknown rating operator %q", c.Op)
	}
}

func checkRatingBounds(svc catalog.Service, value int) error {
	if value < 0 {
		return configErrorf("rating value %d is negative", value)
	}
	if svc.Kind == catalog.KindNumerical && value > svc.MaxStars {
		return configErrorf("rating value %d exceeds %q maximum of %d", value, svc.Name, svc.MaxStars)
	}
	return nil
}

func translateURL(c rule.URL) (leafResult, error) {
	switch c.Subtype {
	case rule.URLSpecific:
		return leafResult{terms: []Term{urlSpecific(c.Kind, c.Op == "is_not", c.Value)}}, nil

	case rule.URLExistence:
		if c.Op == "has_not" {
			return leafResult{terms: []Term{urlCount("=", 0)}}, nil
		}
		return leafResult{terms: []Term{urlCount(">", 0)}}, nil

	case rule.URLCount:
		if c.Op == "!=" {
			return leafResult{or: OrClause{
				urlCount("<", c.Count),
				urlCount(">", c.Count),
			}}, nil
		}
		return leafResult{terms: []Term{urlCount(c.Op, c.Count)}}, nil

	default:
		return leafResult{}, configErrorf("unknown url subtype %q", c.Subtype)
	}
}

var sizeMultipliers = map[rule.SizeUnit]float64{
	rule.UnitBytes:     1,
	rule.UnitKilobytes: 1024,
	rule.UnitMegabytes: 1024 * 1024,
	rule.UnitGigabytes: 1024 * 1024 * 1024,
}

func toBytes(value float64, unit rule.SizeUnit) int64 {
	return int64(math.Round(value * sizeMultipliers[unit]))
}
