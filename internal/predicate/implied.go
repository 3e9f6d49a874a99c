package predicate

import (
	"golang.org/x/text/unicode/norm"

	"github.com/mwald/warden/internal/catalog"
	"github.com/mwald/warden/internal/rule"
)

// impliedClauses derives the clauses a rule's action adds to its
// search so scheduled runs stay incremental: files already in the
// state the action would produce are excluded up front.
func impliedClauses(a rule.Action, cat *catalog.Catalog, opts Options) ([]Clause, error) {
	switch act := a.(type) {
	case rule.AddTo:
		return destinationExclusions(act.Destinations, cat)

	case rule.ForceIn:
		if opts.Deep {
			return localDomainSweep(cat)
		}
		return destinationExclusions(act.Destinations, cat)

	case rule.AddTags:
		if err := resolveTagService(act.Service, cat); err != nil {
			return nil, err
		}
		negated := make([]Term, 0, len(act.Tags))
		for _, t := range act.Tags {
			negated = append(negated, Term("-"+norm.NFC.String(t)))
		}
		return disjoin(negated), nil

	case rule.RemoveTags:
		if err := resolveTagService(act.Service, cat); err != nil {
			return nil, err
		}
		present := make([]Term, 0, len(act.Tags))
		for _, t := range act.Tags {
			present = append(present, Term(norm.NFC.String(t)))
		}
		return disjoin(present), nil

	case rule.ModifyRating:
		return ratingExclusions(act, cat)

	case rule.ArchiveFile:
		return nil, nil

	default:
		return nil, configErrorf("unknown action type %T", a)
	}
}

// destinationExclusions matches files missing from at least one
// destination.
func destinationExclusions(destinations []string, cat *catalog.Catalog) ([]Clause, error) {
	exclusions := make([]Term, 0, len(destinations))
	for _, key := range destinations {
		svc, err := cat.Resolve(key)
		if err != nil {
			return nil, err
		}
		if svc.Kind != catalog.KindLocalFileDomain {
			return nil, configErrorf("destination %q is not a local file domain", svc.Name)
		}
		exclusions = append(exclusions, fileServiceNotIn(svc.Name))
	}
	return disjoin(exclusions), nil
}

// localDomainSweep matches every locally stored file, so a deep run
// re-verifies files the rule has already placed.
func localDomainSweep(cat *catalog.Catalog) ([]Clause, error) {
	domains := cat.LocalFileDomains()
	if len(domains) == 0 {
		return nil, configErrorf("catalog has no local file domains")
	}
	sweep := make(OrClause, 0, len(domains))
	for _, d := range domains {
		sweep = append(sweep, fileServiceIn(d.Name))
	}
	if len(sweep) == 1 {
		return []Clause{sweep[0]}, nil
	}
	return []Clause{sweep}, nil
}

// ratingExclusions matches files whose current rating differs from
// what the action writes.
func ratingExclusions(act rule.ModifyRating, cat *catalog.Catalog) ([]Clause, error) {
	svc, err := cat.Resolve(act.Service)
	if err != nil {
		return nil, err
	}
	if !svc.Kind.Rateable() {
		return nil, configErrorf("service %q is not a rating service", svc.Name)
	}

	switch act.Value.Kind {
	case rule.RatingValueNone:
		// Clearing a rating only concerns files that have one.
		return []Clause{hasRating(svc.Name)}, nil

	case rule.RatingValueLike, rule.RatingValueDislike:
		if svc.Kind != catalog.KindLikeDislike {
			return nil, configErrorf("%s value on non-binary rating service %q", act.Value.Kind, svc.Name)
		}
		opposite := ratingDislike(svc.Name)
		if act.Value.Kind == rule.RatingValueDislike {
			opposite = ratingLike(svc.Name)
		}
		return []Clause{OrClause{noRating(svc.Name), opposite}}, nil

	case rule.RatingValueNumeric:
		if svc.Kind == catalog.KindLikeDislike {
			return nil, configErrorf("numeric value on like/dislike service %q", svc.Name)
		}
		if err := checkRatingBounds(svc, act.Value.Numeric); err != nil {
			return nil, err
		}
		return []Clause{OrClause{
			noRating(svc.Name),
			ratingCompare(svc, "<", act.Value.Numeric),
			ratingCompare(svc, ">", act.Value.Numeric),
		}}, nil

	default:
		return nil, configErrorf("unknown rating value kind %q", act.Value.Kind)
	}
}

func resolveTagService(key string, cat *catalog.Catalog) error {
	svc, err := cat.Resolve(key)
	if err != nil {
		return err
	}
	if svc.Kind != catalog.KindTagService {
		return configErrorf("service %q is not a tag service", svc.Name)
	}
	return nil
}

// disjoin renders a term list as one clause: a single term stays a
// plain AND term, several become an OR clause (the action needs to
// touch a file failing ANY of them).
func disjoin(terms []Term) []Clause {
	switch len(terms) {
	case 0:
		return nil
	case 1:
		return []Clause{terms[0]}
	default:
		return []Clause{OrClause(terms)}
	}
}
