package predicate

import (
	"strings"

	"github.com/mwald/warden/internal/rule"
)

// Spellings people habitually get wrong when hand-writing service
// predicates. Corrected in place with an info warning rather than
// failing the rule.
var rawCorrections = []struct{ wrong, right string }{
	{"system:file service currently in ", fileServiceInPrefix},
	{"system:file service isn't currently in ", fileServiceNotInPrefix},
	{"system:file service not currently in ", fileServiceNotInPrefix},
}

// parseRawBlock turns a verbatim predicate block into clauses.
//
//   - one predicate per line; blank lines and "#" comments skipped
//   - "system:limit" lines are dropped (the structured Limit condition
//     is the only supported cap) with a warning
//   - a line with " OR " between predicates becomes an OR clause
//   - an overall-empty block is a critical warning, which aborts the
//     run before search
func parseRawBlock(text string) ([]Clause, []rule.Warning) {
	clauses := []Clause{}
	warnings := []rule.Warning{}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(strings.ToLower(line), "system:limit") {
			warnings = append(warnings, rule.Warning{
				Level:   rule.WarnInfo,
				Message: "raw predicates: dropped embedded limit line " + quote(line),
			})
			continue
		}

		if strings.Contains(line, " OR ") {
			parts := strings.Split(line, " OR ")
			group := make(OrClause, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p == "" {
					continue
				}
				corrected, w := correctRawPredicate(p)
				warnings = append(warnings, w...)
				group = append(group, Term(corrected))
			}
			if len(group) > 0 {
				clauses = append(clauses, group)
			}
			continue
		}

		corrected, w := correctRawPredicate(line)
		warnings = append(warnings, w...)
		clauses = append(clauses, Term(corrected))
	}

	if len(clauses) == 0 {
		warnings = append(warnings, rule.Warning{
			Level:   rule.WarnCritical,
			Message: "raw predicates: block contains no usable predicates",
		})
	}
	return clauses, warnings
}

func correctRawPredicate(p string) (string, []rule.Warning) {
	for _, c := range rawCorrections {
		if strings.HasPrefix(p, c.wrong) {
			fixed := c.right + strings.TrimPrefix(p, c.wrong)
			return fixed, []rule.Warning{{
				Level:   rule.WarnInfo,
				Message: "raw predicates: corrected " + quote(p) + " to " + quote(fixed),
			}}
		}
	}
	return p, nil
}

func quote(s string) string {
	return `"` + s + `"`
}
