// Package predicate translates a rule's condition tree into the
// ordered search predicates the remote library understands.
//
// Translation is pure: the same conditions, action, catalog snapshot
// and options always produce the same Set, the same warnings and the
// same error.
package predicate

import "strings"

// Clause is one element of a search query.
//
// This is a sealed interface - only types in this package implement it.
// Clause types:
//   - Term: one predicate string, AND-ed with its siblings
//   - OrClause: alternatives, at least one must hold
type Clause interface {
	clauseNode() // Marker method - seals interface to this package
}

// Term is a single search predicate string.
type Term string

func (Term) clauseNode() {}

// OrClause is a disjunction of predicate strings.
type OrClause []Term

func (OrClause) clauseNode() {}

// Query is one complete search: clauses AND-ed together.
type Query []Clause

// Set is the translator's output for one rule: the ordered clauses
// plus the optional result cap. Clause order follows condition order,
// with action-implied clauses appended last.
type Set struct {
	Clauses []Clause

	// Limit caps search results; 0 means uncapped.
	Limit int
}

// splitThreshold is the number of file-service alternatives in one OR
// clause at which the clause is decomposed into sequential per-service
// queries. Large service disjunctions are pathologically slow on the
// library side when run as a single OR search.
const splitThreshold = 3

// Queries renders the set into one or more executable queries.
//
// Normally the result is a single query containing every clause. When
// an OrClause consists entirely of file-service predicates and has at
// least splitThreshold alternatives, it is split: one query per
// alternative, each carrying the alternative as a plain AND term next
// to every other clause. Results of split queries are unioned by the
// caller.
func (s *Set) Queries() []Query {
	splitAt := -1
	var alternatives OrClause
	for i, c := range s.Clauses {
		or, ok := c.(OrClause)
		if !ok || len(or) < splitThreshold {
			continue
		}
		if allFileServiceTerms(or) {
			splitAt = i
			alternatives = or
			break
		}
	}

	if splitAt < 0 {
		q := make(Query, len(s.Clauses))
		copy(q, s.Clauses)
		return []Query{q}
	}

	queries := make([]Query, 0, len(alternatives))
	for _, alt := range alternatives {
		q := make(Query, 0, len(s.Clauses))
		for i, c := range s.Clauses {
			if i == splitAt {
				q = append(q, alt)
				continue
			}
			q = append(q, c)
		}
		queries = append(queries, q)
	}
	return queries
}

func allFileServiceTerms(or OrClause) bool {
	for _, t := range or {
		if !isFileServiceTerm(string(t)) {
			return false
		}
	}
	return len(or) > 0
}

func isFileServiceTerm(s string) bool {
	return strings.HasPrefix(s, fileServiceInPrefix) ||
		strings.HasPrefix(s, fileServiceNotInPrefix)
}
