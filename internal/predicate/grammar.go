package predicate

import (
	"fmt"
	"strings"

	"github.com/mwald/warden/internal/catalog"
	"github.com/mwald/warden/internal/rule"
)

// The library's system-predicate grammar. Everything the translator
// emits is built here so the spelling lives in exactly one place.

const (
	fileServiceInPrefix    = "system:file service is currently in "
	fileServiceNotInPrefix = "system:file service is not currently in "
)

func fileServiceIn(name string) Term {
	return Term(fileServiceInPrefix + name)
}

func fileServiceNotIn(name string) Term {
	return Term(fileServiceNotInPrefix + name)
}

func hasRating(name string) Term {
	return Term("system:has a rating for " + name)
}

func noRating(name string) Term {
	return Term("system:does not have a rating for " + name)
}

// ratingCompare renders a numeric rating comparison. Bounded services
// render the value as value/max; unbounded ordinals render it bare.
func ratingCompare(svc catalog.Service, op string, value int) Term {
	if svc.Kind == catalog.KindNumerical {
		return Term(fmt.Sprintf("system:rating for %s %s %d/%d", svc.Name, op, value, svc.MaxStars))
	}
	return Term(fmt.Sprintf("system:rating for %s %s %d", svc.Name, op, value))
}

func ratingLike(name string) Term {
	return Term(fmt.Sprintf("system:rating for %s = like", name))
}

func ratingDislike(name string) Term {
	return Term(fmt.Sprintf("system:rating for %s = dislike", name))
}

// sizeOps maps condition operators onto the library's size grammar.
// Exact equality on byte counts is meaningless to users, so the
// library only offers approximate equality; '=' maps onto it.
var sizeOps = map[rule.SizeOp]string{
	rule.SizeGreater:  ">",
	rule.SizeLess:     "<",
	rule.SizeEqual:    "~=",
	rule.SizeNotEqual: "≠",
}

func fileSize(op rule.SizeOp, bytes int64) Term {
	return Term(fmt.Sprintf("system:filesize %s %d B", sizeOps[op], bytes))
}

// boolTerms maps each flag to its positive and negative spellings.
// inbox, archive and deleted have no negative spelling of their own;
// their false form is the complementary positive predicate.
var boolTerms = map[rule.BoolFlag][2]string{
	rule.FlagInbox:           {"system:inbox", "system:archive"},
	rule.FlagArchive:         {"system:archive", "system:inbox"},
	rule.FlagDeleted:         {"system:is deleted", "system:is not deleted"},
	rule.FlagLocal:           {"system:is local", "system:is not local"},
	rule.FlagTrashed:         {"system:is trashed", "system:is not trashed"},
	rule.FlagHasAudio:        {"system:has audio", "system:no audio"},
	rule.FlagHasDuration:     {"system:has duration", "system:no duration"},
	rule.FlagHasEXIF:         {"system:has exif", "system:no exif"},
	rule.FlagHasEmbeddedMeta: {"system:has embedded metadata", "system:no embedded metadata"},
	rule.FlagHasICCProfile:   {"system:has icc profile", "system:no icc profile"},
	rule.FlagHasNotes:        {"system:has notes", "system:no notes"},
	rule.FlagHasTags:         {"system:has tags", "system:untagged"},
	rule.FlagHasTransparency: {"system:has transparency", "system:no transparency"},
	rule.FlagBestDuplicate: {
		"system:is the best quality file of its duplicate group",
		"system:is not the best quality file of its duplicate group",
	},
}

func boolTerm(flag rule.BoolFlag, value bool) Term {
	forms := boolTerms[flag]
	if value {
		return Term(forms[0])
	}
	return Term(forms[1])
}

func urlSpecific(kind rule.URLMatchKind, negate bool, value string) Term {
	var verb string
	switch kind {
	case rule.URLMatchURL:
		verb = "url"
	case rule.URLMatchDomain:
		verb = "domain"
	case rule.URLMatchRegex:
		verb = "url matching regex"
	}
	if negate {
		return Term(fmt.Sprintf("system:does not have %s %s", verb, value))
	}
	return Term(fmt.Sprintf("system:has %s %s", verb, value))
}

func urlCount(op string, n int) Term {
	return Term(fmt.Sprintf("system:number of urls %s %d", op, n))
}

func fileTypes(op rule.FileTypeOp, formats []string) Term {
	cmp := "="
	if op == rule.FileTypeIsNot {
		cmp = "≠"
	}
	return Term(fmt.Sprintf("system:filetype %s %s", cmp, strings.Join(formats, ", ")))
}
