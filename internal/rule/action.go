package rule

// Action represents the single effect a rule applies to matched files.
//
// This is a sealed interface - only types in this package implement it.
// The marker method enables exhaustive type switches in the engine and
// the predicate translator.
type Action interface {
	actionNode() // Marker method - seals interface to this package
}

// AddTo copies matched files into the destination file services.
// Files already everywhere they should be are excluded at search time.
// AddTo never takes placement ownership, but it defers to a strictly
// higher-precedence ForceIn owner.
type AddTo struct {
	Destinations []string
}

func (AddTo) actionNode() {}

// ForceIn makes the destination services the file's only local
// placement: copy in, verify, then remove from every other local file
// domain. ForceIn competes for per-file placement ownership.
type ForceIn struct {
	Destinations []string
}

func (ForceIn) actionNode() {}

// AddTags adds tags on one tag service.
type AddTags struct {
	Service string
	Tags    []string
}

func (AddTags) actionNode() {}

// RemoveTags removes tags on one tag service.
type RemoveTags struct {
	Service string
	Tags    []string
}

func (RemoveTags) actionNode() {}

// RatingValueKind identifies what a ModifyRating writes.
type RatingValueKind string

const (
	// RatingValueNone clears the rating.
	RatingValueNone RatingValueKind = "none"
	// RatingValueNumeric writes Numeric (stars or ordinal count).
	RatingValueNumeric RatingValueKind = "numeric"
	// RatingValueLike and RatingValueDislike apply to binary services.
	RatingValueLike    RatingValueKind = "like"
	RatingValueDislike RatingValueKind = "dislike"
)

// RatingValue is the value a ModifyRating action writes.
type RatingValue struct {
	Kind    RatingValueKind
	Numeric int
}

// ModifyRating sets (or clears) the rating on one rating service.
// ModifyRating competes for per-file rating ownership scoped to the
// service it writes.
type ModifyRating struct {
	Service string
	Value   RatingValue
}

func (ModifyRating) actionNode() {}

// ArchiveFile archives matched files (removes them from the inbox).
type ArchiveFile struct{}

func (ArchiveFile) actionNode() {}
