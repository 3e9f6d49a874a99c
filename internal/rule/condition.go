// Package rule defines the warden domain model: the sealed Condition
// union, the Action union, and the Rule/RuleSet/record types the rest
// of the system operates on.
//
// Conditions are immutable value types once stored. Top-level
// conditions AND together; OrGroup is the only recursive node and
// holds exactly one level of OR over leaf conditions.
package rule

// Condition represents one node of a rule's condition tree.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and
// enables exhaustive type switches in the predicate translator.
//
// Condition types:
//   - Tags: tag terms the file must (or, with a leading "-", must not) carry
//   - Rating: a comparison against one rating service
//   - FileService: membership in a file service
//   - FileSize: a size comparison
//   - Boolean: a named binary system flag
//   - URL: known-URL matching (specific, existence, count)
//   - FileType: format category / concrete format membership
//   - Limit: result cap (not a matching clause)
//   - OrGroup: one level of OR over leaf conditions
//   - RawPredicateBlock: verbatim search predicates, one per line
type Condition interface {
	conditionNode() // Marker method - seals interface to this package
}

// Tags matches files by tag terms. Every term is AND-ed; a leading
// "-" marks a term the file must NOT carry. Terms are NFC-normalized
// at translation time.
type Tags struct {
	Terms []string
}

func (Tags) conditionNode() {}

// RatingOp identifies a rating comparison operator.
type RatingOp string

const (
	// RatingIsLiked and RatingIsDisliked apply to binary (like/dislike)
	// services only.
	RatingIsLiked    RatingOp = "is_liked"
	RatingIsDisliked RatingOp = "is_disliked"

	// Numeric operators apply to bounded-numerical and ordinal services.
	// All but RatingHasRating and RatingNoRating require a value.
	RatingIs       RatingOp = "is"
	RatingMoreThan RatingOp = "more_than"
	RatingLessThan RatingOp = "less_than"
	RatingNotEqual RatingOp = "not_equal"

	// RatingHasRating and RatingNoRating apply to every rating kind.
	RatingHasRating RatingOp = "has_rating"
	RatingNoRating  RatingOp = "no_rating"
)

// Rating matches files by their state on one rating service.
// Value is required for is/more_than/less_than/not_equal on numeric
// kinds and ignored otherwise.
type Rating struct {
	Service string
	Op      RatingOp
	Value   int
}

func (Rating) conditionNode() {}

// FileServiceOp identifies the direction of a file-service membership test.
type FileServiceOp string

const (
	FileServiceIsIn    FileServiceOp = "is_in"
	FileServiceIsNotIn FileServiceOp = "is_not_in"
)

// FileService matches files by membership in one file service.
type FileService struct {
	Service string
	Op      FileServiceOp
}

func (FileService) conditionNode() {}

// SizeOp identifies a file-size comparison operator.
type SizeOp string

const (
	SizeGreater  SizeOp = ">"
	SizeLess     SizeOp = "<"
	SizeEqual    SizeOp = "="
	SizeNotEqual SizeOp = "!="
)

// SizeUnit identifies the unit a FileSize value is expressed in.
// Values normalize to bytes at translation time.
type SizeUnit string

const (
	UnitBytes     SizeUnit = "bytes"
	UnitKilobytes SizeUnit = "KB"
	UnitMegabytes SizeUnit = "MB"
	UnitGigabytes SizeUnit = "GB"
)

// FileSize matches files by size.
type FileSize struct {
	Op    SizeOp
	Value float64
	Unit  SizeUnit
}

func (FileSize) conditionNode() {}

// BoolFlag names a binary system property a Boolean condition tests.
type BoolFlag string

const (
	FlagInbox           BoolFlag = "inbox"
	FlagArchive         BoolFlag = "archive"
	FlagLocal           BoolFlag = "local"
	FlagTrashed         BoolFlag = "trashed"
	FlagDeleted         BoolFlag = "deleted"
	FlagHasAudio        BoolFlag = "has_audio"
	FlagHasDuration     BoolFlag = "has_duration"
	FlagHasEXIF         BoolFlag = "has_exif"
	FlagHasEmbeddedMeta BoolFlag = "has_embedded_metadata"
	FlagHasICCProfile   BoolFlag = "has_icc_profile"
	FlagHasNotes        BoolFlag = "has_notes"
	FlagHasTags         BoolFlag = "has_tags"
	FlagHasTransparency BoolFlag = "has_transparency"
	FlagBestDuplicate   BoolFlag = "best_quality_duplicate"
)

// Boolean matches files by one binary system flag.
//
// The flags inbox, archive and deleted have no negated form in the
// library's search grammar; a false request for those is translated to
// the complementary positive predicate instead.
type Boolean struct {
	Flag  BoolFlag
	Value bool
}

func (Boolean) conditionNode() {}

// URLSubtype identifies which family of URL predicate a URL condition is.
type URLSubtype string

const (
	// URLSpecific matches a concrete url/domain/regex value.
	URLSpecific URLSubtype = "specific"
	// URLExistence matches whether a file has any known URL.
	URLExistence URLSubtype = "existence"
	// URLCount compares the number of known URLs.
	URLCount URLSubtype = "count"
)

// URLMatchKind identifies how a URLSpecific value is interpreted.
type URLMatchKind string

const (
	URLMatchURL    URLMatchKind = "url"
	URLMatchDomain URLMatchKind = "domain"
	URLMatchRegex  URLMatchKind = "regex"
)

// URL matches files by their known URLs.
//
//   - Subtype URLSpecific: Kind + Op ("is"/"is_not") + Value.
//   - Subtype URLExistence: Op ("has"/"has_not"); Kind/Value/Count unused.
//   - Subtype URLCount: Op ("=", ">", "<", "!=") + Count.
type URL struct {
	Subtype URLSubtype
	Kind    URLMatchKind
	Op      string
	Value   string
	Count   int
}

func (URL) conditionNode() {}

// FileTypeOp identifies the direction of a file-type membership test.
type FileTypeOp string

const (
	FileTypeIs    FileTypeOp = "is"
	FileTypeIsNot FileTypeOp = "is_not"
)

// FileType matches files by format. Values hold category names and/or
// concrete format names from the fixed taxonomy; categories expand to
// every format under them at translation time.
type FileType struct {
	Op     FileTypeOp
	Values []string
}

func (FileType) conditionNode() {}

// Limit caps the number of search results. It is not a matching
// clause: at most one Limit may appear per rule.
type Limit struct {
	Value int
}

func (Limit) conditionNode() {}

// OrGroup holds one level of OR over leaf conditions. Nested OrGroups
// and Limits are rejected by validation.
type OrGroup struct {
	Conditions []Condition
}

func (OrGroup) conditionNode() {}

// RawPredicateBlock carries verbatim search predicates, one per line.
// Blank lines and lines starting with "#" are skipped; a line
// containing " OR " becomes an OR clause over its parts.
type RawPredicateBlock struct {
	Text string
}

func (RawPredicateBlock) conditionNode() {}
