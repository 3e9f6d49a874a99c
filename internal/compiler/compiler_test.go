package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwald/warden/internal/rule"
)

func TestCompileFullRule(t *testing.T) {
	src := `
rule: archive_big_videos: {
	name:     "Archive big videos"
	priority: 10
	conditions: [
		{tags: ["processed", "-keep"]},
		{file_size: {op: ">", value: 100, unit: "MB"}},
		{file_type: {op: "is", values: ["video"]}},
		{boolean: {flag: "inbox"}},
		{limit: 500},
	]
	action: archive: {}
	schedule: {mode: "custom", seconds: 3600}
}
`
	f, err := CompileBytes([]byte(src), "rules.cue")
	require.NoError(t, err)
	require.Len(t, f.Rules, 1)

	r := f.Rules[0]
	assert.Equal(t, "archive_big_videos", r.ID)
	assert.Equal(t, "Archive big videos", r.Name)
	assert.Equal(t, 10, r.Priority)
	assert.Equal(t, rule.ArchiveFile{}, r.Action)
	assert.Equal(t, rule.Schedule{Mode: rule.ScheduleCustom, Seconds: 3600}, r.Schedule)

	require.Len(t, r.Conditions, 5)
	assert.Equal(t, rule.Tags{Terms: []string{"processed", "-keep"}}, r.Conditions[0])
	assert.Equal(t, rule.FileSize{Op: rule.SizeGreater, Value: 100, Unit: rule.UnitMegabytes}, r.Conditions[1])
	assert.Equal(t, rule.FileType{Op: rule.FileTypeIs, Values: []string{"video"}}, r.Conditions[2])
	assert.Equal(t, rule.Boolean{Flag: rule.FlagInbox, Value: true}, r.Conditions[3])
	assert.Equal(t, rule.Limit{Value: 500}, r.Conditions[4])
}

func TestCompileForceInWithDeepCheck(t *testing.T) {
	src := `
rule: consolidate: {
	name:     "Consolidate favourites"
	priority: 1
	conditions: [
		{rating: {service: "r1", op: "is_liked"}},
		{or: [
			{file_service: {service: "f1", op: "is_in"}},
			{file_service: {service: "f2", op: "is_in"}},
		]},
	]
	action: force_in: {destinations: ["f1"]}
	deep_check: {mode: "every_n_runs", n: 5}
}
`
	f, err := CompileBytes([]byte(src), "rules.cue")
	require.NoError(t, err)
	require.Len(t, f.Rules, 1)

	r := f.Rules[0]
	assert.Equal(t, rule.ForceIn{Destinations: []string{"f1"}}, r.Action)
	assert.Equal(t, rule.DeepCheck{Mode: rule.DeepCheckEveryNRun, EveryN: 5}, r.DeepCheck)

	require.Len(t, r.Conditions, 2)
	assert.Equal(t, rule.Rating{Service: "r1", Op: rule.RatingIsLiked}, r.Conditions[0])
	or, ok := r.Conditions[1].(rule.OrGroup)
	require.True(t, ok)
	require.Len(t, or.Conditions, 2)
}

func TestCompileModifyRatingValues(t *testing.T) {
	cases := []struct {
		name  string
		value string
		want  rule.RatingValue
	}{
		{"numeric", "4", rule.RatingValue{Kind: rule.RatingValueNumeric, Numeric: 4}},
		{"like", `"like"`, rule.RatingValue{Kind: rule.RatingValueLike}},
		{"dislike", `"dislike"`, rule.RatingValue{Kind: rule.RatingValueDislike}},
		{"none", `"none"`, rule.RatingValue{Kind: rule.RatingValueNone}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := `
rule: rate: {
	name:     "Rate"
	priority: 3
	action: modify_rating: {service: "r2", value: ` + tc.value + `}
}
`
			f, err := CompileBytes([]byte(src), "rules.cue")
			require.NoError(t, err)
			require.Len(t, f.Rules, 1)
			act, ok := f.Rules[0].Action.(rule.ModifyRating)
			require.True(t, ok)
			assert.Equal(t, "r2", act.Service)
			assert.Equal(t, tc.want, act.Value)
		})
	}
}

func TestCompileRawAndURLConditions(t *testing.T) {
	src := `
rule: sourced: {
	name:     "Tag sourced files"
	priority: 7
	conditions: [
		{url: {subtype: "specific", kind: "domain", op: "is", value: "example.com"}},
		{url: {subtype: "count", op: ">", count: 2}},
		{raw: """
			system:has audio
			system:number of words > 10
			"""},
	]
	action: add_tags: {service: "t1", tags: ["sourced"]}
}
`
	f, err := CompileBytes([]byte(src), "rules.cue")
	require.NoError(t, err)
	r := f.Rules[0]
	require.Len(t, r.Conditions, 3)
	assert.Equal(t, rule.URL{Subtype: rule.URLSpecific, Kind: rule.URLMatchDomain, Op: "is", Value: "example.com"}, r.Conditions[0])
	assert.Equal(t, rule.URL{Subtype: rule.URLCount, Op: ">", Count: 2}, r.Conditions[1])
	raw, ok := r.Conditions[2].(rule.RawPredicateBlock)
	require.True(t, ok)
	assert.Contains(t, raw.Text, "system:has audio")
}

func TestCompileSets(t *testing.T) {
	src := `
rule: a: {
	name:     "A"
	priority: 1
	action: archive: {}
}
set: nightly: {
	name:     "Nightly batch"
	schedule: {mode: "custom", seconds: 86400}
	rules: ["a"]
}
`
	f, err := CompileBytes([]byte(src), "rules.cue")
	require.NoError(t, err)
	require.Len(t, f.Sets, 1)
	assert.Equal(t, "nightly", f.Sets[0].Set.ID)
	assert.Equal(t, rule.Schedule{Mode: rule.ScheduleCustom, Seconds: 86400}, f.Sets[0].Set.Schedule)
	assert.Equal(t, []string{"a"}, f.Sets[0].Members)
}

func TestCompileErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "missing name",
			src:  `rule: r: {priority: 1, action: archive: {}}`,
			want: "name is required",
		},
		{
			name: "missing priority",
			src:  `rule: r: {name: "R", action: archive: {}}`,
			want: "priority is required",
		},
		{
			name: "missing action",
			src:  `rule: r: {name: "R", priority: 1}`,
			want: "action is required",
		},
		{
			name: "unknown action kind",
			src:  `rule: r: {name: "R", priority: 1, action: explode: {}}`,
			want: `unknown action kind "explode"`,
		},
		{
			name: "unknown condition kind",
			src: `rule: r: {name: "R", priority: 1, action: archive: {},
				conditions: [{wibble: 3}]}`,
			want: `unknown condition kind "wibble"`,
		},
		{
			name: "nested or group",
			src: `rule: r: {name: "R", priority: 1, action: archive: {},
				conditions: [{or: [{or: [{tags: ["x"]}]}]}]}`,
			want: "or groups do not nest",
		},
		{
			name: "validation failure surfaces with position",
			src: `rule: r: {name: "R", priority: 1, action: archive: {},
				deep_check: {mode: "every_run"}}`,
			want: "deep check configured on non-force_in action",
		},
		{
			name: "empty file",
			src:  `other: 1`,
			want: "no rules or sets",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CompileBytes([]byte(tc.src), "rules.cue")
			require.Error(t, err)
			var ce *CompileError
			require.ErrorAs(t, err, &ce)
			assert.Contains(t, ce.Message, tc.want)
		})
	}
}

func TestCompileFileMissing(t *testing.T) {
	_, err := CompileFile("/does/not/exist.cue")
	require.Error(t, err)
}
