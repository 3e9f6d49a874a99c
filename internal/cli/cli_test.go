package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRuleFile = `
rule: archive_big: {
	name:     "Archive big files"
	priority: 10
	conditions: [
		{file_size: {op: ">", value: 1, unit: "GB"}},
	]
	action: archive: {}
}
rule: consolidate: {
	name:     "Consolidate favourites"
	priority: 1
	conditions: [
		{rating: {service: "r1", op: "is_liked"}},
	]
	action: force_in: {destinations: ["f1"]}
	deep_check: {mode: "every_n_runs", n: 3}
}
set: nightly: {
	name:  "Nightly batch"
	rules: ["consolidate", "archive_big"]
	schedule: {mode: "custom", seconds: 86400}
}
`

func writeRuleFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.cue")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootRejectsInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "rules", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestImportListShowDelete(t *testing.T) {
	db := filepath.Join(t.TempDir(), "warden.db")
	rules := writeRuleFile(t, testRuleFile)

	out, err := execute(t, "--db", db, "rules", "import", rules)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 rule(s) and 1 set(s)")

	// Precedence order: consolidate (priority 1) first.
	out, err = execute(t, "--db", db, "rules", "list")
	require.NoError(t, err)
	lines := out
	assert.Less(t, indexOf(t, lines, "consolidate"), indexOf(t, lines, "archive_big"))

	out, err = execute(t, "--db", db, "--format", "json", "rules", "show", "consolidate")
	require.NoError(t, err)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	out, err = execute(t, "--db", db, "sets", "show", "nightly")
	require.NoError(t, err)
	assert.Contains(t, out, "Nightly batch")
	assert.Contains(t, out, "consolidate")

	_, err = execute(t, "--db", db, "rules", "delete", "archive_big")
	require.NoError(t, err)

	out, err = execute(t, "--db", db, "rules", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "archive_big")

	_, err = execute(t, "--db", db, "rules", "delete", "archive_big")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestImportReplacesSetMembers(t *testing.T) {
	db := filepath.Join(t.TempDir(), "warden.db")

	_, err := execute(t, "--db", db, "rules", "import", writeRuleFile(t, testRuleFile))
	require.NoError(t, err)

	// Re-import with a smaller member list; the dropped member must
	// disappear from the set but stay stored as a rule.
	trimmed := `
rule: archive_big: {
	name:     "Archive big files"
	priority: 10
	action: archive: {}
}
set: nightly: {
	name:  "Nightly batch"
	rules: ["archive_big"]
}
`
	_, err = execute(t, "--db", db, "rules", "import", writeRuleFile(t, trimmed))
	require.NoError(t, err)

	out, err := execute(t, "--db", db, "sets", "show", "nightly")
	require.NoError(t, err)
	assert.Contains(t, out, "archive_big")
	assert.NotContains(t, out, "consolidate")

	out, err = execute(t, "--db", db, "rules", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "consolidate")
}

func TestValidateCommand(t *testing.T) {
	good := writeRuleFile(t, testRuleFile)
	out, err := execute(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 2 rule(s) and 1 set(s)")

	bad := writeRuleFile(t, `rule: broken: {priority: 1, action: archive: {}}`)
	out, err = execute(t, "validate", bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "name is required")
}

func TestValidateMissingPath(t *testing.T) {
	_, err := execute(t, "validate", "/does/not/exist")
	require.Error(t, err)
}

func TestLogCommandEmptyDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "warden.db")
	out, err := execute(t, "--db", db, "log")
	require.NoError(t, err)
	assert.Contains(t, out, "no run log entries")
}

func TestRunCommandRejectsUnknownTarget(t *testing.T) {
	db := filepath.Join(t.TempDir(), "warden.db")
	_, err := execute(t, "--db", db, "run", "everything")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func indexOf(t *testing.T, haystack, needle string) int {
	t.Helper()
	idx := bytes.Index([]byte(haystack), []byte(needle))
	require.GreaterOrEqual(t, idx, 0, "expected %q in output", needle)
	return idx
}
