package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/gitrdm/eggstep/pkg/egraph"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunSaturatesPreset(t *testing.T) {
	out, err := execute(t, "run")
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"step 1: applied [add_comm], nodes 5 -> 7, classes 5 -> 5",
		"step 2: applied [], nodes 7 -> 7, classes 5 -> 5",
		"stopped: saturated after 2 steps",
		"best: (add x (add y z)) (cost 5)",
		"",
	}, "\n"), out)
}

func TestRunStepLimit(t *testing.T) {
	out, err := execute(t, "run", "--max-steps", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "stopped: step limit after 1 steps")
}

func TestStepNamedRules(t *testing.T) {
	out, err := execute(t, "step", "--rule", "add_comm", "--rule", "add_comm", "--back", "1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "step 2: applied [], nodes 7 -> 7, classes 5 -> 5", lines[1])
	assert.Equal(t, "back to step 1", lines[2])
}

func TestStepErrors(t *testing.T) {
	_, err := execute(t, "step", "--rule", "missing")
	assert.ErrorIs(t, err, egraph.ErrUnknownRule)

	_, err = execute(t, "step", "--back", "1")
	require.NoError(t, err)

	_, err = execute(t, "step", "--back", "2")
	assert.ErrorIs(t, err, egraph.ErrNoHistory)
}

func TestExtractClass(t *testing.T) {
	out, err := execute(t, "extract", "--class", "3")
	require.NoError(t, err)
	assert.Equal(t, "C3: (add y z) (cost 3)\n", out)

	out, err = execute(t, "extract", "--preset", "if-then-else", "--saturate")
	require.NoError(t, err)
	assert.Equal(t, "true (cost 1)", strings.SplitN(strings.TrimSpace(out), ": ", 2)[1])
}

func TestExtractClassOutOfRange(t *testing.T) {
	// 2^32 + 3 would wrap around to C3.
	_, err := execute(t, "extract", "--class", "4294967299")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")

	_, err = execute(t, "extract", "--class", "42")
	assert.ErrorIs(t, err, egraph.ErrUnknownClass)
}

func TestSnapshotFormats(t *testing.T) {
	out, err := execute(t, "snapshot", "--steps", "1")
	require.NoError(t, err)
	var snap egraph.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, 1, snap.Iteration)
	assert.Equal(t, 7, snap.NodeCount())

	out, err = execute(t, "snapshot", "-o", "yaml")
	require.NoError(t, err)
	var back egraph.Snapshot
	require.NoError(t, yaml.Unmarshal([]byte(out), &back))
	assert.Equal(t, egraph.ClassID(4), back.Root)
	assert.Len(t, back.Classes, 5)

	_, err = execute(t, "snapshot", "-o", "xml")
	assert.Error(t, err)
}

func TestPresets(t *testing.T) {
	out, err := execute(t, "presets")
	require.NoError(t, err)
	for _, name := range []string{"mul-to-shift", "if-then-else", "pset4", "congruence-closure", "add-comm"} {
		assert.Contains(t, out, name)
	}

	out, err = execute(t, "presets", "add-comm")
	require.NoError(t, err)
	assert.Contains(t, out, "program: (add x (add y z))")

	_, err = execute(t, "presets", "nope")
	assert.Error(t, err)
}

func TestBatchRunsEveryPreset(t *testing.T) {
	out, err := execute(t, "batch", "--workers", "2")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.True(t, strings.HasPrefix(lines[0], "PRESET"))
	assert.True(t, strings.HasPrefix(lines[2], "if-then-else"))
	assert.Contains(t, lines[2], "saturated")
	assert.True(t, strings.HasSuffix(lines[2], "true"))

	out, err = execute(t, "batch", "add-comm")
	require.NoError(t, err)
	assert.Contains(t, out, "(add x (add y z))")
}

func TestWorkspaceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ws.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: fold
program: "(mul a one)"
rules:
  - label: mul_one
    left: "(mul ?x one)"
    right: "?x"
`), 0o644))

	out, err := execute(t, "run", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "best: a (cost 1)")
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "presets", "--log-level", "loud")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version", "--json")
	require.NoError(t, err)
	var info egraph.VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, egraph.Version, info.Version)
}
