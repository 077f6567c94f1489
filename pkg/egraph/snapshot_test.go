package egraph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSnapshotListsClassesInOrder(t *testing.T) {
	g := NewEGraph()
	_, err := g.AddTerm(addXYZ())
	require.NoError(t, err)

	s, err := g.Snapshot()
	require.NoError(t, err)
	require.Len(t, s.Classes, 5)
	for i, c := range s.Classes {
		assert.Equal(t, ClassID(i), c.ID)
	}
	root, ok := s.Class(4)
	require.True(t, ok)
	require.Len(t, root.Nodes, 1)
	assert.Equal(t, "add", root.Nodes[0].Label)
	assert.Equal(t, []ClassID{0, 3}, root.Nodes[0].Children)
	assert.Equal(t, NewNode("add", 0, 3).Hash(), root.Nodes[0].Hash)

	_, ok = s.Class(9)
	assert.False(t, ok)
}

func TestDiffSnapshotsAfterMerge(t *testing.T) {
	g := NewEGraph()
	a, _ := g.Add(NewNode("a"))
	b, _ := g.Add(NewNode("b"))
	_, _ = g.Add(NewNode("f", a))
	_, _ = g.Add(NewNode("f", b))
	before, err := g.Snapshot()
	require.NoError(t, err)

	_, _ = g.Union(a, b)
	g.Rebuild()
	after, err := g.Snapshot()
	require.NoError(t, err)

	d := DiffSnapshots(before, after)
	assert.False(t, d.Empty())
	assert.Empty(t, d.AddedClasses)
	assert.ElementsMatch(t, []ClassID{1, 3}, d.MergedClasses)
	assert.Empty(t, d.AddedNodes)
	require.Len(t, d.RemovedNodes, 1)
	assert.Equal(t, NodeRef{Class: 3, Hash: NewNode("f", 1).Hash(), Label: "f"}, d.RemovedNodes[0])

	assert.True(t, DiffSnapshots(after, after).Empty())
}

func TestSnapshotEncodes(t *testing.T) {
	e := newCommEngine(t)
	_, err := e.Step(Auto())
	require.NoError(t, err)
	s, err := e.Snapshot()
	require.NoError(t, err)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	var fromJSON Snapshot
	require.NoError(t, json.Unmarshal(data, &fromJSON))
	assert.Equal(t, s.Classes, fromJSON.Classes)

	out, err := yaml.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(out), "label: add")
}

func TestStepReportEncodesLabels(t *testing.T) {
	e := newCommEngine(t)
	report, err := e.Step(Auto())
	require.NoError(t, err)

	data, err := json.Marshal(report)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"applied":["add_comm"]`)
	assert.Contains(t, string(data), `"matches":{"add_comm":2}`)
}
