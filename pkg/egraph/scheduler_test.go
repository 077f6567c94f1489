package egraph

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var addComm = NamedLabel("add_comm")

func newCommEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	rs, err := NewRuleSet(commRule(addComm))
	require.NoError(t, err)
	e, err := NewEngine(addXYZ(), rs, opts...)
	require.NoError(t, err)
	return e
}

func TestStepNamedRule(t *testing.T) {
	e := newCommEngine(t)

	first, err := e.Step(Only(addComm))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Iteration)
	assert.Equal(t, []RuleLabel{addComm}, first.Applied)
	assert.Equal(t, 2, first.Matches[addComm], "outer and inner add")
	assert.Equal(t, 5, first.NodesBefore)
	assert.Equal(t, 7, first.NodesAfter)
	assert.Equal(t, 5, first.ClassesAfter)
	assert.True(t, first.Changed())
	assert.Len(t, first.Diff.AddedNodes, 2)
	assert.Empty(t, first.Diff.MergedClasses)

	// The outer node is now congruent with (add (add y z) x).
	swapped, ok, err := e.Graph().Lookup(NewNode("add", 3, 0))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e.Root(), swapped)

	second, err := e.Step(Only(addComm))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Iteration)
	assert.Empty(t, second.Applied)
	assert.Equal(t, []RuleLabel{addComm}, second.Fired, "fired without change")
	assert.True(t, second.Diff.Empty())
	assert.False(t, second.Changed())
}

func TestStepNoopRuleIsNotApplied(t *testing.T) {
	identity := MustRule(NamedLabel("id"), call("add", gv("?a"), gv("?b")), call("add", gv("?a"), gv("?b")))
	rs, err := NewRuleSet(identity)
	require.NoError(t, err)
	e, err := NewEngine(addXYZ(), rs)
	require.NoError(t, err)

	report, err := e.Step(Only(NamedLabel("id")))
	require.NoError(t, err)
	assert.Empty(t, report.Applied)
	assert.Equal(t, []RuleLabel{NamedLabel("id")}, report.Fired)
	assert.Equal(t, report.NodesBefore, report.NodesAfter)
}

func TestStepFiresRuleOnce(t *testing.T) {
	// (f ?a) -> (f (f ?a)) would grow forever if re-fired on its own output.
	grow := MustRule(NamedLabel("grow"), call("f", gv("?a")), call("f", call("f", gv("?a"))))
	rs, err := NewRuleSet(grow)
	require.NoError(t, err)
	e, err := NewEngine(call("f", v("x")), rs)
	require.NoError(t, err)

	report, err := e.Step(Only(NamedLabel("grow")))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Iteration)
	assert.Equal(t, 1, report.Matches[NamedLabel("grow")])
	assert.Equal(t, 3, report.NodesAfter, "x, (f x) and one new f node")
	assert.Equal(t, 2, report.ClassesAfter)
	assert.Equal(t, 1, e.Iteration())

	// The class of (f x) now contains f of itself; another step adds nothing.
	report, err = e.Step(Only(NamedLabel("grow")))
	require.NoError(t, err)
	assert.Empty(t, report.Applied)

	x, err := e.Extract()
	require.NoError(t, err)
	assert.Equal(t, "(f x)", x.Expr)
}

func TestStepUnknownRuleLeavesStateUntouched(t *testing.T) {
	e := newCommEngine(t)
	classes := e.Graph().ClassCount()
	version := e.Graph().Version()

	_, err := e.Step(Only(NamedLabel("nonexistent")))
	require.Error(t, err)
	var cfg *ConfigurationError
	require.True(t, errors.As(err, &cfg))
	assert.ErrorIs(t, err, ErrUnknownRule)
	assert.Equal(t, NamedLabel("nonexistent"), cfg.Label)

	assert.Equal(t, classes, e.Graph().ClassCount())
	assert.Equal(t, version, e.Graph().Version())
	assert.Equal(t, 0, e.Iteration())
	assert.Empty(t, e.History())
}

// unbindRHS rewrites a rule in place so that its RHS uses a variable the LHS
// never binds.
func unbindRHS(r *Rule) {
	r.RHS = PatternOp{Op: "neg", Args: []Pattern{PatternVar{Name: "?z"}}}
}

func TestStepMalformedRuleLeavesStateUntouched(t *testing.T) {
	grow := MustRule(NamedLabel("grow"), call("add", gv("?a"), gv("?b")), call("f", gv("?a")))
	rs, err := NewRuleSet(commRule(addComm), grow)
	require.NoError(t, err)
	e, err := NewEngine(addXYZ(), rs)
	require.NoError(t, err)
	unbindRHS(rs.Rules()[1])

	nodes, err := e.Graph().NodeCount()
	require.NoError(t, err)
	version := e.Graph().Version()

	_, err = e.Step(Auto())
	require.ErrorIs(t, err, ErrUnboundVariable)
	var cfg *ConfigurationError
	require.ErrorAs(t, err, &cfg)
	assert.Equal(t, NamedLabel("grow"), cfg.Label)

	after, err := e.Graph().NodeCount()
	require.NoError(t, err)
	assert.Equal(t, nodes, after, "add_comm must not run before the error")
	assert.Equal(t, version, e.Graph().Version())
	assert.Equal(t, 0, e.Iteration())
	assert.Empty(t, e.History())

	// Rules the strategy does not permit are not checked.
	report, err := e.Step(Only(addComm))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Iteration)
}

func TestStepEmptyRuleSetIsNoop(t *testing.T) {
	e, err := NewEngine(addXYZ(), nil)
	require.NoError(t, err)

	for _, s := range []Strategy{Only(addComm), Auto()} {
		report, err := e.Step(s)
		require.NoError(t, err)
		assert.Equal(t, 0, report.Iteration)
		assert.Empty(t, report.Applied)
		assert.Empty(t, report.Fired)
	}
	assert.Equal(t, 0, e.Iteration())
	assert.Empty(t, e.History())
}

func TestStepNilStrategy(t *testing.T) {
	e := newCommEngine(t)
	_, err := e.Step(nil)
	assert.ErrorIs(t, err, ErrNilStrategy)
}

func TestStepAutoAppliesEveryRule(t *testing.T) {
	rs, err := NewRuleSet(
		commRule(addComm),
		MustRule(NamedLabel("mul_one"), call("mul", gv("?x"), v("1")), gv("?x")),
		MustRule(NamedLabel("unused"), call("neg", gv("?x")), gv("?x")),
	)
	require.NoError(t, err)
	e, err := NewEngine(call("add", v("y"), call("mul", v("x"), v("1"))), rs)
	require.NoError(t, err)

	report, err := e.Step(Auto())
	require.NoError(t, err)
	assert.Equal(t, []RuleLabel{addComm, NamedLabel("mul_one")}, report.Applied)
	assert.Equal(t, 0, report.Matches[NamedLabel("unused")])
	assert.Len(t, report.Diff.MergedClasses, 1)

	assert.Equal(t, "auto", e.History()[0].String())
}

func TestSaturate(t *testing.T) {
	t.Run("reaches fixpoint", func(t *testing.T) {
		e := newCommEngine(t)
		report, err := e.Saturate(context.Background(), 0)
		require.NoError(t, err)
		assert.Equal(t, Saturated, report.Reason)
		assert.Len(t, report.Steps, 2)
	})

	t.Run("step limit", func(t *testing.T) {
		e := newCommEngine(t)
		report, err := e.Saturate(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, StepLimit, report.Reason)
		assert.Len(t, report.Steps, 1)
	})

	t.Run("node limit", func(t *testing.T) {
		e := newCommEngine(t, WithNodeLimit(5))
		report, err := e.Saturate(context.Background(), 0)
		require.NoError(t, err)
		assert.Equal(t, NodeLimit, report.Reason)
		assert.Empty(t, report.Steps)
	})

	t.Run("cancelled", func(t *testing.T) {
		e := newCommEngine(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		report, err := e.Saturate(ctx, 0)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, Cancelled, report.Reason)
		assert.Equal(t, "cancelled", report.Reason.String())
	})

	t.Run("hook sees every step", func(t *testing.T) {
		e := newCommEngine(t)
		var iterations []int
		report, err := e.SaturateFunc(context.Background(), 0, func(r *StepReport) {
			snap, err := e.Snapshot()
			require.NoError(t, err)
			assert.Equal(t, r.Iteration, snap.Iteration)
			iterations = append(iterations, r.Iteration)
		})
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, iterations)
		assert.Len(t, report.Steps, 2)
	})

	t.Run("cancelled between steps", func(t *testing.T) {
		e := newCommEngine(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		report, err := e.SaturateFunc(ctx, 0, func(*StepReport) { cancel() })
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, Cancelled, report.Reason)
		assert.Len(t, report.Steps, 1, "the completed step is still reported")
		assert.Equal(t, 1, e.Iteration())
	})

	t.Run("empty rule set", func(t *testing.T) {
		e, err := NewEngine(addXYZ(), nil)
		require.NoError(t, err)
		report, err := e.Saturate(context.Background(), 0)
		require.NoError(t, err)
		assert.Equal(t, Saturated, report.Reason)
		assert.Empty(t, report.Steps)
	})
}

func TestBackRestoresPreviousSnapshot(t *testing.T) {
	e := newCommEngine(t)
	require.ErrorIs(t, e.Back(), ErrNoHistory)

	initial, err := e.Snapshot()
	require.NoError(t, err)
	_, err = e.Step(Only(addComm))
	require.NoError(t, err)
	afterFirst, err := e.Snapshot()
	require.NoError(t, err)
	_, err = e.Step(Auto())
	require.NoError(t, err)

	require.NoError(t, e.Back())
	got, err := e.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, afterFirst, got)
	assert.Len(t, e.History(), 1)

	require.NoError(t, e.Back())
	got, err = e.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, initial, got)
	assert.Equal(t, 0, e.Iteration())
}

func TestBackFailureKeepsState(t *testing.T) {
	rs, err := NewRuleSet(commRule(addComm))
	require.NoError(t, err)
	e, err := NewEngine(addXYZ(), rs)
	require.NoError(t, err)

	_, err = e.Step(Only(addComm))
	require.NoError(t, err)
	_, err = e.Step(Only(addComm))
	require.NoError(t, err)
	before, err := e.Snapshot()
	require.NoError(t, err)

	// Replaying the first step now fails.
	unbindRHS(rs.Rules()[0])
	require.ErrorIs(t, e.Back(), ErrUnboundVariable)

	got, err := e.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, before, got)
	assert.Equal(t, 2, e.Iteration())
	assert.Len(t, e.History(), 2)
}

func TestResetChangesIdentity(t *testing.T) {
	e := newCommEngine(t)
	id := e.ID()
	_, err := e.Step(Auto())
	require.NoError(t, err)

	require.NoError(t, e.Reset())
	assert.NotEqual(t, id, e.ID())
	assert.Equal(t, 0, e.Iteration())
	assert.Equal(t, 5, e.Graph().ClassCount())
}

func TestEngineSnapshotIsTagged(t *testing.T) {
	e := newCommEngine(t)
	_, err := e.Step(Auto())
	require.NoError(t, err)

	s, err := e.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, e.ID(), s.Engine)
	assert.Equal(t, 1, s.Iteration)
	assert.Equal(t, ClassID(4), s.Root)
	assert.Equal(t, 7, s.NodeCount())

	root, ok := s.Class(s.Root)
	require.True(t, ok)
	assert.Len(t, root.Nodes, 2)
	assert.Len(t, s.Graph()[s.Root], 2)
}

func TestNewEngineRejectsBadPrograms(t *testing.T) {
	_, err := NewEngine(nil, nil)
	assert.ErrorIs(t, err, ErrNilTerm)
	_, err = NewEngine(call("f", gv("?a")), nil)
	assert.ErrorIs(t, err, ErrGenericInProgram)
}

func TestMetricsTrackSteps(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	e := newCommEngine(t, WithMetrics(m))

	_, err := e.Step(Only(addComm))
	require.NoError(t, err)
	_, err = e.Step(Only(addComm))
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.steps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.applied.WithLabelValues("add_comm")))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.matches.WithLabelValues("add_comm")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.nodes))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.classes))

	n, err := testutil.GatherAndCount(reg, "eggstep_rebuild_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
