package egraph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func v(name string) Term { return NewVariable(name) }

func gv(name string) Term { return NewGeneric(name) }

func call(name string, args ...Term) Term { return NewInvocation(name, args...) }

// addXYZ is (add x (add y z)); it interns as x=C0 y=C1 z=C2 (add y z)=C3 root=C4.
func addXYZ() Term {
	return call("add", v("x"), call("add", v("y"), v("z")))
}

func TestAddIsIdempotent(t *testing.T) {
	g := NewEGraph()
	first, err := g.AddTerm(addXYZ())
	require.NoError(t, err)
	second, err := g.AddTerm(addXYZ())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 5, g.ClassCount())
	n, err := g.NodeCount()
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestAddSharesSubterms(t *testing.T) {
	g := NewEGraph()
	_, err := g.AddTerm(call("f", call("g", v("a")), call("g", v("a"))))
	require.NoError(t, err)
	assert.Equal(t, 3, g.ClassCount(), "a, (g a) and the root")
}

func TestNullaryInvocationInternsLikeVariable(t *testing.T) {
	g := NewEGraph()
	a, err := g.AddTerm(v("nil"))
	require.NoError(t, err)
	b, err := g.AddTerm(call("nil"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestAddRejectsGenericAndUnknownChildren(t *testing.T) {
	g := NewEGraph()

	_, err := g.AddTerm(call("f", gv("?a")))
	require.ErrorIs(t, err, ErrGenericInProgram)
	var cfg *ConfigurationError
	require.True(t, errors.As(err, &cfg))

	_, err = g.AddTerm(nil)
	require.ErrorIs(t, err, ErrNilTerm)

	_, err = g.Add(NewNode("f", 7))
	require.ErrorIs(t, err, ErrUnknownClass)
	var inv *InvariantError
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, ClassID(7), inv.Class)
	assert.Equal(t, 0, g.ClassCount())
}

func TestLookup(t *testing.T) {
	g := NewEGraph()
	a, _ := g.Add(NewNode("a"))
	fa, _ := g.Add(NewNode("f", a))

	id, ok, err := g.Lookup(NewNode("f", a))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, fa, id)

	_, ok, err = g.Lookup(NewNode("g", a))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = g.Lookup(NewNode("g", 42))
	assert.ErrorIs(t, err, ErrUnknownClass)
}

func TestUnionIsTransitive(t *testing.T) {
	g := NewEGraph()
	a, _ := g.Add(NewNode("a"))
	b, _ := g.Add(NewNode("b"))
	c, _ := g.Add(NewNode("c"))

	_, err := g.Union(a, b)
	require.NoError(t, err)
	_, err = g.Union(b, c)
	require.NoError(t, err)
	g.Rebuild()

	ra, _ := g.Find(a)
	rb, _ := g.Find(b)
	rc, _ := g.Find(c)
	assert.Equal(t, ra, rb)
	assert.Equal(t, rb, rc)
	assert.Equal(t, 1, g.ClassCount())
	assert.Equal(t, 3, g.TotalIDs(), "ids are never reused")

	eq, err := g.Equivalent(a, c)
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestUnionWithItselfIsNoop(t *testing.T) {
	g := NewEGraph()
	a, _ := g.Add(NewNode("a"))
	version := g.Version()

	root, err := g.Union(a, a)
	require.NoError(t, err)
	assert.Equal(t, a, root)
	assert.False(t, g.Dirty())
	assert.Equal(t, version, g.Version())
}

func TestUnionRepresentative(t *testing.T) {
	t.Run("tie keeps smaller id", func(t *testing.T) {
		g := NewEGraph()
		a, _ := g.Add(NewNode("a"))
		b, _ := g.Add(NewNode("b"))
		root, err := g.Union(b, a)
		require.NoError(t, err)
		assert.Equal(t, a, root)
	})

	t.Run("more parents survives", func(t *testing.T) {
		g := NewEGraph()
		x, _ := g.Add(NewNode("x"))
		y, _ := g.Add(NewNode("y"))
		_, _ = g.Add(NewNode("f", y))
		root, err := g.Union(x, y)
		require.NoError(t, err)
		assert.Equal(t, y, root)
	})

	t.Run("more nodes breaks parent tie", func(t *testing.T) {
		g := NewEGraph()
		a, _ := g.Add(NewNode("a"))
		b, _ := g.Add(NewNode("b"))
		c, _ := g.Add(NewNode("c"))
		_, _ = g.Union(b, c)
		g.Rebuild()
		root, err := g.Union(a, b)
		require.NoError(t, err)
		assert.Equal(t, b, root)
	})
}

func TestUnionUnknownClass(t *testing.T) {
	g := NewEGraph()
	a, _ := g.Add(NewNode("a"))
	_, err := g.Union(a, 9)
	assert.ErrorIs(t, err, ErrUnknownClass)
	_, err = g.Find(9)
	assert.ErrorIs(t, err, ErrUnknownClass)
	_, err = g.Class(9)
	assert.ErrorIs(t, err, ErrUnknownClass)
}

func TestRebuildClosesCongruence(t *testing.T) {
	g := NewEGraph()
	a, _ := g.Add(NewNode("a"))
	b, _ := g.Add(NewNode("b"))
	fa, _ := g.Add(NewNode("f", a))
	fb, _ := g.Add(NewNode("f", b))

	_, err := g.Union(a, b)
	require.NoError(t, err)
	require.True(t, g.Dirty())

	merges := g.Rebuild()
	assert.Equal(t, 1, merges)
	assert.False(t, g.Dirty())

	eq, err := g.Equivalent(fa, fb)
	require.NoError(t, err)
	assert.True(t, eq)
	assert.Equal(t, 2, g.ClassCount())

	n, err := g.NodeCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n, "a, b and one canonical f node")

	cls, err := g.Class(fb)
	require.NoError(t, err)
	assert.Equal(t, 1, cls.Len())
}

func TestRebuildPropagatesUpwards(t *testing.T) {
	g := NewEGraph()
	a, _ := g.Add(NewNode("a"))
	b, _ := g.Add(NewNode("b"))
	fa, _ := g.Add(NewNode("f", a))
	fb, _ := g.Add(NewNode("f", b))
	gfa, _ := g.Add(NewNode("g", fa))
	gfb, _ := g.Add(NewNode("g", fb))

	_, _ = g.Union(a, b)
	assert.Equal(t, 2, g.Rebuild())

	eq, _ := g.Equivalent(gfa, gfb)
	assert.True(t, eq)
	assert.Equal(t, 3, g.ClassCount())

	// Hash-consing sees the merged form.
	id, ok, err := g.Lookup(NewNode("g", fb))
	require.NoError(t, err)
	require.True(t, ok)
	root, _ := g.Find(gfa)
	assert.Equal(t, root, id)
}

func TestRebuildRepairsNodesOfUntouchedClasses(t *testing.T) {
	g := NewEGraph()
	a, _ := g.Add(NewNode("a"))
	b, _ := g.Add(NewNode("b"))
	_, _ = g.Add(NewNode("g", a))
	_, _ = g.Add(NewNode("k", a))
	fb, _ := g.Add(NewNode("f", b))
	_, _ = g.Add(NewNode("h", fb))

	root, _ := g.Union(a, b)
	require.Equal(t, a, root, "a has more parents")
	g.Rebuild()

	cls, err := g.Class(fb)
	require.NoError(t, err)
	require.Equal(t, 1, cls.Len())
	assert.Equal(t, []ClassID{root}, cls.Nodes()[0].Children)
}

func TestRebuildDropsStaleIndexEntries(t *testing.T) {
	g := NewEGraph()
	a, _ := g.Add(NewNode("a"))
	b, _ := g.Add(NewNode("b"))
	c, _ := g.Add(NewNode("c"))
	d, _ := g.Add(NewNode("d"))
	_, _ = g.Add(NewNode("f", a, b))
	// c and d get more parents than a and b, so a and b are absorbed and
	// (f a b) is re-interned once per merge.
	for _, x := range []ClassID{c, d} {
		_, _ = g.Add(NewNode("h", x))
		_, _ = g.Add(NewNode("k", x))
	}

	indexed := func() {
		t.Helper()
		n, err := g.NodeCount()
		require.NoError(t, err)
		assert.Len(t, g.memo, n)
	}

	root, _ := g.Union(a, c)
	require.Equal(t, c, root)
	g.Rebuild()
	indexed()

	root, _ = g.Union(b, d)
	require.Equal(t, d, root)
	g.Rebuild()
	indexed()

	assert.Equal(t, 7, g.ClassCount())
	fcd, ok, err := g.Lookup(NewNode("f", c, d))
	require.NoError(t, err)
	require.True(t, ok)
	fab, ok, err := g.Lookup(NewNode("f", a, b))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fcd, fab)
}

func TestRebuildCascadeKeepsIndexTight(t *testing.T) {
	g := NewEGraph()
	a, _ := g.Add(NewNode("a"))
	b, _ := g.Add(NewNode("b"))
	fa, _ := g.Add(NewNode("f", a))
	fb, _ := g.Add(NewNode("f", b))
	_, _ = g.Add(NewNode("g", fa, a))
	_, _ = g.Add(NewNode("g", fb, b))

	_, _ = g.Union(a, b)
	assert.Equal(t, 2, g.Rebuild())

	n, err := g.NodeCount()
	require.NoError(t, err)
	assert.Equal(t, 4, n, "a, b, one f node and one g node")
	assert.Len(t, g.memo, n)
}

func TestDirtyGraphRejectsQueries(t *testing.T) {
	g := NewEGraph()
	a, _ := g.Add(NewNode("a"))
	b, _ := g.Add(NewNode("b"))
	_, _ = g.Union(a, b)

	_, err := g.NodeCount()
	assert.ErrorIs(t, err, ErrNeedsRebuild)
	_, err = g.Search(PatternOp{Op: "a"})
	assert.ErrorIs(t, err, ErrNeedsRebuild)
	_, err = g.Snapshot()
	assert.ErrorIs(t, err, ErrNeedsRebuild)
	_, err = NewExtractor(g, nil)
	assert.ErrorIs(t, err, ErrNeedsRebuild)

	var inv *InvariantError
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, "extract", inv.Op)

	g.Rebuild()
	_, err = g.NodeCount()
	assert.NoError(t, err)
}

func TestStatsAreRecorded(t *testing.T) {
	g := NewEGraph()
	a, _ := g.Add(NewNode("a"))
	b, _ := g.Add(NewNode("b"))
	_, _ = g.Add(NewNode("f", a))
	_, _ = g.Add(NewNode("f", b))
	_, _ = g.Union(a, b)
	g.Rebuild()

	s := g.Stats().Snapshot()
	assert.Equal(t, 4, s.NodesAdded)
	assert.Equal(t, 2, s.Unions)
	assert.Equal(t, 1, s.Rebuilds)
	assert.Equal(t, 1, s.CongruenceMerges)
	assert.Contains(t, s.String(), "4 nodes added")
}

func TestNodeHashIsStructural(t *testing.T) {
	assert.Equal(t, NewNode("f", 1, 2).Hash(), NewNode("f", 1, 2).Hash())
	assert.NotEqual(t, NewNode("f", 1, 2).Hash(), NewNode("f", 2, 1).Hash())
	assert.NotEqual(t, NewNode("f", 12).Hash(), NewNode("f", 1, 2).Hash())
	assert.Equal(t, "(f C1 C2)", NewNode("f", 1, 2).String())
	assert.True(t, NewNode("x").IsLeaf())
}
