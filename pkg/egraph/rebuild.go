package egraph

import (
	"sort"
	"time"
)

// Rebuild restores congruence closure after one or more unions.
//
// While any parent reference is pending, it drops the stale hash-cons entry
// of the parent node, re-canonicalizes the node's children and re-interns it.
// If the canonical node already belongs to another class, the two classes are
// congruent and are merged, which may queue further parents. Every union
// strictly decreases the number of live classes, so the loop terminates.
// Finally the node and parent lists of every affected class are
// canonicalized and deduplicated. Affected classes include the children of
// every re-interned node, since each child holds a copy of it as a parent
// reference.
//
// Rebuild must be called before Search, Extract or NodeCount; skipping it
// makes pattern search miss matches. It returns the number of congruence
// merges it performed.
func (g *EGraph) Rebuild() int {
	if !g.Dirty() {
		return 0
	}
	start := time.Now()
	merges := 0
	interned := make(map[string]Node)

	for len(g.pending) > 0 {
		todo := g.pending
		g.pending = nil
		for _, p := range todo {
			delete(g.memo, p.node.key())
			n := g.canonicalize(p.node)
			key := n.key()
			cls := g.find(p.class)
			g.touched[cls] = struct{}{}
			for _, ch := range n.Children {
				g.touched[ch] = struct{}{}
			}
			if existing, ok := g.memo[key]; ok {
				if _, merged := g.union(existing, cls); merged {
					merges++
				}
				continue
			}
			g.memo[key] = cls
			interned[key] = n
		}
	}

	g.repairClasses()

	// A key interned early in this rebuild goes stale when a later merge
	// absorbs one of its children.
	for key, n := range interned {
		if g.canonicalize(n).key() != key {
			delete(g.memo, key)
		}
	}
	g.stats.RecordRebuild(time.Since(start), merges)
	return merges
}

// repairClasses canonicalizes and deduplicates the nodes and parents of every
// class touched by a union since the last rebuild.
func (g *EGraph) repairClasses() {
	ids := make([]ClassID, 0, len(g.touched))
	seen := make(map[ClassID]struct{}, len(g.touched))
	for id := range g.touched {
		root := g.find(id)
		if _, dup := seen[root]; dup {
			continue
		}
		seen[root] = struct{}{}
		ids = append(ids, root)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	g.touched = make(map[ClassID]struct{})

	for _, id := range ids {
		c := g.classes[id]

		nodes := c.nodes[:0:0]
		keys := make(map[string]struct{}, len(c.nodes))
		for _, n := range c.nodes {
			n = g.canonicalize(n)
			k := n.key()
			if _, dup := keys[k]; dup {
				continue
			}
			keys[k] = struct{}{}
			nodes = append(nodes, n)
			g.memo[k] = id
		}
		c.nodes = nodes

		parents := c.parents[:0:0]
		pkeys := make(map[string]struct{}, len(c.parents))
		for _, p := range c.parents {
			p = parentRef{node: g.canonicalize(p.node), class: g.find(p.class)}
			k := p.node.key() + "|" + p.class.String()
			if _, dup := pkeys[k]; dup {
				continue
			}
			pkeys[k] = struct{}{}
			parents = append(parents, p)
		}
		c.parents = parents
	}
	g.version++
}
