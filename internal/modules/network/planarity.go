package network

import "sort"

// PlanarityOracle decides whether a simple undirected graph on n vertices is planar.
type PlanarityOracle interface {
	IsPlanar(n int, edges [][2]int) bool
}

// LRPlanarity is the left-right planarity test (de Fraysseix, Rosenstiehl; Brandes).
// It runs in linear time and builds no embedding.
type LRPlanarity struct{}

const noArc = -1

// interval is a range of return edges, identified by their arcs.
type interval struct {
	low, high int
}

func emptyInterval() interval { return interval{low: noArc, high: noArc} }

func (iv interval) empty() bool { return iv.low == noArc && iv.high == noArc }

// conflictPair holds two intervals of return edges that must lie on opposite sides.
type conflictPair struct {
	left, right interval
}

func (c *conflictPair) swap() { c.left, c.right = c.right, c.left }

// lrState carries one run of the test.
type lrState struct {
	adj    [][]halfEdge // undirected adjacency
	height []int

	// per arc, indexed by arc id
	from, to    []int
	lowpt       []int
	lowpt2      []int
	nesting     []int
	ref         []int
	lowptEdge   []int
	stackBottom []*conflictPair
	parentEdge  []int // per vertex
	oriented    []bool
	outArcs     [][]int // per vertex, ordered by nesting depth after orientation
	stack       []*conflictPair
	roots       []int
}

type halfEdge struct {
	to, edge int
}

// IsPlanar implements PlanarityOracle. Self-loops and duplicate edges are ignored.
func (LRPlanarity) IsPlanar(n int, edges [][2]int) bool {
	seen := make(map[[2]int]struct{}, len(edges))
	simple := make([][2]int, 0, len(edges))
	for _, e := range edges {
		a, b := e[0], e[1]
		if a == b {
			continue
		}
		if a > b {
			a, b = b, a
		}
		key := [2]int{a, b}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		simple = append(simple, key)
	}
	if n > 2 && len(simple) > 3*n-6 {
		return false
	}

	st := newLRState(n, simple)
	for v := 0; v < n; v++ {
		if st.height[v] < 0 {
			st.height[v] = 0
			st.roots = append(st.roots, v)
			st.orient(v)
		}
	}
	for v := 0; v < n; v++ {
		arcs := st.outArcs[v]
		sort.SliceStable(arcs, func(a, b int) bool { return st.nesting[arcs[a]] < st.nesting[arcs[b]] })
	}
	for _, r := range st.roots {
		if !st.test(r) {
			return false
		}
	}
	return true
}

func newLRState(n int, edges [][2]int) *lrState {
	m := len(edges)
	st := &lrState{
		adj:         make([][]halfEdge, n),
		height:      make([]int, n),
		from:        make([]int, 0, m),
		to:          make([]int, 0, m),
		lowpt:       make([]int, 0, m),
		lowpt2:      make([]int, 0, m),
		nesting:     make([]int, 0, m),
		ref:         make([]int, 0, m),
		lowptEdge:   make([]int, 0, m),
		stackBottom: make([]*conflictPair, 0, m),
		parentEdge:  make([]int, n),
		oriented:    make([]bool, m),
		outArcs:     make([][]int, n),
	}
	for v := 0; v < n; v++ {
		st.height[v] = -1
		st.parentEdge[v] = noArc
	}
	for k, e := range edges {
		st.adj[e[0]] = append(st.adj[e[0]], halfEdge{to: e[1], edge: k})
		st.adj[e[1]] = append(st.adj[e[1]], halfEdge{to: e[0], edge: k})
	}
	return st
}

func (st *lrState) newArc(v, w int) int {
	id := len(st.from)
	st.from = append(st.from, v)
	st.to = append(st.to, w)
	st.lowpt = append(st.lowpt, 0)
	st.lowpt2 = append(st.lowpt2, 0)
	st.nesting = append(st.nesting, 0)
	st.ref = append(st.ref, noArc)
	st.lowptEdge = append(st.lowptEdge, noArc)
	st.stackBottom = append(st.stackBottom, nil)
	st.outArcs[v] = append(st.outArcs[v], id)
	return id
}

// orient is the first DFS: it directs every edge and computes lowpoints and nesting depths.
func (st *lrState) orient(v int) {
	e := st.parentEdge[v]
	for _, he := range st.adj[v] {
		if st.oriented[he.edge] {
			continue
		}
		st.oriented[he.edge] = true
		w := he.to
		vw := st.newArc(v, w)
		st.lowpt[vw] = st.height[v]
		st.lowpt2[vw] = st.height[v]
		if st.height[w] < 0 {
			// tree edge
			st.parentEdge[w] = vw
			st.height[w] = st.height[v] + 1
			st.orient(w)
		} else {
			// back edge
			st.lowpt[vw] = st.height[w]
		}

		st.nesting[vw] = 2 * st.lowpt[vw]
		if st.lowpt2[vw] < st.height[v] {
			// chordal
			st.nesting[vw]++
		}

		if e != noArc {
			switch {
			case st.lowpt[vw] < st.lowpt[e]:
				st.lowpt2[e] = min(st.lowpt[e], st.lowpt2[vw])
				st.lowpt[e] = st.lowpt[vw]
			case st.lowpt[vw] > st.lowpt[e]:
				st.lowpt2[e] = min(st.lowpt2[e], st.lowpt[vw])
			default:
				st.lowpt2[e] = min(st.lowpt2[e], st.lowpt2[vw])
			}
		}
	}
}

func (st *lrState) top() *conflictPair {
	if len(st.stack) == 0 {
		return nil
	}
	return st.stack[len(st.stack)-1]
}

func (st *lrState) pop() *conflictPair {
	c := st.stack[len(st.stack)-1]
	st.stack = st.stack[:len(st.stack)-1]
	return c
}

func (st *lrState) conflicting(iv interval, b int) bool {
	return !iv.empty() && iv.high != noArc && st.lowpt[iv.high] > st.lowpt[b]
}

func (st *lrState) lowest(c *conflictPair) int {
	switch {
	case c.left.empty():
		return st.lowpt[c.right.low]
	case c.right.empty():
		return st.lowpt[c.left.low]
	default:
		return min(st.lowpt[c.left.low], st.lowpt[c.right.low])
	}
}

// test is the second DFS: it maintains the conflict-pair stack and fails on the first
// pair of return edges that cannot be placed on opposite sides.
func (st *lrState) test(v int) bool {
	e := st.parentEdge[v]
	arcs := st.outArcs[v]
	for idx, ei := range arcs {
		w := st.to[ei]
		st.stackBottom[ei] = st.top()
		if ei == st.parentEdge[w] {
			if !st.test(w) {
				return false
			}
		} else {
			st.lowptEdge[ei] = ei
			st.stack = append(st.stack, &conflictPair{left: emptyInterval(), right: interval{low: ei, high: ei}})
		}

		if st.lowpt[ei] < st.height[v] {
			if idx == 0 {
				st.lowptEdge[e] = st.lowptEdge[ei]
			} else if !st.addConstraints(ei, e) {
				return false
			}
		}
	}
	if e != noArc {
		st.removeBackEdges(e)
	}
	return true
}

func (st *lrState) addConstraints(ei, e int) bool {
	p := &conflictPair{left: emptyInterval(), right: emptyInterval()}

	// merge return edges of ei into p.right
	for {
		q := st.pop()
		if !q.left.empty() {
			q.swap()
		}
		if !q.left.empty() {
			return false
		}
		if st.lowpt[q.right.low] > st.lowpt[e] {
			if p.right.empty() {
				p.right = q.right
			} else {
				st.ref[p.right.low] = q.right.high
			}
			p.right.low = q.right.low
		} else {
			st.ref[q.right.low] = st.lowptEdge[e]
		}
		if st.top() == st.stackBottom[ei] {
			break
		}
	}

	// merge conflicting return edges of earlier siblings into p.left
	for len(st.stack) > 0 && (st.conflicting(st.top().left, ei) || st.conflicting(st.top().right, ei)) {
		q := st.pop()
		if st.conflicting(q.right, ei) {
			q.swap()
		}
		if st.conflicting(q.right, ei) {
			return false
		}
		if p.right.low != noArc {
			st.ref[p.right.low] = q.right.high
		}
		if q.right.low != noArc {
			p.right.low = q.right.low
		}
		if p.left.empty() {
			p.left = q.left
		} else if p.left.low != noArc {
			st.ref[p.left.low] = q.left.high
		}
		p.left.low = q.left.low
	}

	if !p.left.empty() || !p.right.empty() {
		st.stack = append(st.stack, p)
	}
	return true
}

func (st *lrState) removeBackEdges(e int) {
	u := st.from[e]

	// drop whole conflict pairs returning to u
	for len(st.stack) > 0 && st.lowest(st.top()) == st.height[u] {
		st.pop()
	}

	if len(st.stack) > 0 {
		p := st.pop()
		for p.left.high != noArc && st.to[p.left.high] == u {
			p.left.high = st.ref[p.left.high]
		}
		if p.left.high == noArc && p.left.low != noArc {
			st.ref[p.left.low] = p.right.low
			p.left.low = noArc
		}
		for p.right.high != noArc && st.to[p.right.high] == u {
			p.right.high = st.ref[p.right.high]
		}
		if p.right.high == noArc && p.right.low != noArc {
			st.ref[p.right.low] = p.left.low
			p.right.low = noArc
		}
		st.stack = append(st.stack, p)
	}

	// the side of e follows its highest return edge
	if st.lowpt[e] < st.height[u] && len(st.stack) > 0 {
		hl, hr := st.top().left.high, st.top().right.high
		if hl != noArc && (hr == noArc || st.lowpt[hl] > st.lowpt[hr]) {
			st.ref[e] = hl
		} else {
			st.ref[e] = hr
		}
	}
}
