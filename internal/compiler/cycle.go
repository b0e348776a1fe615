package compiler

import (
	"slices"

	"github.com/roach88/graphsync/internal/ir"
)

// refGraph maps a collection to the collections it references.
type refGraph struct {
	nodes []string // declaration order
	edges map[string][]string
}

// buildRefGraph constructs the collection reference graph. Self references
// are left out; Validate reports them on their own.
func buildRefGraph(g *ir.GraphSchema) refGraph {
	rg := refGraph{edges: make(map[string][]string, len(g.Collections))}
	for _, c := range g.Collections {
		rg.nodes = append(rg.nodes, c.Name)
		targets := []string{}
		for _, field := range c.RefFields() {
			t := c.Refs[field]
			if t != c.Name && !slices.Contains(targets, t) {
				targets = append(targets, t)
			}
		}
		rg.edges[c.Name] = targets
	}
	return rg
}

// FindCycles returns every reference cycle between collections as a path
// that starts and ends at the cycle's first-declared member, e.g.
// ["a", "b", "a"]. A graph without cycles returns an empty list.
//
// Uses Tarjan's algorithm; strongly connected components with more than one
// member are cycles.
func FindCycles(g *ir.GraphSchema) [][]string {
	rg := buildRefGraph(g)
	decl := make(map[string]int, len(rg.nodes))
	for i, n := range rg.nodes {
		decl[n] = i
	}

	cycles := [][]string{}
	for _, scc := range tarjanSCC(rg) {
		if len(scc) < 2 {
			continue
		}
		slices.SortFunc(scc, func(a, b string) int { return decl[a] - decl[b] })
		cycles = append(cycles, reconstructCyclePath(scc, rg))
	}
	slices.SortFunc(cycles, func(a, b []string) int { return decl[a[0]] - decl[b[0]] })
	return cycles
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in declaration order so results are deterministic.
func tarjanSCC(rg refGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range rg.edges[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop the stack into an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range rg.nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// reconstructCyclePath builds a cycle path through an SCC starting at its
// first member, following edges within the SCC back to the start.
func reconstructCyclePath(scc []string, rg refGraph) []string {
	start := scc[0]
	path := []string{start}

	var walk func(current string, visited map[string]bool) bool
	walk = func(current string, visited map[string]bool) bool {
		for _, next := range rg.edges[current] {
			if next == start {
				path = append(path, start)
				return true
			}
			if !slices.Contains(scc, next) || visited[next] {
				continue
			}
			visited[next] = true
			path = append(path, next)
			if walk(next, visited) {
				return true
			}
			path = path[:len(path)-1]
		}
		return false
	}
	walk(start, map[string]bool{start: true})
	return path
}
