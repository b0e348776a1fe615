package compiler

import (
	"fmt"

	"github.com/roach88/graphsync/internal/ir"
)

// Order returns the collection names parents-first: every collection comes
// after every collection it references. Among collections whose parents are
// all placed, declaration order wins.
func Order(g *ir.GraphSchema) ([]string, error) {
	rg := buildRefGraph(g)
	for _, c := range g.Collections {
		for _, t := range rg.edges[c.Name] {
			if _, ok := rg.edges[t]; !ok {
				return nil, fmt.Errorf("order graph %s: %s references unknown collection %q", g.Name, c.Name, t)
			}
		}
	}

	placed := make(map[string]bool, len(rg.nodes))
	order := make([]string, 0, len(rg.nodes))
	for len(order) < len(rg.nodes) {
		progressed := false
		for _, n := range rg.nodes {
			if placed[n] || !allPlaced(rg.edges[n], placed) {
				continue
			}
			placed[n] = true
			order = append(order, n)
			progressed = true
			break
		}
		if !progressed {
			return nil, fmt.Errorf("order graph %s: reference cycle among unplaced collections", g.Name)
		}
	}
	return order, nil
}

func allPlaced(deps []string, placed map[string]bool) bool {
	for _, d := range deps {
		if !placed[d] {
			return false
		}
	}
	return true
}
