package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/graphsync/internal/ir"
)

func refSchema(decls ...ir.CollectionSchema) *ir.GraphSchema {
	return &ir.GraphSchema{Name: "g", Collections: decls}
}

func TestFindCycles_DAG(t *testing.T) {
	g := refSchema(
		ir.CollectionSchema{Name: "instance"},
		ir.CollectionSchema{Name: "node", Refs: map[string]string{"instanceId": "instance"}},
		ir.CollectionSchema{Name: "dep", Refs: map[string]string{"a": "node", "b": "node"}},
	)
	assert.Empty(t, FindCycles(g))
}

func TestFindCycles_IgnoresSelfLoops(t *testing.T) {
	g := refSchema(ir.CollectionSchema{Name: "node", Refs: map[string]string{"parent": "node"}})
	assert.Empty(t, FindCycles(g), "self references are reported by Validate")
}

func TestFindCycles_TwoNode(t *testing.T) {
	g := refSchema(
		ir.CollectionSchema{Name: "b", Refs: map[string]string{"a": "a"}},
		ir.CollectionSchema{Name: "a", Refs: map[string]string{"b": "b"}},
	)
	assert.Equal(t, [][]string{{"b", "a", "b"}}, FindCycles(g), "path starts at first-declared member")
}

func TestFindCycles_Separate(t *testing.T) {
	g := refSchema(
		ir.CollectionSchema{Name: "a", Refs: map[string]string{"b": "b"}},
		ir.CollectionSchema{Name: "b", Refs: map[string]string{"a": "a"}},
		ir.CollectionSchema{Name: "c", Refs: map[string]string{"d": "d"}},
		ir.CollectionSchema{Name: "d", Refs: map[string]string{"e": "e"}},
		ir.CollectionSchema{Name: "e", Refs: map[string]string{"c": "c"}},
	)
	assert.Equal(t, [][]string{
		{"a", "b", "a"},
		{"c", "d", "e", "c"},
	}, FindCycles(g))
}

func TestFindCycles_Deterministic(t *testing.T) {
	g := refSchema(
		ir.CollectionSchema{Name: "x", Refs: map[string]string{"p": "y", "q": "z"}},
		ir.CollectionSchema{Name: "y", Refs: map[string]string{"r": "x"}},
		ir.CollectionSchema{Name: "z", Refs: map[string]string{"s": "x"}},
	)
	first := FindCycles(g)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, FindCycles(g))
	}
	assert.Equal(t, [][]string{{"x", "y", "x"}}, first)
}
