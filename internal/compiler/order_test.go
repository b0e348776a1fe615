package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphsync/internal/ir"
)

func TestOrder_ParentsFirst(t *testing.T) {
	g := refSchema(
		ir.CollectionSchema{Name: "assignee", Refs: map[string]string{"nodeId": "node"}},
		ir.CollectionSchema{Name: "node", Refs: map[string]string{"instanceId": "instance"}},
		ir.CollectionSchema{Name: "instance"},
		ir.CollectionSchema{Name: "dependency", Refs: map[string]string{"nodeId": "node", "dependsOnNodeId": "node"}},
	)
	order, err := Order(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"instance", "node", "assignee", "dependency"}, order)
}

func TestOrder_DeclarationTieBreak(t *testing.T) {
	g := refSchema(
		ir.CollectionSchema{Name: "zeta"},
		ir.CollectionSchema{Name: "alpha"},
		ir.CollectionSchema{Name: "child", Refs: map[string]string{"a": "alpha", "z": "zeta"}},
	)
	order, err := Order(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "child"}, order)
}

func TestOrder_Errors(t *testing.T) {
	_, err := Order(refSchema(
		ir.CollectionSchema{Name: "a", Refs: map[string]string{"b": "b"}},
		ir.CollectionSchema{Name: "b", Refs: map[string]string{"a": "a"}},
	))
	assert.Error(t, err)

	_, err = Order(refSchema(ir.CollectionSchema{Name: "a", Refs: map[string]string{"b": "ghost"}}))
	assert.Error(t, err)
}
