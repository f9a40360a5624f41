package flowgraph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeGraph(t *testing.T, nodes, edges string) *Graph {
	g := &Graph{}
	require.NoError(t, json.Unmarshal([]byte(nodes), &g.Nodes))
	require.NoError(t, json.Unmarshal([]byte(edges), &g.Edges))
	return g
}

func nodeIds(g *Graph) []string {
	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.Id())
	}
	return ids
}

func TestPruneFunctionReferences(t *testing.T) {
	g := decodeGraph(t,
		`[{"id":"a","type":"device","data":{"entityId":5}},
		  {"id":"b","type":"function","data":{"entityId":5}},
		  {"id":"c","type":"function","data":{"entityId":"5"}},
		  {"id":"d","type":"function","data":{"entityId":6}}]`,
		`[{"id":"e1","source":"a","target":"b"},
		  {"id":"e2","source":"c","target":"d"},
		  {"id":"e3","source":"a","target":"d"}]`,
	)

	assert.True(t, PruneFunctionReferences(g, 5))
	assert.Equal(t, []string{"a", "d"}, nodeIds(g))
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "a", g.Edges[0].Source())
	assert.Equal(t, "d", g.Edges[0].Target())
}

func TestPruneIsIdempotent(t *testing.T) {
	g := decodeGraph(t,
		`[{"id":"n1","type":"function","data":{"entityId":7}},{"id":"n2","type":"integration","data":{"entityId":7}}]`,
		`[{"source":"n1","target":"n2"}]`,
	)

	assert.True(t, PruneFunctionReferences(g, 7))
	nodes, edges := len(g.Nodes), len(g.Edges)

	assert.False(t, PruneFunctionReferences(g, 7))
	assert.Len(t, g.Nodes, nodes)
	assert.Len(t, g.Edges, edges)
	assert.Equal(t, []string{"n2"}, nodeIds(g))
	assert.Empty(t, g.Edges)
}

func TestPruneNoReferencesLeavesGraph(t *testing.T) {
	g := decodeGraph(t,
		`[{"id":"x","type":"function","data":{}},{"id":"y","type":"function"}]`,
		`[{"source":"x","target":"y"}]`,
	)

	assert.False(t, PruneFunctionReferences(g, 1))
	assert.Len(t, g.Nodes, 2)
	assert.Len(t, g.Edges, 1)
}

func TestPruneEmptyGraph(t *testing.T) {
	g := &Graph{}
	assert.False(t, PruneFunctionReferences(g, 1))
	assert.Nil(t, g.Nodes)
	assert.Nil(t, g.Edges)
}

func TestEntityIdForms(t *testing.T) {
	cases := []struct {
		node Node
		id   string
		ok   bool
	}{
		{Node{"data": map[string]interface{}{"entityId": float64(12)}}, "12", true},
		{Node{"data": map[string]interface{}{"entityId": "12"}}, "12", true},
		{Node{"data": map[string]interface{}{"entityId": 12}}, "12", true},
		{Node{"data": map[string]interface{}{"entityId": json.Number("12")}}, "12", true},
		{Node{"data": map[string]interface{}{}}, "", false},
		{Node{"data": "nope"}, "", false},
		{Node{}, "", false},
	}

	for _, c := range cases {
		id, ok := c.node.EntityId()
		assert.Equal(t, c.ok, ok)
		assert.Equal(t, c.id, id)
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(decodeGraph(t, `[{"id":"a"},{"id":1}]`, `[{"source":"a","target":"zz"}]`)))
	assert.NoError(t, Validate(&Graph{}))

	assert.ErrorContains(t, Validate(decodeGraph(t, `[{"id":"a"},{"type":"device"}]`, `[]`)), "node 1 is missing an id")
	assert.ErrorContains(t, Validate(decodeGraph(t, `[{"id":"1"},{"id":1}]`, `[]`)), "duplicate node id '1'")
}
