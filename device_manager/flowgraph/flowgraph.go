package flowgraph

import (
	"encoding/json"
	"fmt"
	"strconv"
)

const FunctionNode = "function"

// Node and Edge are kept as free-form json objects since the flow editor owns
// their shape. Only the keys read below are interpreted by the backend.
type Node map[string]interface{}

type Edge map[string]interface{}

type Graph struct {
	Nodes []Node
	Edges []Edge
}

func (n Node) Id() string {
	id, _ := stringify(n["id"])
	return id
}

func (n Node) Type() string {
	t, _ := n["type"].(string)
	return t
}

// EntityId returns data.entityId in its string form, numbers and strings are
// treated as equivalent ids.
func (n Node) EntityId() (string, bool) {
	data, ok := n["data"].(map[string]interface{})
	if !ok {
		return "", false
	}
	return stringify(data["entityId"])
}

func (e Edge) Source() string {
	s, _ := stringify(e["source"])
	return s
}

func (e Edge) Target() string {
	t, _ := stringify(e["target"])
	return t
}

func stringify(value interface{}) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint:
		return strconv.FormatUint(uint64(v), 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case json.Number:
		return v.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

// PruneEntityReferences removes every node of the given type referencing
// entityId along with any edge touching a removed node. It returns false and
// leaves the graph untouched when nothing references the entity.
func PruneEntityReferences(g *Graph, nodeType string, entityId string) bool {
	references := func(node Node) bool {
		if node.Type() != nodeType {
			return false
		}
		id, ok := node.EntityId()
		return ok && id == entityId
	}

	removed := make(map[string]struct{})
	for _, node := range g.Nodes {
		if references(node) {
			removed[node.Id()] = struct{}{}
		}
	}

	if len(removed) == 0 {
		return false
	}

	nodes := make([]Node, 0, len(g.Nodes))
	for _, node := range g.Nodes {
		if references(node) {
			continue
		}
		nodes = append(nodes, node)
	}

	edges := make([]Edge, 0, len(g.Edges))
	for _, edge := range g.Edges {
		_, src := removed[edge.Source()]
		_, dst := removed[edge.Target()]
		if src || dst {
			continue
		}
		edges = append(edges, edge)
	}

	g.Nodes = nodes
	g.Edges = edges
	return true
}

func PruneFunctionReferences(g *Graph, functionId uint) bool {
	return PruneEntityReferences(g, FunctionNode, strconv.FormatUint(uint64(functionId), 10))
}

// Validate checks that every node has an id and that ids are unique. Edges
// are not checked since the editor may save half-connected graphs.
func Validate(g *Graph) error {
	seen := make(map[string]struct{}, len(g.Nodes))
	for i, node := range g.Nodes {
		id := node.Id()
		if id == "" {
			return fmt.Errorf("node %d is missing an id", i)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("duplicate node id '%v'", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
