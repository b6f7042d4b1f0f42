// Package graph runs a request through a small state machine of named
// steps and condition nodes.
package graph

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sweetpotato0/esg-rag/pkg/telemetry"
)

// NodeType represents the type of a node in the graph
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeEnd       NodeType = "end"
	NodeTypeStep      NodeType = "step"
	NodeTypeCondition NodeType = "condition"
)

// NodeFunc is the function executed by a node. It may mutate and return
// the state it was given.
type NodeFunc[S any] func(context.Context, S) (S, error)

// ConditionFunc evaluates a condition and returns a branch label.
type ConditionFunc[S any] func(context.Context, S) (string, error)

// Node represents a node in the execution graph
type Node[S any] struct {
	Name      string
	Type      NodeType
	Execute   NodeFunc[S]
	Condition ConditionFunc[S] // Only for condition nodes
	Next      string           // Outgoing edge of non-condition nodes
	NextMap   map[string]string
}

// Graph is an immutable execution flow. It is safe for concurrent use once
// built; every Execute call carries its own state.
type Graph[S any] struct {
	nodes     map[string]*Node[S]
	startNode string
	endNode   string
	maxVisits int
}

// Execute walks the graph from the start node until the end node runs.
// Condition nodes pick the next node through NextMap; the context is
// checked between nodes.
func (g *Graph[S]) Execute(ctx context.Context, state S) (S, error) {
	visited := make(map[string]int)
	current := g.startNode

	for {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		node := g.nodes[current]
		visited[current]++
		if visited[current] > g.maxVisits {
			return state, fmt.Errorf("infinite loop detected at node %s", current)
		}

		if node.Type == NodeTypeCondition {
			label, err := node.Condition(ctx, state)
			if err != nil {
				return state, fmt.Errorf("error evaluating condition at node %s: %w", node.Name, err)
			}
			next, ok := node.NextMap[label]
			if !ok {
				return state, fmt.Errorf("condition node %s has no branch %q", node.Name, label)
			}
			current = next
			continue
		}

		var err error
		state, err = g.run(ctx, node, state)
		if err != nil {
			return state, fmt.Errorf("error executing node %s: %w", node.Name, err)
		}
		if node.Type == NodeTypeEnd {
			return state, nil
		}
		current = node.Next
	}
}

func (g *Graph[S]) run(ctx context.Context, node *Node[S], state S) (out S, err error) {
	if node.Execute == nil {
		return state, nil
	}
	ctx, span := telemetry.Start(ctx, "graph", "graph.node", attribute.String("graph.node", node.Name))
	defer func() { telemetry.End(span, err) }()
	return node.Execute(ctx, state)
}

// Nodes returns the node names, sorted.
func (g *Graph[S]) Nodes() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builder helps build graphs fluently
type Builder[S any] struct {
	graph *Graph[S]
	errs  []error
}

// NewBuilder creates a new graph builder
func NewBuilder[S any]() *Builder[S] {
	return &Builder[S]{
		graph: &Graph[S]{
			nodes:     make(map[string]*Node[S]),
			maxVisits: 10,
		},
	}
}

func (b *Builder[S]) add(node *Node[S]) {
	if node.Name == "" {
		b.errs = append(b.errs, fmt.Errorf("node name cannot be empty"))
		return
	}
	if _, exists := b.graph.nodes[node.Name]; exists {
		b.errs = append(b.errs, fmt.Errorf("node %s already exists", node.Name))
		return
	}
	b.graph.nodes[node.Name] = node

	// Auto-set start and end nodes
	switch node.Type {
	case NodeTypeStart:
		b.graph.startNode = node.Name
	case NodeTypeEnd:
		b.graph.endNode = node.Name
	}
}

// AddNode adds a start, end or step node. execute may be nil for start and
// end nodes.
func (b *Builder[S]) AddNode(name string, nodeType NodeType, execute NodeFunc[S]) *Builder[S] {
	if nodeType == NodeTypeStep && execute == nil {
		b.errs = append(b.errs, fmt.Errorf("node %s of type %s must have non-nil Execute function", name, nodeType))
	}
	b.add(&Node[S]{Name: name, Type: nodeType, Execute: execute})
	return b
}

// AddConditionNode adds a condition node
func (b *Builder[S]) AddConditionNode(name string, condition ConditionFunc[S], nextMap map[string]string) *Builder[S] {
	if condition == nil {
		b.errs = append(b.errs, fmt.Errorf("condition node %s must have non-nil Condition function", name))
	}
	b.add(&Node[S]{Name: name, Type: NodeTypeCondition, Condition: condition, NextMap: nextMap})
	return b
}

// AddEdge connects two nodes
func (b *Builder[S]) AddEdge(from, to string) *Builder[S] {
	node, exists := b.graph.nodes[from]
	switch {
	case !exists:
		b.errs = append(b.errs, fmt.Errorf("edge from unknown node %s", from))
	case node.Type == NodeTypeCondition:
		b.errs = append(b.errs, fmt.Errorf("condition node %s takes branches, not edges", from))
	case node.Next != "":
		b.errs = append(b.errs, fmt.Errorf("node %s already has an edge to %s", from, node.Next))
	default:
		node.Next = to
	}
	return b
}

// SetMaxVisits sets the maximum number of visits to a node
func (b *Builder[S]) SetMaxVisits(maxVisits int) *Builder[S] {
	b.graph.maxVisits = maxVisits
	return b
}

// Build validates the wiring and returns the graph.
func (b *Builder[S]) Build() (*Graph[S], error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	g := b.graph
	if g.startNode == "" {
		return nil, fmt.Errorf("start node not set")
	}
	if g.endNode == "" {
		return nil, fmt.Errorf("end node not set")
	}
	for _, node := range g.nodes {
		switch node.Type {
		case NodeTypeEnd:
		case NodeTypeCondition:
			for label, next := range node.NextMap {
				if _, ok := g.nodes[next]; !ok {
					return nil, fmt.Errorf("branch %q of node %s targets unknown node %s", label, node.Name, next)
				}
			}
		default:
			if node.Next == "" {
				return nil, fmt.Errorf("no next node specified for node %s", node.Name)
			}
			if _, ok := g.nodes[node.Next]; !ok {
				return nil, fmt.Errorf("node %s targets unknown node %s", node.Name, node.Next)
			}
		}
	}
	return g, nil
}
