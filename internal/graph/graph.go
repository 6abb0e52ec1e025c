// Package graph implements the dependency graph over derivation outputs and
// the columns their expressions reference, plus the resolver that turns the
// graph into a deterministic evaluation order.
package graph

import (
	"fmt"
	"sort"
	"sync"
)

// Graph is a collection of nodes and directed dependency edges. All
// operations on the graph are concurrency-safe.
type Graph struct {
	// mutex protects the nodes map during concurrent access.
	mutex sync.RWMutex
	// nodes stores all nodes in the graph, keyed by their unique ID.
	nodes map[string]*node
}

// node represents a single vertex in the graph. It is un-exported to
// enforce interaction with the graph via the public API (using string IDs),
// not by direct struct manipulation.
type node struct {
	// id is the unique identifier for the node.
	id string
	// deps holds the set of nodes that this node depends on (predecessors).
	deps map[string]*node
	// dependents holds the set of nodes that depend on this node (successors).
	dependents map[string]*node
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*node),
	}
}

// AddNode adds a new node with the given ID to the graph. If a node with
// the same ID already exists, the function does nothing.
func (g *Graph) AddNode(id string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, ok := g.nodes[id]; ok {
		return
	}

	g.nodes[id] = &node{
		id:         id,
		deps:       make(map[string]*node),
		dependents: make(map[string]*node),
	}
}

// AddEdge creates a directed edge from the `fromID` node to the `toID`
// node, meaning `toID` depends on `fromID`. An error is returned if either
// node does not exist. Self-references are allowed at this level; the
// resolver reports them as one-node cycles with a precise diagnostic.
func (g *Graph) AddEdge(fromID, toID string) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	fromNode, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}

	toNode, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}

	toNode.deps[fromID] = fromNode
	fromNode.dependents[toID] = toNode

	return nil
}

// Has reports whether a node with the given ID exists.
func (g *Graph) Has(id string) bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.nodes)
}

// Dependencies returns a sorted slice of node IDs that the given node
// depends on.
func (g *Graph) Dependencies(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}

	deps := make([]string, 0, len(n.deps))
	for depID := range n.deps {
		deps = append(deps, depID)
	}
	sort.Strings(deps)
	return deps, nil
}

// Dependents returns a sorted slice of node IDs that depend on the given
// node.
func (g *Graph) Dependents(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}

	dependents := make([]string, 0, len(n.dependents))
	for depID := range n.dependents {
		dependents = append(dependents, depID)
	}
	sort.Strings(dependents)
	return dependents, nil
}

// FindCycle searches the graph for a dependency cycle and returns the IDs
// of its member nodes in traversal order, or nil if the graph is acyclic.
// Uses classic depth-first search with three node sets: permanent (fully
// visited, known safe), temporary (on the current recursion stack), and
// unvisited.
func (g *Graph) FindCycle() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	permanent := make(map[string]bool)
	temporary := make(map[string]bool)
	var stack []string

	var visit func(n *node) []string
	visit = func(n *node) []string {
		if permanent[n.id] {
			return nil // Already visited and known to be safe.
		}
		if temporary[n.id] {
			// We've hit a node that's already on our recursion stack: the
			// stack suffix starting at it is the cycle.
			for i, id := range stack {
				if id == n.id {
					return append([]string(nil), stack[i:]...)
				}
			}
			return []string{n.id}
		}

		temporary[n.id] = true
		stack = append(stack, n.id)

		// Visit dependencies in sorted order so the reported cycle is
		// deterministic.
		depIDs := make([]string, 0, len(n.deps))
		for depID := range n.deps {
			depIDs = append(depIDs, depID)
		}
		sort.Strings(depIDs)
		for _, depID := range depIDs {
			if cycle := visit(n.deps[depID]); cycle != nil {
				return cycle
			}
		}

		stack = stack[:len(stack)-1]
		delete(temporary, n.id)
		permanent[n.id] = true
		return nil
	}

	// Visit every node, in sorted order for determinism.
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !permanent[id] {
			if cycle := visit(g.nodes[id]); cycle != nil {
				return cycle
			}
		}
	}

	return nil
}
