package graph

import (
	"sort"
	"strings"
	"sync"
)

// Node is a concept extracted from the run's documents, keyed by its
// normalized entity string.
type Node struct {
	Key          string `json:"key"`
	Label        string `json:"label"`
	Description  string `json:"description,omitempty"`
	Observations int    `json:"observations"`
}

// Edge is a directed (source, relation, target) triple. Repeated
// observations of the same triple increase Weight instead of creating
// parallel edges.
type Edge struct {
	Source   string  `json:"source"`
	Relation string  `json:"relation"`
	Target   string  `json:"target"`
	Weight   float64 `json:"weight"`
}

// ConceptGraph is the run-scoped entity/relationship graph. Mutation is
// append-only merge: ingestion adds observations, nothing is removed.
type ConceptGraph struct {
	mu        sync.RWMutex
	nodes     map[string]*Node
	edges     map[string]*Edge
	neighbors map[string]map[string]struct{} // undirected adjacency over node keys
}

// NewConceptGraph creates an empty graph.
func NewConceptGraph() *ConceptGraph {
	return &ConceptGraph{
		nodes:     make(map[string]*Node),
		edges:     make(map[string]*Edge),
		neighbors: make(map[string]map[string]struct{}),
	}
}

// NormalizeKey lowercases an entity string and collapses interior
// whitespace, so "Graphene  Oxide" and "graphene oxide" share a node.
func NormalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ObserveNode merges an entity observation into the graph and returns
// its node key. The first observation keeps the original label.
func (g *ConceptGraph) ObserveNode(label, description string) string {
	key := NormalizeKey(label)
	if key == "" {
		return ""
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[key]
	if !ok {
		node = &Node{Key: key, Label: strings.TrimSpace(label)}
		g.nodes[key] = node
		g.neighbors[key] = make(map[string]struct{})
	}
	node.Observations++
	if node.Description == "" && description != "" {
		node.Description = description
	}
	return key
}

// ObserveEdge merges a relationship observation. Both endpoints are
// observed as nodes; a repeated triple increments the edge weight.
func (g *ConceptGraph) ObserveEdge(source, relation, target string) bool {
	srcKey := g.ObserveNode(source, "")
	tgtKey := g.ObserveNode(target, "")
	relation = strings.TrimSpace(relation)
	if srcKey == "" || tgtKey == "" || srcKey == tgtKey {
		return false
	}
	if relation == "" {
		relation = "related_to"
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	key := srcKey + "\x00" + NormalizeKey(relation) + "\x00" + tgtKey
	if edge, ok := g.edges[key]; ok {
		edge.Weight++
	} else {
		g.edges[key] = &Edge{Source: srcKey, Relation: relation, Target: tgtKey, Weight: 1.0}
	}
	g.neighbors[srcKey][tgtKey] = struct{}{}
	g.neighbors[tgtKey][srcKey] = struct{}{}
	return true
}

// NodeCount returns the number of distinct nodes.
func (g *ConceptGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of distinct (source, relation, target)
// triples.
func (g *ConceptGraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// Node returns a copy of the node for key.
func (g *ConceptGraph) Node(key string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.nodes[NormalizeKey(key)]
	if !ok {
		return Node{}, false
	}
	return *node, true
}

// NeighborsOf returns the undirected neighbors of key in lexical
// order, for deterministic traversal.
func (g *ConceptGraph) NeighborsOf(key string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	set, ok := g.neighbors[NormalizeKey(key)]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EdgeBetween returns the strongest edge connecting a and b in either
// direction, breaking weight ties by lexical relation order.
func (g *ConceptGraph) EdgeBetween(a, b string) (Edge, bool) {
	aKey, bKey := NormalizeKey(a), NormalizeKey(b)
	g.mu.RLock()
	defer g.mu.RUnlock()

	var best *Edge
	for _, edge := range g.edges {
		if (edge.Source == aKey && edge.Target == bKey) || (edge.Source == bKey && edge.Target == aKey) {
			if best == nil ||
				edge.Weight > best.Weight ||
				(edge.Weight == best.Weight && edge.Relation < best.Relation) {
				best = edge
			}
		}
	}
	if best == nil {
		return Edge{}, false
	}
	return *best, true
}

// MatchNodes maps free-text query tokens to existing node keys by
// normalized exact or substring match. Matches are ordered by the
// query token that produced them, then lexically.
func (g *ConceptGraph) MatchNodes(query string) []string {
	tokens := strings.Fields(NormalizeKey(query))
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]struct{})
	var matches []string
	for _, token := range tokens {
		var tokenMatches []string
		for key := range g.nodes {
			if key == token || strings.Contains(key, token) || strings.Contains(token, key) {
				if _, dup := seen[key]; !dup {
					tokenMatches = append(tokenMatches, key)
				}
			}
		}
		sort.Strings(tokenMatches)
		for _, key := range tokenMatches {
			seen[key] = struct{}{}
			matches = append(matches, key)
		}
	}
	return matches
}

// Keys returns all node keys in lexical order.
func (g *ConceptGraph) Keys() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	keys := make([]string, 0, len(g.nodes))
	for k := range g.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
