package graph

import (
	"fmt"
	"math/rand"
	"strings"
)

// Strategy selects how SamplePath walks the graph.
type Strategy string

const (
	// StrategyShortest returns the shortest connecting path between
	// two query-matched nodes. Deterministic.
	StrategyShortest Strategy = "shortest"
	// StrategyRandom performs a biased random walk preferring
	// unvisited neighbors. Exploratory, seedable for tests.
	StrategyRandom Strategy = "random"
)

// SampledPath is a connected path through the concept graph, derived
// per query and discarded after use.
type SampledPath struct {
	Nodes   []string `json:"nodes"`
	Edges   []Edge   `json:"edges"`
	Summary string   `json:"summary"`
}

// Empty reports whether no nodes were matched.
func (p SampledPath) Empty() bool { return len(p.Nodes) == 0 }

// SamplePath maps query tokens to nodes and samples a path. When no
// node matches it returns an empty path with an explanatory summary
// rather than an error.
func (g *ConceptGraph) SamplePath(query string, strategy Strategy, maxSteps int, rng *rand.Rand) SampledPath {
	if maxSteps <= 0 {
		maxSteps = 10
	}

	matches := g.MatchNodes(query)
	if len(matches) == 0 {
		return SampledPath{
			Summary: fmt.Sprintf("no concept in the graph matches %q; the graph has %d nodes", query, g.NodeCount()),
		}
	}

	var nodes []string
	switch strategy {
	case StrategyShortest:
		nodes = g.shortestBetweenMatches(matches, maxSteps)
	default:
		if rng == nil {
			rng = rand.New(rand.NewSource(1))
		}
		nodes = g.randomWalk(matches[0], maxSteps, rng)
	}
	if len(nodes) == 0 {
		nodes = matches[:1]
	}

	return g.pathFromNodes(nodes)
}

// shortestBetweenMatches runs BFS over the undirected view from the
// first match to the first distinct other match. Neighbors expand in
// lexical order, so equal-length paths resolve deterministically.
func (g *ConceptGraph) shortestBetweenMatches(matches []string, maxSteps int) []string {
	source := matches[0]
	target := ""
	for _, m := range matches[1:] {
		if m != source {
			target = m
			break
		}
	}
	if target == "" {
		return []string{source}
	}

	parent := map[string]string{source: ""}
	queue := []string{source}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == target {
			break
		}
		for _, next := range g.NeighborsOf(current) {
			if _, visited := parent[next]; visited {
				continue
			}
			parent[next] = current
			queue = append(queue, next)
		}
	}

	if _, found := parent[target]; !found {
		return []string{source}
	}
	var path []string
	for at := target; at != ""; at = parent[at] {
		path = append([]string{at}, path...)
	}
	if len(path) > maxSteps+1 {
		path = path[:maxSteps+1]
	}
	return path
}

// randomWalk walks up to maxSteps hops from start, preferring
// unvisited neighbors, falling back to any neighbor when all are
// visited, and stopping once every node in the graph has been seen.
func (g *ConceptGraph) randomWalk(start string, maxSteps int, rng *rand.Rand) []string {
	total := g.NodeCount()
	visited := map[string]struct{}{start: {}}
	path := []string{start}
	current := start

	for step := 0; step < maxSteps; step++ {
		neighbors := g.NeighborsOf(current)
		if len(neighbors) == 0 {
			break
		}

		var unvisited []string
		for _, n := range neighbors {
			if _, seen := visited[n]; !seen {
				unvisited = append(unvisited, n)
			}
		}

		var next string
		if len(unvisited) > 0 {
			next = unvisited[rng.Intn(len(unvisited))]
		} else if len(visited) >= total {
			break
		} else {
			next = neighbors[rng.Intn(len(neighbors))]
		}

		if _, seen := visited[next]; !seen {
			path = append(path, next)
		}
		visited[next] = struct{}{}
		current = next
	}
	return path
}

// pathFromNodes attaches edges and a textual summary to a node path.
func (g *ConceptGraph) pathFromNodes(nodes []string) SampledPath {
	path := SampledPath{Nodes: nodes}

	var b strings.Builder
	for i := 0; i < len(nodes)-1; i++ {
		relation := "related_to"
		if edge, ok := g.EdgeBetween(nodes[i], nodes[i+1]); ok {
			path.Edges = append(path.Edges, edge)
			relation = edge.Relation
		} else {
			path.Edges = append(path.Edges, Edge{Source: nodes[i], Relation: relation, Target: nodes[i+1], Weight: 0})
		}
		fmt.Fprintf(&b, "%s --%s--> ", nodes[i], relation)
	}
	if len(nodes) > 0 {
		b.WriteString(nodes[len(nodes)-1])
	}
	path.Summary = b.String()
	return path
}
