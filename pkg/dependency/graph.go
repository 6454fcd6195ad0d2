// Package dependency computes the order in which resource categories
// are cleaned up, since dependent resources need to be deleted before
// their dependencies (e.g. EC2 instances before their EBS volumes).
package dependency

import (
	"sort"
	"strings"

	"github.com/apex/log"
)

// Graph holds named resource categories and their prerequisite edges.
// It is read-only once built; build a fresh graph per region if cleaner
// availability varies.
type Graph struct {
	nodes         map[string]struct{}
	prerequisites map[string][]string
}

func NewGraph() *Graph {
	return &Graph{
		nodes:         map[string]struct{}{},
		prerequisites: map[string][]string{},
	}
}

// AddNode registers a category with the categories that must be cleaned
// up before it. Prerequisites that have not been registered themselves
// become zero-prerequisite leaf nodes.
func (g *Graph) AddNode(name string, prerequisites []string) {
	g.nodes[name] = struct{}{}
	g.prerequisites[name] = prerequisites

	for _, p := range prerequisites {
		g.nodes[p] = struct{}{}
	}
}

// ExecutionOrder returns every node exactly once, each prerequisite
// before its dependents (Kahn's algorithm). Ties are broken by name so
// the same graph always yields the same order. A cycle degrades the
// ordering guarantee for its members but is never fatal: the unresolved
// remainder is appended in lexicographic order.
func (g *Graph) ExecutionOrder() []string {
	adjacent := make(map[string][]string, len(g.nodes))
	inDegree := make(map[string]int, len(g.nodes))

	for n := range g.nodes {
		inDegree[n] = 0
	}

	for node, prereqs := range g.prerequisites {
		for _, p := range prereqs {
			adjacent[p] = append(adjacent[p], node)
			inDegree[node]++
		}
	}

	var ready []string
	for n, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, n)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.nodes))

	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)

		for _, dependent := range adjacent[n] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(g.nodes) {
		remainder := make([]string, 0, len(g.nodes)-len(order))

		resolved := make(map[string]struct{}, len(order))
		for _, n := range order {
			resolved[n] = struct{}{}
		}
		for n := range g.nodes {
			if _, ok := resolved[n]; !ok {
				remainder = append(remainder, n)
			}
		}
		sort.Strings(remainder)

		log.WithField("categories", strings.Join(remainder, ", ")).
			Error("dependency cycle detected; appending unresolved categories in name order")

		order = append(order, remainder...)
	}

	return order
}
