// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package plugin

// graph is an arena of plugin records with adjacency lists by index, so
// cycle detection and topological ordering are plain array operations.
// An edge runs from a dependency to its dependent.
type graph struct {
	names []string
	index map[string]int
	// deps[i] lists the indexes of plugin i's declared dependencies that
	// are present in this manifest set. Dependencies on plugins outside
	// the set do not constrain ordering; they surface at load time as
	// missing.
	deps [][]int
	// dependents[i] lists the indexes of plugins that depend on i.
	dependents [][]int
}

func buildGraph(manifests []*Manifest) *graph {
	g := &graph{
		names:      make([]string, len(manifests)),
		index:      make(map[string]int, len(manifests)),
		deps:       make([][]int, len(manifests)),
		dependents: make([][]int, len(manifests)),
	}
	for i, m := range manifests {
		g.names[i] = m.Name
		g.index[m.Name] = i
	}
	for i, m := range manifests {
		for _, dep := range m.Dependencies {
			j, ok := g.index[dep.Name]
			if !ok {
				continue
			}
			g.deps[i] = append(g.deps[i], j)
			g.dependents[j] = append(g.dependents[j], i)
		}
	}
	return g
}

// DFS colors.
const (
	white = iota // unvisited
	gray         // visiting
	black        // done
)

// cycles returns every dependency cycle as an ordered list of names.
// Plugins appearing in any returned cycle must not be loaded.
func (g *graph) cycles() [][]string {
	color := make([]int, len(g.names))
	var stack []int
	var found [][]string

	var visit func(i int)
	visit = func(i int) {
		color[i] = gray
		stack = append(stack, i)
		for _, j := range g.deps[i] {
			switch color[j] {
			case white:
				visit(j)
			case gray:
				// j is on the stack; everything from j onward is the cycle.
				var cycle []string
				for k := len(stack) - 1; k >= 0; k-- {
					cycle = append([]string{g.names[stack[k]]}, cycle...)
					if stack[k] == j {
						break
					}
				}
				found = append(found, cycle)
			}
		}
		stack = stack[:len(stack)-1]
		color[i] = black
	}

	for i := range g.names {
		if color[i] == white {
			visit(i)
		}
	}
	return found
}

// topoOrder returns indexes in topological order over the subset of nodes
// for which excluded[i] is false, using repeated removal of zero-in-degree
// nodes. Ties break by original declaration order, so the result is stable
// and deterministic.
func (g *graph) topoOrder(excluded []bool) []int {
	n := len(g.names)
	indegree := make([]int, n)
	for i := range g.names {
		if excluded[i] {
			continue
		}
		for _, j := range g.deps[i] {
			if !excluded[j] {
				indegree[i]++
			}
		}
	}

	done := make([]bool, n)
	var order []int
	for {
		next := -1
		for i := 0; i < n; i++ {
			if !excluded[i] && !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next == -1 {
			return order
		}
		done[next] = true
		order = append(order, next)
		for _, j := range g.dependents[next] {
			if !excluded[j] {
				indegree[j]--
			}
		}
	}
}
