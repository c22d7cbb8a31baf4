package graph

import (
	"sort"

	"github.com/aristath/dirigent/internal/model"
)

// findCycles runs an explicit-stack depth-first search over the goal's items
// and returns every cycle discovered, each as the ordered list of item IDs on
// the cycle. An explicit stack avoids recursion-depth issues on
// pathologically large graphs. Edges to missing dependencies are ignored
// here; Validate reports those separately.
func findCycles(arena map[string]*model.WorkItem) [][]string {
	const (
		white = iota // unvisited
		gray         // on the current DFS path
		black        // fully explored
	)

	color := make(map[string]int, len(arena))

	// Deterministic iteration order so reported cycles are stable.
	ids := make([]string, 0, len(arena))
	for id := range arena {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var cycles [][]string

	type frame struct {
		id   string
		next int // index into DependsOn
	}

	for _, root := range ids {
		if color[root] != white {
			continue
		}

		stack := []frame{{id: root}}
		color[root] = gray
		path := []string{root}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			item := arena[top.id]

			if top.next < len(item.DependsOn) {
				depID := item.DependsOn[top.next]
				top.next++

				_, exists := arena[depID]
				if !exists {
					continue
				}

				switch color[depID] {
				case white:
					color[depID] = gray
					stack = append(stack, frame{id: depID})
					path = append(path, depID)
				case gray:
					// Back edge: the cycle is the path suffix starting at depID.
					start := 0
					for i, id := range path {
						if id == depID {
							start = i
							break
						}
					}
					cycle := append([]string(nil), path[start:]...)
					cycles = append(cycles, cycle)
				case black:
					// Already explored, nothing to do.
				}
				continue
			}

			color[top.id] = black
			stack = stack[:len(stack)-1]
			path = path[:len(path)-1]
		}
	}

	return cycles
}
