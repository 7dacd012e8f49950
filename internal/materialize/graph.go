package materialize

import (
	"cmp"
	"slices"

	"github.com/tjfontaine/a2a-lens/internal/core/domain"
	"github.com/tjfontaine/a2a-lens/internal/correlate"
)

type taskRoot struct {
	id       string
	resolved bool
}

// taskGraph assigns every known task to exactly one scope. epoch is the
// materializer's enqueue count read before the task listing it was built
// from.
type taskGraph struct {
	rules   correlate.Rules
	parents correlate.Parents
	rootOf  map[string]taskRoot
	epoch   uint64
}

func newTaskGraph(refs []domain.TaskRef, rules correlate.Rules) *taskGraph {
	g := &taskGraph{
		rules:   rules,
		parents: correlate.ParentsFromRefs(refs),
		rootOf:  make(map[string]taskRoot, len(refs)),
	}
	for _, ref := range refs {
		id, resolved := g.resolve(ref.TaskID)
		g.rootOf[ref.TaskID] = taskRoot{id: id, resolved: resolved}
	}
	return g
}

// scopeRoot returns the root of the scope holding taskID and whether that
// root is a resolvable top-level task.
func (g *taskGraph) scopeRoot(taskID string) (string, bool) {
	if r, ok := g.rootOf[taskID]; ok {
		return r.id, r.resolved
	}
	return g.resolve(taskID)
}

func (g *taskGraph) resolve(taskID string) (string, bool) {
	if root, ok := g.rules.RootOf(taskID, g.parents); ok {
		return root, true
	}

	// Unresolved: climb as far as the parent metadata goes. A cycle is
	// rooted at its smallest member so every task on it lands in one scope.
	depth := g.rules.MaxParentDepth
	if depth <= 0 {
		depth = 8
	}
	visited := []string{taskID}
	cur := taskID
	for range depth {
		parent, ok := g.parents[cur]
		if !ok {
			break
		}
		if slices.Contains(visited, parent) {
			cycle := visited[slices.Index(visited, parent):]
			return slices.Min(cycle), false
		}
		visited = append(visited, parent)
		cur = parent
	}
	return cur, false
}

// scope returns the sorted task ids belonging to root's scope.
func (g *taskGraph) scope(root string) []string {
	ids := []string{root}
	for id, r := range g.rootOf {
		if r.id == root && id != root {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// roots returns every scope root, sorted by id.
func (g *taskGraph) roots() []taskRoot {
	seen := make(map[string]bool)
	var out []taskRoot
	for _, r := range g.rootOf {
		if !seen[r.id] {
			seen[r.id] = true
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b taskRoot) int { return cmp.Compare(a.id, b.id) })
	return out
}
