package correlate

import (
	"github.com/tjfontaine/a2a-lens/internal/core/domain"
)

// Parents maps a task id to the parent task id carried in its events.
type Parents map[string]string

// ParentsFromEvents collects parent metadata. When a task's events disagree,
// the lexically smallest parent wins, the same rule the stores apply in
// ListTasks, so a scope and the lifecycles inside it agree on the root.
// Self references are ignored.
func ParentsFromEvents(events []*domain.Event) Parents {
	p := make(Parents)
	for _, ev := range events {
		if ev.TaskID == "" || ev.ParentTaskID == "" || ev.ParentTaskID == ev.TaskID {
			continue
		}
		if cur, ok := p[ev.TaskID]; !ok || ev.ParentTaskID < cur {
			p[ev.TaskID] = ev.ParentTaskID
		}
	}
	return p
}

// ParentsFromRefs builds the parent map from store task listings.
func ParentsFromRefs(refs []domain.TaskRef) Parents {
	p := make(Parents, len(refs))
	for _, ref := range refs {
		if ref.ParentTaskID != "" && ref.ParentTaskID != ref.TaskID {
			p[ref.TaskID] = ref.ParentTaskID
		}
	}
	return p
}

// RootOf walks the parent chain of taskID up to its top-level task.
//
// A task is a root when it matches the top-level pattern, or when it has no
// parent metadata and does not look like a subtask. A subtask without parent
// metadata, a cycle, or a chain deeper than the configured limit leaves the
// task unresolved and ok is false.
func (r Rules) RootOf(taskID string, parents Parents) (root string, ok bool) {
	if taskID == "" {
		return "", false
	}
	seen := map[string]bool{taskID: true}
	cur := taskID
	for depth := 0; depth <= r.maxDepth(); depth++ {
		if r.IsTopLevel(cur) {
			return cur, true
		}
		parent, has := parents[cur]
		if !has {
			if r.IsSubtask(cur) {
				return "", false
			}
			return cur, true
		}
		if seen[parent] {
			return "", false
		}
		seen[parent] = true
		cur = parent
	}
	return "", false
}
