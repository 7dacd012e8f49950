package correlate

import (
	"testing"

	"github.com/tjfontaine/a2a-lens/internal/core/domain"
)

func TestRules_RootOf(t *testing.T) {
	rules := DefaultRules()
	rules.MaxParentDepth = 3

	parents := Parents{
		"a2a_subtask_1": "gdk-task-1",
		"a2a_subtask_2": "a2a_subtask_1",
		"a2a_subtask_x": "T1",
		"a2a_subtask_c": "a2a_subtask_d",
		"a2a_subtask_d": "a2a_subtask_c",
		"a2a_subtask_5": "a2a_subtask_4",
		"a2a_subtask_4": "a2a_subtask_3",
		"a2a_subtask_3": "a2a_subtask_2",
	}

	tests := []struct {
		name     string
		task     string
		wantRoot string
		wantOK   bool
	}{
		{name: "top level", task: "gdk-task-1", wantRoot: "gdk-task-1", wantOK: true},
		{name: "direct subtask", task: "a2a_subtask_1", wantRoot: "gdk-task-1", wantOK: true},
		{name: "nested subtask", task: "a2a_subtask_2", wantRoot: "gdk-task-1", wantOK: true},
		{name: "parent outside convention", task: "a2a_subtask_x", wantRoot: "T1", wantOK: true},
		{name: "plain task without parent", task: "job-42", wantRoot: "job-42", wantOK: true},
		{name: "subtask without parent", task: "a2a_subtask_lost", wantOK: false},
		{name: "cycle", task: "a2a_subtask_c", wantOK: false},
		{name: "too deep", task: "a2a_subtask_5", wantOK: false},
		{name: "empty", task: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, ok := rules.RootOf(tt.task, parents)
			if ok != tt.wantOK {
				t.Fatalf("RootOf() ok = %v, want %v", ok, tt.wantOK)
			}
			if root != tt.wantRoot {
				t.Errorf("RootOf() = %v, want %v", root, tt.wantRoot)
			}
		})
	}
}

func TestParentsFromEvents_SmallestWins(t *testing.T) {
	events := []*domain.Event{
		{TaskID: "a2a_subtask_1", ParentTaskID: "gdk-task-2", Timestamp: at(1)},
		{TaskID: "a2a_subtask_1", ParentTaskID: "gdk-task-1", Timestamp: at(2)},
		{TaskID: "a2a_subtask_2", ParentTaskID: "a2a_subtask_2", Timestamp: at(0)},
		{TaskID: "a2a_subtask_2", ParentTaskID: "gdk-task-9", Timestamp: at(3)},
		{TaskID: "gdk-task-1", ParentTaskID: "gdk-task-1", Timestamp: at(0)},
	}
	p := ParentsFromEvents(events)
	if got := p["a2a_subtask_1"]; got != "gdk-task-1" {
		t.Errorf("parent = %v, want gdk-task-1", got)
	}
	if got := p["a2a_subtask_2"]; got != "gdk-task-9" {
		t.Errorf("parent = %v, want gdk-task-9", got)
	}
	if _, ok := p["gdk-task-1"]; ok {
		t.Errorf("self-parent should be ignored")
	}
}

func TestParentsFromEvents_MatchesTaskListing(t *testing.T) {
	events := []*domain.Event{
		{TaskID: "a2a_subtask_1", ParentTaskID: "gdk-task-2", Timestamp: at(1)},
		{TaskID: "a2a_subtask_1", ParentTaskID: "gdk-task-1", Timestamp: at(2)},
	}
	// What a store returns for the same events.
	refs := []domain.TaskRef{{TaskID: "a2a_subtask_1", ParentTaskID: "gdk-task-1"}}

	rules := DefaultRules()
	fromEvents, _ := rules.RootOf("a2a_subtask_1", ParentsFromEvents(events))
	fromRefs, _ := rules.RootOf("a2a_subtask_1", ParentsFromRefs(refs))
	if fromEvents != fromRefs {
		t.Errorf("RootOf() from events = %v, from refs = %v", fromEvents, fromRefs)
	}
}

func TestResolveReasoning(t *testing.T) {
	inv := &candidate{text: "A", ts: at(2)}
	status := &candidate{text: "B", ts: at(1)}

	tests := []struct {
		name       string
		invocation *candidate
		status     *candidate
		wantText   string
		wantSource domain.ReasoningSource
	}{
		{name: "both", invocation: inv, status: status, wantText: "A", wantSource: domain.ReasoningLLMInvocation},
		{name: "status only", status: status, wantText: "B", wantSource: domain.ReasoningStatusUpdate},
		{name: "empty invocation falls back", invocation: &candidate{ts: at(3)}, status: status, wantText: "B", wantSource: domain.ReasoningStatusUpdate},
		{name: "none", wantSource: domain.ReasoningNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := resolveReasoning(tt.invocation, tt.status)
			if r.Source != tt.wantSource {
				t.Errorf("Source = %v, want %v", r.Source, tt.wantSource)
			}
			if tt.wantText == "" {
				if r.Text != nil || r.Timestamp != nil {
					t.Errorf("Text/Timestamp = %v/%v, want nil", r.Text, r.Timestamp)
				}
				return
			}
			if r.Text == nil || *r.Text != tt.wantText {
				t.Errorf("Text = %v, want %v", r.Text, tt.wantText)
			}
			if r.Timestamp == nil {
				t.Errorf("Timestamp = nil with text present")
			}
		})
	}
}
