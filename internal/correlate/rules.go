// Package correlate reconstructs tool-call lifecycles from the raw event log.
//
// Correlation is a pure function over an immutable slice of events: it
// extracts phase fragments, attaches pre-reasoning, joins and deduplicates
// fragments per tool call id, and resolves the owning interaction of each
// lifecycle through parent task metadata.
package correlate

import (
	"strings"

	"github.com/tjfontaine/a2a-lens/internal/core/domain"
)

// Rules holds the naming conventions the correlator relies on.
type Rules struct {
	// TopLevelPrefix identifies user-initiated task ids (e.g. "gdk-task-").
	TopLevelPrefix string
	// SubtaskPrefix identifies delegated subtask ids (e.g. "a2a_subtask_").
	SubtaskPrefix string
	// DelegationPrefix identifies tool names that delegate to a peer agent.
	DelegationPrefix string
	SuccessMarkers   []string
	ErrorMarkers     []string
	// MaxParentDepth bounds the parent chain walk for nested delegation.
	MaxParentDepth int
}

// DefaultRules returns the conventions used by A2A gateways.
func DefaultRules() Rules {
	return Rules{
		TopLevelPrefix:   "gdk-task-",
		SubtaskPrefix:    "a2a_subtask_",
		DelegationPrefix: "peer_",
		SuccessMarkers:   []string{"success"},
		ErrorMarkers:     []string{"error"},
		MaxParentDepth:   8,
	}
}

// IsTopLevel reports whether taskID names a user-initiated task.
func (r Rules) IsTopLevel(taskID string) bool {
	return r.TopLevelPrefix != "" && strings.HasPrefix(taskID, r.TopLevelPrefix)
}

// IsSubtask reports whether taskID names a delegated subtask.
func (r Rules) IsSubtask(taskID string) bool {
	return r.SubtaskPrefix != "" && strings.HasPrefix(taskID, r.SubtaskPrefix)
}

// IsDelegation reports whether toolName is a peer delegation call.
func (r Rules) IsDelegation(toolName string) bool {
	return r.DelegationPrefix != "" && strings.HasPrefix(toolName, r.DelegationPrefix)
}

// DelegatedAgentFromTool derives the peer agent name from a delegation tool name.
func (r Rules) DelegatedAgentFromTool(toolName string) string {
	if !r.IsDelegation(toolName) {
		return ""
	}
	return strings.TrimPrefix(toolName, r.DelegationPrefix)
}

// Success maps a result status onto the ternary success status.
func (r Rules) Success(status string) domain.SuccessStatus {
	status = strings.TrimSpace(status)
	if status == "" {
		return domain.SuccessUnknown
	}
	for _, m := range r.SuccessMarkers {
		if strings.EqualFold(status, m) {
			return domain.SuccessTrue
		}
	}
	for _, m := range r.ErrorMarkers {
		if strings.EqualFold(status, m) {
			return domain.SuccessFalse
		}
	}
	return domain.SuccessUnknown
}

func (r Rules) maxDepth() int {
	if r.MaxParentDepth <= 0 {
		return 8
	}
	return r.MaxParentDepth
}
