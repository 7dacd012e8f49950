package domain

import (
	"encoding/json"
	"time"
)

// SuccessStatus is the ternary outcome of a tool call.
type SuccessStatus string

const (
	SuccessTrue    SuccessStatus = "true"
	SuccessFalse   SuccessStatus = "false"
	SuccessUnknown SuccessStatus = "unknown"
)

// ReasoningSource records where a lifecycle's pre-reasoning text came from.
type ReasoningSource string

const (
	ReasoningNone          ReasoningSource = "none"
	ReasoningLLMInvocation ReasoningSource = "llm_invocation"
	ReasoningStatusUpdate  ReasoningSource = "status_update"
)

// ResponseState tells whether an interaction has produced its final reply.
type ResponseState string

const (
	ResponseInProgress ResponseState = "in_progress"
	ResponseCompleted  ResponseState = "completed"
)

// Conversation is the roll-up of every event sharing a session id.
type Conversation struct {
	SessionID     string       `json:"session_id"`
	UserID        string       `json:"user_id,omitempty"`
	StartedAt     time.Time    `json:"started_at"`
	EndedAt       time.Time    `json:"ended_at"`
	TotalMessages int          `json:"total_messages"`
	UserProfile   *UserProfile `json:"user_profile,omitempty"`
	TokenUsage    TokenUsage   `json:"token_usage"`
}

// Interaction is one user query and the final reply to it, keyed by the
// top-level task id.
type Interaction struct {
	InteractionID   string         `json:"interaction_id"`
	SessionID       string         `json:"session_id"`
	StartedAt       time.Time      `json:"started_at"`
	UserQuery       *string        `json:"user_query"`
	CompletedAt     *time.Time     `json:"completed_at"`
	FinalResponse   *string        `json:"final_response"`
	ResponseState   ResponseState  `json:"response_state"`
	InitiatingAgent string         `json:"initiating_agent,omitempty"`
	HandlingAgent   string         `json:"handling_agent,omitempty"`
	Duration        *time.Duration `json:"duration_ns"`

	TotalMessages   int        `json:"total_messages"`
	NumSubtasks     int        `json:"num_subtasks"`
	DelegatedAgents []string   `json:"delegated_agents,omitempty"`
	NumToolCalls    int        `json:"num_tool_calls"`
	TokenUsage      TokenUsage `json:"token_usage"`
	QueryTokens     int        `json:"query_tokens"`
	ResponseTokens  int        `json:"response_tokens"`
}

// ToolCallLifecycle joins the decision, invocation and result of one tool call.
type ToolCallLifecycle struct {
	ToolCallID            string          `json:"tool_call_id"`
	InteractionID         *string         `json:"interaction_id"`
	InteractionUnresolved bool            `json:"interaction_unresolved,omitempty"`
	TaskID                string          `json:"task_id"`
	SessionID             string          `json:"session_id"`
	ToolName              string          `json:"tool_name,omitempty"`
	CallingAgent          string          `json:"calling_agent,omitempty"`
	PreReasoningText      *string         `json:"pre_reasoning_text"`
	PreReasoningSource    ReasoningSource `json:"pre_reasoning_source"`
	PreReasoningTimestamp *time.Time      `json:"pre_reasoning_timestamp"`
	DecisionTimestamp     *time.Time      `json:"decision_timestamp"`
	InputArgs             json.RawMessage `json:"input_args"`
	InvocationTimestamp   *time.Time      `json:"invocation_timestamp"`
	OutputResult          json.RawMessage `json:"output_result"`
	ResultTimestamp       *time.Time      `json:"result_timestamp"`
	Duration              *time.Duration  `json:"duration_ns"`
	SuccessStatus         SuccessStatus   `json:"success_status"`
	DelegatedAgent        string          `json:"delegated_agent,omitempty"`
}

// FirstSeen returns the earliest phase timestamp of the lifecycle.
func (l *ToolCallLifecycle) FirstSeen() time.Time {
	for _, ts := range []*time.Time{l.DecisionTimestamp, l.InvocationTimestamp, l.ResultTimestamp} {
		if ts != nil {
			return *ts
		}
	}
	return time.Time{}
}

// Snapshot is the immutable result of recomputing one scope. RootTaskID is
// the scope key; TaskIDs lists every task (root and subtasks) the scope covers.
type Snapshot struct {
	RootTaskID   string              `json:"root_task_id"`
	TaskIDs      []string            `json:"task_ids"`
	Interaction  *Interaction        `json:"interaction,omitempty"`
	Lifecycles   []ToolCallLifecycle `json:"lifecycles"`
	EventCount   int                 `json:"event_count"`
	SessionIDs   []string            `json:"session_ids,omitempty"`
	DroppedCount int                 `json:"dropped_fragments"`
}
