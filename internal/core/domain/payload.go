package domain

import (
	"encoding/json"
	"fmt"
)

// Payload is the kind-specific body of an Event. The set of implementations
// is closed; every PhaseKind has exactly one payload type.
type Payload interface {
	Kind() PhaseKind
	payload()
}

// StatusUpdatePayload is free-text progress reported by an agent.
type StatusUpdatePayload struct {
	Text string `json:"text"`
}

// Turn is one entry of the conversation history echoed by an LLM invocation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text,omitempty"`
}

// LLMInvocationPayload records a model request and the history it was sent with.
type LLMInvocationPayload struct {
	Model   string `json:"model,omitempty"`
	History []Turn `json:"history,omitempty"`
}

// LastModelTurn returns the text of the last model-authored turn with text.
func (p *LLMInvocationPayload) LastModelTurn() string {
	for i := len(p.History) - 1; i >= 0; i-- {
		if p.History[i].Role == "model" && p.History[i].Text != "" {
			return p.History[i].Text
		}
	}
	return ""
}

// FunctionCall is one tool call chosen by the model.
type FunctionCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name,omitempty"`
	Args json.RawMessage `json:"args,omitempty"`
}

// LLMResponsePayload is model output, possibly containing several function calls.
type LLMResponsePayload struct {
	Text          string         `json:"text,omitempty"`
	FunctionCalls []FunctionCall `json:"function_calls,omitempty"`
	Partial       bool           `json:"partial,omitempty"`
}

// ToolInvocationStartPayload marks the start of a tool execution.
type ToolInvocationStartPayload struct {
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
}

// ToolResultPayload is the output of a tool execution.
type ToolResultPayload struct {
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Status     string          `json:"status,omitempty"`
	// DelegatedAgent names the peer agent that produced the result of a delegation call.
	DelegatedAgent string `json:"delegated_agent,omitempty"`
}

// MessagePayload is a plain text message (user queries, final replies).
type MessagePayload struct {
	Text string `json:"text"`
}

func (*StatusUpdatePayload) Kind() PhaseKind        { return KindStatusUpdate }
func (*LLMInvocationPayload) Kind() PhaseKind       { return KindLLMInvocation }
func (*LLMResponsePayload) Kind() PhaseKind         { return KindLLMResponse }
func (*ToolInvocationStartPayload) Kind() PhaseKind { return KindToolInvocationStart }
func (*ToolResultPayload) Kind() PhaseKind          { return KindToolResult }
func (*MessagePayload) Kind() PhaseKind             { return KindMessage }

func (*StatusUpdatePayload) payload()        {}
func (*LLMInvocationPayload) payload()       {}
func (*LLMResponsePayload) payload()         {}
func (*ToolInvocationStartPayload) payload() {}
func (*ToolResultPayload) payload()          {}
func (*MessagePayload) payload()             {}

// NewPayload returns an empty payload for the given kind.
func NewPayload(kind PhaseKind) (Payload, error) {
	switch kind {
	case KindStatusUpdate:
		return &StatusUpdatePayload{}, nil
	case KindLLMInvocation:
		return &LLMInvocationPayload{}, nil
	case KindLLMResponse:
		return &LLMResponsePayload{}, nil
	case KindToolInvocationStart:
		return &ToolInvocationStartPayload{}, nil
	case KindToolResult:
		return &ToolResultPayload{}, nil
	case KindMessage:
		return &MessagePayload{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown phase kind %q", ErrMalformedEvent, kind)
	}
}
