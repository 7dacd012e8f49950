package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role identifies who authored an event.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// PhaseKind is the kind of agent activity an event records.
type PhaseKind string

const (
	KindStatusUpdate        PhaseKind = "status_update"
	KindLLMInvocation       PhaseKind = "llm_invocation"
	KindLLMResponse         PhaseKind = "llm_response"
	KindToolInvocationStart PhaseKind = "tool_invocation_start"
	KindToolResult          PhaseKind = "tool_result"
	KindMessage             PhaseKind = "message"
)

// MessageType is a coarse reporting classification of an event.
type MessageType string

const (
	MessageTypeUserQuery      MessageType = "user_query"
	MessageTypeToolInvocation MessageType = "tool_invocation"
	MessageTypeStatusUpdate   MessageType = "status_update"
	MessageTypeFinalResponse  MessageType = "final_response"
	MessageTypeAgentMessage   MessageType = "agent_message"
)

// Event is one immutable record of the append-only agent activity log.
// Events are created once by the codec and never mutated afterwards.
type Event struct {
	EventID      string       `json:"event_id"`
	SessionID    string       `json:"session_id"`
	TaskID       string       `json:"task_id"`
	ParentTaskID string       `json:"parent_task_id,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
	Role         Role         `json:"role"`
	AgentName    string       `json:"agent_name,omitempty"`
	Topic        string       `json:"topic,omitempty"`
	Kind         PhaseKind    `json:"phase_kind"`
	MessageType  MessageType  `json:"message_type,omitempty"`
	Payload      Payload      `json:"payload"`
	UserProfile  *UserProfile `json:"user_profile,omitempty"`
	TokenUsage   *TokenUsage  `json:"token_usage,omitempty"`
}

// TaskRef is a task id together with the parent task id its events carry, if any.
type TaskRef struct {
	TaskID       string
	ParentTaskID string
}

// Text returns the free text carried by the event payload, if any.
func (e *Event) Text() string {
	switch p := e.Payload.(type) {
	case *StatusUpdatePayload:
		return p.Text
	case *MessagePayload:
		return p.Text
	case *LLMResponsePayload:
		return p.Text
	default:
		return ""
	}
}

type eventJSON struct {
	EventID      string          `json:"event_id"`
	SessionID    string          `json:"session_id"`
	TaskID       string          `json:"task_id"`
	ParentTaskID string          `json:"parent_task_id,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Role         Role            `json:"role"`
	AgentName    string          `json:"agent_name,omitempty"`
	Topic        string          `json:"topic,omitempty"`
	Kind         PhaseKind       `json:"phase_kind"`
	MessageType  MessageType     `json:"message_type,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	UserProfile  *UserProfile    `json:"user_profile,omitempty"`
	TokenUsage   *TokenUsage     `json:"token_usage,omitempty"`
}

// MarshalJSON encodes the event with its payload inlined.
func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		EventID:      e.EventID,
		SessionID:    e.SessionID,
		TaskID:       e.TaskID,
		ParentTaskID: e.ParentTaskID,
		Timestamp:    e.Timestamp,
		Role:         e.Role,
		AgentName:    e.AgentName,
		Topic:        e.Topic,
		Kind:         e.Kind,
		MessageType:  e.MessageType,
		UserProfile:  e.UserProfile,
		TokenUsage:   e.TokenUsage,
	}
	if e.Payload != nil {
		if e.Payload.Kind() != e.Kind {
			return nil, fmt.Errorf("payload kind %s does not match event kind %s", e.Payload.Kind(), e.Kind)
		}
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		out.Payload = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the event, selecting the payload type from phase_kind.
func (e *Event) UnmarshalJSON(data []byte) error {
	var in eventJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = Event{
		EventID:      in.EventID,
		SessionID:    in.SessionID,
		TaskID:       in.TaskID,
		ParentTaskID: in.ParentTaskID,
		Timestamp:    in.Timestamp,
		Role:         in.Role,
		AgentName:    in.AgentName,
		Topic:        in.Topic,
		Kind:         in.Kind,
		MessageType:  in.MessageType,
		UserProfile:  in.UserProfile,
		TokenUsage:   in.TokenUsage,
	}
	if len(in.Payload) == 0 || string(in.Payload) == "null" {
		return nil
	}
	p, err := NewPayload(in.Kind)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(in.Payload, p); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", in.Kind, err)
	}
	e.Payload = p
	return nil
}

// ParsePhaseKind validates a phase kind string.
func ParsePhaseKind(s string) (PhaseKind, error) {
	k := PhaseKind(strings.ToLower(strings.TrimSpace(s)))
	if _, err := NewPayload(k); err != nil {
		return "", err
	}
	return k, nil
}
