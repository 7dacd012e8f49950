// Package a2a decodes captured A2A (JSON-RPC over the agent bus) messages
// into log events.
package a2a

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/a2a-lens/internal/core/domain"
)

// eventNamespace seeds the deterministic ids of messages that carry no message id.
var eventNamespace = uuid.MustParse("6f0c5b7e-3f6a-4e0e-9a51-3c1d2a2e7b41")

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

type envelope struct {
	Metadata envelopeMetadata `json:"metadata"`
	Payload  rpcPayload       `json:"payload"`
}

type envelopeMetadata struct {
	Topic          string          `json:"topic"`
	Timestamp      string          `json:"timestamp"`
	MessageNumber  json.RawMessage `json:"message_number"`
	UserProperties json.RawMessage `json:"user_properties"`
}

type rpcPayload struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  *rpcParams      `json:"params"`
	Result  *rpcResult      `json:"result"`
}

type rpcParams struct {
	Message *message `json:"message"`
}

type message struct {
	ContextID string            `json:"contextId"`
	MessageID string            `json:"messageId"`
	TaskID    string            `json:"taskId"`
	Role      string            `json:"role"`
	Parts     []json.RawMessage `json:"parts"`
	Metadata  messageMetadata   `json:"metadata"`
}

type messageMetadata struct {
	AgentName      string      `json:"agent_name"`
	ParentTaskID   string      `json:"parentTaskId"`
	FunctionCallID string      `json:"function_call_id"`
	TokenUsage     *tokenUsage `json:"token_usage"`
}

type tokenUsage struct {
	TotalTokens       int `json:"total_tokens"`
	TotalInputTokens  int `json:"total_input_tokens"`
	TotalOutputTokens int `json:"total_output_tokens"`
	TotalCachedTokens int `json:"total_cached_input_tokens"`
}

type rpcResult struct {
	Kind      string          `json:"kind"`
	ContextID string          `json:"contextId"`
	TaskID    string          `json:"taskId"`
	ID        string          `json:"id"`
	Status    *taskStatus     `json:"status"`
	Metadata  messageMetadata `json:"metadata"`
	Final     bool            `json:"final"`
}

type taskStatus struct {
	State   string   `json:"state"`
	Message *message `json:"message"`
}

const (
	resultKindStatusUpdate = "status-update"
	resultKindTask         = "task"

	stateWorking   = "working"
	stateCompleted = "completed"
)

// Decode converts one captured bus message into an event.
//
// The envelope must identify a task and carry a parseable timestamp;
// anything else that is missing or malformed degrades to empty fields.
func Decode(data []byte) (*domain.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if env.Payload.Params == nil && env.Payload.Result == nil {
		return nil, fmt.Errorf("%w: payload has neither params nor result", domain.ErrMalformedEvent)
	}

	ts, err := parseTimestamp(env.Metadata.Timestamp)
	if err != nil {
		return nil, err
	}

	d := decoded{rpcID: rawString(env.Payload.ID)}
	switch {
	case env.Payload.Params != nil:
		d.fromParams(env.Payload.Params)
	default:
		d.fromResult(env.Payload.Result)
	}

	taskID := firstNonEmpty(d.rpcID, d.resultTaskID, d.messageTaskID)
	if taskID == "" {
		return nil, fmt.Errorf("%w: message carries no task id", domain.ErrMalformedEvent)
	}

	parts := parseParts(d.parts, d.functionCallID)

	ev := &domain.Event{
		EventID:      d.messageID,
		SessionID:    d.contextID,
		TaskID:       taskID,
		ParentTaskID: d.parentTaskID,
		Timestamp:    ts,
		Role:         d.role,
		AgentName:    d.agentName,
		Topic:        env.Metadata.Topic,
		TokenUsage:   d.tokenUsage,
	}
	if ev.EventID == "" {
		ev.EventID = deterministicID(env.Metadata)
	}
	ev.Kind, ev.Payload = parts.payload(d)
	ev.MessageType = classify(d, parts)

	ev.UserProfile = profileFromMetadata(env.Metadata.UserProperties)
	if ev.UserProfile.IsZero() {
		ev.UserProfile = parts.profile
	}
	if ev.UserProfile.IsZero() {
		ev.UserProfile = nil
	}

	return ev, nil
}

// decoded holds the envelope fields gathered from params or result.
type decoded struct {
	rpcID          string
	contextID      string
	messageID      string
	messageTaskID  string
	resultTaskID   string
	resultKind     string
	state          string
	role           domain.Role
	agentName      string
	parentTaskID   string
	functionCallID string
	tokenUsage     *domain.TokenUsage
	parts          []json.RawMessage
}

func (d *decoded) fromParams(p *rpcParams) {
	msg := p.Message
	if msg == nil {
		return
	}
	d.contextID = msg.ContextID
	d.messageID = msg.MessageID
	d.messageTaskID = msg.TaskID
	d.role = parseRole(msg.Role)
	d.agentName = msg.Metadata.AgentName
	d.parentTaskID = msg.Metadata.ParentTaskID
	d.functionCallID = msg.Metadata.FunctionCallID
	d.parts = msg.Parts
}

func (d *decoded) fromResult(r *rpcResult) {
	d.contextID = r.ContextID
	d.resultKind = r.Kind
	d.resultTaskID = r.TaskID
	if r.Kind == resultKindTask && r.TaskID == "" {
		d.resultTaskID = r.ID
	}
	d.role = domain.RoleAgent
	d.agentName = r.Metadata.AgentName
	d.parentTaskID = r.Metadata.ParentTaskID
	d.functionCallID = r.Metadata.FunctionCallID

	if r.Kind == resultKindTask {
		d.state = stateCompleted
		if u := r.Metadata.TokenUsage; u != nil {
			d.tokenUsage = &domain.TokenUsage{
				TotalTokens:  u.TotalTokens,
				InputTokens:  u.TotalInputTokens,
				OutputTokens: u.TotalOutputTokens,
				CachedTokens: u.TotalCachedTokens,
			}
		}
	}
	if r.Status == nil {
		return
	}
	if r.Kind != resultKindTask {
		d.state = strings.ToLower(r.Status.State)
	}
	if msg := r.Status.Message; msg != nil {
		d.messageID = msg.MessageID
		d.messageTaskID = msg.TaskID
		if d.contextID == "" {
			d.contextID = msg.ContextID
		}
		if d.agentName == "" {
			d.agentName = msg.Metadata.AgentName
		}
		if d.parentTaskID == "" {
			d.parentTaskID = msg.Metadata.ParentTaskID
		}
		if d.functionCallID == "" {
			d.functionCallID = msg.Metadata.FunctionCallID
		}
		d.parts = msg.Parts
	}
}

func parseRole(s string) domain.Role {
	switch strings.ToLower(s) {
	case "user":
		return domain.RoleUser
	case "agent":
		return domain.RoleAgent
	case "system":
		return domain.RoleSystem
	default:
		return domain.RoleAgent
	}
}

// classify assigns the reporting message type.
func classify(d decoded, parts parsedParts) domain.MessageType {
	switch {
	case d.role == domain.RoleUser:
		return domain.MessageTypeUserQuery
	case d.state == stateWorking:
		if parts.hasToolActivity() {
			return domain.MessageTypeToolInvocation
		}
		return domain.MessageTypeStatusUpdate
	case d.state == stateCompleted:
		return domain.MessageTypeFinalResponse
	default:
		return domain.MessageTypeAgentMessage
	}
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: missing timestamp", domain.ErrMalformedEvent)
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", domain.ErrMalformedEvent, s)
}

func deterministicID(md envelopeMetadata) string {
	seed := strings.Join([]string{
		md.Topic,
		md.Timestamp,
		rawString(md.MessageNumber),
	}, "|")
	return uuid.NewSHA1(eventNamespace, []byte(seed)).String()
}

// rawString renders a JSON scalar (string or number) as a plain string.
func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
