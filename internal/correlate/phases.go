package correlate

import (
	"encoding/json"
	"time"

	"github.com/tjfontaine/a2a-lens/internal/core/domain"
)

type phase int

const (
	phaseDecision phase = iota
	phaseInvocation
	phaseResult
)

func (p phase) String() string {
	switch p {
	case phaseDecision:
		return "decision"
	case phaseInvocation:
		return "invocation"
	case phaseResult:
		return "result"
	default:
		return "unknown"
	}
}

// fragment is one phase of a tool call extracted from a single event.
type fragment struct {
	phase      phase
	eventID    string
	taskID     string
	agent      string
	sessionID  string
	toolCallID string
	toolName   string
	args       json.RawMessage
	result     json.RawMessage
	status     string
	delegated  string
	ts         time.Time
	reasoning  Reasoning
}

// extracted pairs an event with the fragments it produced.
type extracted struct {
	event     *domain.Event
	fragments []*fragment
}

// extract returns the phase fragments carried by ev and how many fragments
// were discarded for lacking an identifier.
func extract(ev *domain.Event) (frags []*fragment, dropped int) {
	base := fragment{
		eventID:   ev.EventID,
		taskID:    ev.TaskID,
		agent:     ev.AgentName,
		sessionID: ev.SessionID,
		ts:        ev.Timestamp,
		reasoning: noReasoning(),
	}
	add := func(f fragment) {
		if f.toolCallID == "" || f.taskID == "" {
			dropped++
			return
		}
		frags = append(frags, &f)
	}

	switch p := ev.Payload.(type) {
	case *domain.LLMResponsePayload:
		for _, call := range p.FunctionCalls {
			f := base
			f.phase = phaseDecision
			f.toolCallID = call.ID
			f.toolName = call.Name
			f.args = nullable(call.Args)
			add(f)
		}
	case *domain.ToolInvocationStartPayload:
		f := base
		f.phase = phaseInvocation
		f.toolCallID = p.ToolCallID
		f.toolName = p.ToolName
		f.args = nullable(p.Args)
		add(f)
	case *domain.ToolResultPayload:
		f := base
		f.phase = phaseResult
		f.toolCallID = p.ToolCallID
		f.toolName = p.ToolName
		f.result = nullable(p.Result)
		f.status = p.Status
		f.delegated = p.DelegatedAgent
		add(f)
	case *domain.StatusUpdatePayload, *domain.LLMInvocationPayload, *domain.MessagePayload, nil:
	}
	return frags, dropped
}

// nullable normalises empty and JSON null raw values to nil.
func nullable(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

// kindRank orders events sharing a timestamp so that reasoning sources are
// scanned before the fragments they precede.
func kindRank(k domain.PhaseKind) int {
	switch k {
	case domain.KindMessage:
		return 0
	case domain.KindStatusUpdate:
		return 1
	case domain.KindLLMInvocation:
		return 2
	case domain.KindLLMResponse:
		return 3
	case domain.KindToolInvocationStart:
		return 4
	case domain.KindToolResult:
		return 5
	default:
		return 6
	}
}
