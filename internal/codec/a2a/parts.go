package a2a

import (
	"encoding/json"
	"strings"

	"github.com/tjfontaine/a2a-lens/internal/core/domain"
)

const (
	dataLLMInvocation       = "llm_invocation"
	dataLLMResponse         = "llm_response"
	dataToolInvocationStart = "tool_invocation_start"
	dataToolResult          = "tool_result"
)

type partHeader struct {
	Kind string          `json:"kind"`
	Text string          `json:"text"`
	Data json.RawMessage `json:"data"`
}

type dataHeader struct {
	Type string `json:"type"`
}

type llmInvocationData struct {
	Request struct {
		Model    string    `json:"model"`
		Contents []content `json:"contents"`
		Config   struct {
			SystemInstruction json.RawMessage `json:"system_instruction"`
		} `json:"config"`
	} `json:"request"`
}

type content struct {
	Role  string        `json:"role"`
	Parts []contentPart `json:"parts"`
}

type contentPart struct {
	Text         string        `json:"text"`
	FunctionCall *functionCall `json:"function_call"`
}

type functionCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type llmResponseData struct {
	Data struct {
		Content    *content `json:"content"`
		Candidates []struct {
			Content content `json:"content"`
		} `json:"candidates"`
		Partial bool `json:"partial"`
	} `json:"data"`
}

type toolInvocationData struct {
	FunctionCallID string          `json:"function_call_id"`
	ToolName       string          `json:"tool_name"`
	ToolArgs       json.RawMessage `json:"tool_args"`
}

type toolResultData struct {
	FunctionCallID string          `json:"function_call_id"`
	ToolName       string          `json:"tool_name"`
	ResultData     json.RawMessage `json:"result_data"`
}

// parsedParts is what survives of a message's parts: its text, the first
// recognised data part, and any profile embedded in a system instruction.
type parsedParts struct {
	texts   []string
	kind    domain.PhaseKind
	data    domain.Payload
	profile *domain.UserProfile
}

func parseParts(raw []json.RawMessage, metadataCallID string) parsedParts {
	var out parsedParts
	for _, r := range raw {
		var part partHeader
		if err := json.Unmarshal(r, &part); err != nil {
			continue
		}
		switch part.Kind {
		case "text":
			if part.Text != "" {
				out.texts = append(out.texts, part.Text)
			}
		case "data":
			if out.data != nil {
				continue
			}
			out.parseData(part.Data, metadataCallID)
		}
	}
	return out
}

func (p *parsedParts) parseData(raw json.RawMessage, metadataCallID string) {
	var hdr dataHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return
	}
	switch hdr.Type {
	case dataLLMInvocation:
		var d llmInvocationData
		payload := &domain.LLMInvocationPayload{}
		if err := json.Unmarshal(raw, &d); err == nil {
			payload.Model = d.Request.Model
			for _, c := range d.Request.Contents {
				payload.History = append(payload.History, domain.Turn{Role: c.Role, Text: c.text()})
			}
			p.profile = profileFromInstruction(instructionText(d.Request.Config.SystemInstruction))
		}
		p.kind, p.data = domain.KindLLMInvocation, payload

	case dataLLMResponse:
		var d llmResponseData
		payload := &domain.LLMResponsePayload{}
		if err := json.Unmarshal(raw, &d); err == nil {
			payload.Partial = d.Data.Partial
			c := d.Data.Content
			if c == nil && len(d.Data.Candidates) > 0 {
				c = &d.Data.Candidates[0].Content
			}
			if c != nil {
				payload.Text = c.text()
				for _, part := range c.Parts {
					if fc := part.FunctionCall; fc != nil {
						payload.FunctionCalls = append(payload.FunctionCalls, domain.FunctionCall{
							ID: fc.ID, Name: fc.Name, Args: fc.Args,
						})
					}
				}
			}
		}
		p.kind, p.data = domain.KindLLMResponse, payload

	case dataToolInvocationStart:
		var d toolInvocationData
		payload := &domain.ToolInvocationStartPayload{}
		if err := json.Unmarshal(raw, &d); err == nil {
			payload.ToolCallID = d.FunctionCallID
			payload.ToolName = d.ToolName
			payload.Args = d.ToolArgs
		}
		if payload.ToolCallID == "" {
			payload.ToolCallID = metadataCallID
		}
		p.kind, p.data = domain.KindToolInvocationStart, payload

	case dataToolResult:
		var d toolResultData
		payload := &domain.ToolResultPayload{}
		if err := json.Unmarshal(raw, &d); err == nil {
			payload.ToolCallID = d.FunctionCallID
			payload.ToolName = d.ToolName
			payload.Result = d.ResultData
			payload.Status, payload.DelegatedAgent = resultStatus(d.ResultData)
		}
		if payload.ToolCallID == "" {
			payload.ToolCallID = metadataCallID
		}
		p.kind, p.data = domain.KindToolResult, payload
	}
}

func (c content) text() string {
	var texts []string
	for _, part := range c.Parts {
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, " ")
}

// resultStatus reads the status and delegated agent from an object-valued
// tool result. Any other result shape yields empty strings.
func resultStatus(raw json.RawMessage) (status, agent string) {
	var r struct {
		Status    any    `json:"status"`
		AgentName string `json:"agent_name"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", ""
	}
	if s, ok := r.Status.(string); ok {
		status = s
	}
	return status, r.AgentName
}

// instructionText accepts a system instruction given either as a string or
// as a content object with text parts.
func instructionText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var c content
	if err := json.Unmarshal(raw, &c); err == nil {
		return c.text()
	}
	return ""
}

func (p parsedParts) text() string {
	return strings.Join(p.texts, " ")
}

func (p parsedParts) hasToolActivity() bool {
	switch p.kind {
	case domain.KindLLMInvocation, domain.KindToolInvocationStart, domain.KindToolResult:
		return true
	case domain.KindLLMResponse:
		return len(p.data.(*domain.LLMResponsePayload).FunctionCalls) > 0
	default:
		return false
	}
}

// payload picks the event kind: the recognised data part when there is one,
// otherwise a text message or status update depending on where it came from.
func (p parsedParts) payload(d decoded) (domain.PhaseKind, domain.Payload) {
	if p.data != nil {
		if r, ok := p.data.(*domain.LLMResponsePayload); ok && r.Text == "" {
			r.Text = p.text()
		}
		return p.kind, p.data
	}
	if d.resultKind == resultKindStatusUpdate {
		return domain.KindStatusUpdate, &domain.StatusUpdatePayload{Text: p.text()}
	}
	return domain.KindMessage, &domain.MessagePayload{Text: p.text()}
}
