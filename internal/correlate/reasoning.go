package correlate

import (
	"time"

	"github.com/tjfontaine/a2a-lens/internal/core/domain"
)

// candidate is pre-reasoning text observed before a fragment-bearing event.
type candidate struct {
	text string
	ts   time.Time
}

// Reasoning is the pre-reasoning attached to a fragment. Timestamp is set
// only when Text is.
type Reasoning struct {
	Text      *string
	Source    domain.ReasoningSource
	Timestamp *time.Time
}

func noReasoning() Reasoning {
	return Reasoning{Source: domain.ReasoningNone}
}

// resolveReasoning picks between the llm_invocation and status_update
// candidates. The llm_invocation text takes priority.
func resolveReasoning(invocation, status *candidate) Reasoning {
	pick := func(c *candidate, src domain.ReasoningSource) Reasoning {
		text := c.text
		ts := c.ts
		return Reasoning{Text: &text, Source: src, Timestamp: &ts}
	}
	switch {
	case invocation != nil && invocation.text != "":
		return pick(invocation, domain.ReasoningLLMInvocation)
	case status != nil && status.text != "":
		return pick(status, domain.ReasoningStatusUpdate)
	default:
		return noReasoning()
	}
}

// attachReasoning scans one (task, agent) partition in time order and
// attaches the pending candidates to every fragment of the next
// fragment-bearing event. Candidates are consumed by that event.
func attachReasoning(partition []*extracted) {
	var invocation, status *candidate
	for _, ex := range partition {
		if len(ex.fragments) > 0 {
			r := resolveReasoning(invocation, status)
			for _, f := range ex.fragments {
				f.reasoning = r
			}
			invocation, status = nil, nil
			continue
		}
		switch p := ex.event.Payload.(type) {
		case *domain.LLMInvocationPayload:
			if text := p.LastModelTurn(); text != "" {
				invocation = &candidate{text: text, ts: ex.event.Timestamp}
			}
		case *domain.StatusUpdatePayload:
			if p.Text != "" {
				status = &candidate{text: p.Text, ts: ex.event.Timestamp}
			}
		}
	}
}
