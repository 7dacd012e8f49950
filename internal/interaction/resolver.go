// Package interaction rolls a top-level task up into a query/response Interaction.
package interaction

import (
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/tjfontaine/a2a-lens/internal/core/domain"
	"github.com/tjfontaine/a2a-lens/internal/correlate"
	"github.com/tjfontaine/a2a-lens/internal/pkg/topic"
)

// TokenCounter estimates the tokens of a piece of text.
type TokenCounter interface {
	CountText(model, text string) int
}

// Rules holds the conventions used to read an interaction out of a task.
type Rules struct {
	// Orchestrator is the default entry agent; when it initiates, the
	// handling agent is whoever it delegated to first.
	Orchestrator string
	// FinalReply matches topics carrying the reply delivered to the user.
	FinalReply *topic.Pattern
	// QueryNoise lists substrings marking user-role text that is not a query.
	QueryNoise []string
	// TokenModel selects the tokenizer for query and reply estimates.
	TokenModel string
}

// DefaultRules returns the conventions of an A2A gateway deployment.
func DefaultRules() Rules {
	return Rules{
		Orchestrator: "OrchestratorAgent",
		FinalReply:   topic.MustCompile(">/a2a/v1/gateway/response/>"),
		QueryNoise:   []string{"Request received by gateway"},
		TokenModel:   "gpt-4o",
	}
}

// Resolver builds Interactions.
type Resolver struct {
	rules   Rules
	tasks   correlate.Rules
	counter TokenCounter
	logger  *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTokenCounter enables query and response token estimates.
func WithTokenCounter(c TokenCounter) Option {
	return func(r *Resolver) {
		r.counter = c
	}
}

// WithLogger sets the resolver's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a Resolver. tasks supplies the delegation naming
// convention shared with the correlator.
func NewResolver(rules Rules, tasks correlate.Rules, opts ...Option) *Resolver {
	r := &Resolver{rules: rules, tasks: tasks, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve builds the Interaction for rootTaskID from the scope's events
// (root task and subtasks, time-ordered) and its correlated lifecycles.
// It returns nil when the root task has no user-originated event.
func (r *Resolver) Resolve(rootTaskID string, events []*domain.Event, lifecycles []domain.ToolCallLifecycle) *domain.Interaction {
	var own []*domain.Event
	for _, ev := range events {
		if ev.TaskID == rootTaskID {
			own = append(own, ev)
		}
	}

	var firstUser, query, final *domain.Event
	for _, ev := range own {
		if ev.Role != domain.RoleUser {
			continue
		}
		if firstUser == nil {
			firstUser = ev
		}
		if query == nil && r.isQuery(ev) {
			query = ev
		}
	}
	if firstUser == nil {
		return nil
	}
	for _, ev := range own {
		if r.isFinalReply(ev) {
			final = ev
		}
	}

	it := &domain.Interaction{
		InteractionID: rootTaskID,
		SessionID:     firstUser.SessionID,
		StartedAt:     firstUser.Timestamp,
		ResponseState: domain.ResponseInProgress,
	}
	if query != nil {
		text := query.Text()
		it.UserQuery = &text
		it.StartedAt = query.Timestamp
		it.QueryTokens = r.count(text)
	}
	if final != nil {
		text := final.Text()
		ts := final.Timestamp
		it.FinalResponse = &text
		it.CompletedAt = &ts
		it.ResponseState = domain.ResponseCompleted
		it.ResponseTokens = r.count(text)
	}
	if query != nil && final != nil {
		d := final.Timestamp.Sub(query.Timestamp)
		it.Duration = &d
	}

	it.InitiatingAgent = initiatingAgent(firstUser, own)
	it.HandlingAgent = r.handlingAgent(rootTaskID, it.InitiatingAgent, lifecycles)
	r.fillMetrics(it, rootTaskID, events, lifecycles)
	return it
}

func (r *Resolver) isQuery(ev *domain.Event) bool {
	text := strings.TrimSpace(ev.Text())
	if text == "" {
		return false
	}
	for _, noise := range r.rules.QueryNoise {
		if noise != "" && strings.Contains(text, noise) {
			return false
		}
	}
	return true
}

func (r *Resolver) isFinalReply(ev *domain.Event) bool {
	if r.rules.FinalReply != nil {
		return r.rules.FinalReply.Match(ev.Topic)
	}
	return ev.MessageType == domain.MessageTypeFinalResponse
}

// initiatingAgent is the agent the user addressed, else the first agent to act.
func initiatingAgent(firstUser *domain.Event, own []*domain.Event) string {
	if firstUser.AgentName != "" {
		return firstUser.AgentName
	}
	for _, ev := range own {
		if ev.AgentName != "" {
			return ev.AgentName
		}
	}
	return ""
}

func (r *Resolver) handlingAgent(rootTaskID, initiating string, lifecycles []domain.ToolCallLifecycle) string {
	if initiating != "" && initiating != r.rules.Orchestrator {
		return initiating
	}
	var first *domain.ToolCallLifecycle
	for i := range lifecycles {
		lc := &lifecycles[i]
		if lc.TaskID != rootTaskID || !r.tasks.IsDelegation(lc.ToolName) || lc.DelegatedAgent == "" {
			continue
		}
		if first == nil || delegationBefore(lc, first) {
			first = lc
		}
	}
	if first != nil {
		return first.DelegatedAgent
	}
	if initiating != "" {
		return initiating
	}
	return r.rules.Orchestrator
}

// delegationBefore orders delegation calls by invocation time, falling back
// to the first phase seen, then tool call id.
func delegationBefore(a, b *domain.ToolCallLifecycle) bool {
	at, bt := callTime(a), callTime(b)
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	return a.ToolCallID < b.ToolCallID
}

func callTime(lc *domain.ToolCallLifecycle) time.Time {
	if lc.InvocationTimestamp != nil {
		return *lc.InvocationTimestamp
	}
	return lc.FirstSeen()
}

func (r *Resolver) fillMetrics(it *domain.Interaction, rootTaskID string, events []*domain.Event, lifecycles []domain.ToolCallLifecycle) {
	subtasks := make(map[string]bool)
	agents := make(map[string]bool)
	for _, ev := range events {
		it.TotalMessages++
		it.TokenUsage.Add(ev.TokenUsage)
		if ev.TaskID == rootTaskID {
			continue
		}
		subtasks[ev.TaskID] = true
		if ev.AgentName != "" && ev.AgentName != it.InitiatingAgent {
			agents[ev.AgentName] = true
		}
	}
	it.NumSubtasks = len(subtasks)
	for name := range agents {
		it.DelegatedAgents = append(it.DelegatedAgents, name)
	}
	slices.Sort(it.DelegatedAgents)
	it.NumToolCalls = len(lifecycles)
}

func (r *Resolver) count(text string) int {
	if r.counter == nil {
		return 0
	}
	return r.counter.CountText(r.rules.TokenModel, text)
}
