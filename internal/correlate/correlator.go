package correlate

import (
	"cmp"
	"log/slog"
	"slices"
	"time"

	"github.com/tjfontaine/a2a-lens/internal/core/domain"
)

// Correlator turns events into deduplicated tool-call lifecycles.
type Correlator struct {
	rules  Rules
	logger *slog.Logger
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Correlator) {
		c.logger = logger
	}
}

// New creates a Correlator.
func New(rules Rules, opts ...Option) *Correlator {
	c := &Correlator{rules: rules, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rules returns the conventions the correlator was built with.
func (c *Correlator) Rules() Rules {
	return c.rules
}

// Result is the output of one correlation pass.
type Result struct {
	// Lifecycles holds one record per tool call id, sorted by tool call id.
	Lifecycles []domain.ToolCallLifecycle
	// Dropped counts fragments discarded for lacking a tool call or task id.
	Dropped int
}

type partitionKey struct {
	taskID string
	agent  string
}

type joinKey struct {
	taskID     string
	agent      string
	toolCallID string
}

// group is the outer join of one tool call's fragments within a partition.
type group struct {
	key        joinKey
	decision   *fragment
	invocation *fragment
	result     *fragment
}

func (g *group) add(f *fragment) {
	// Fragments arrive in time order, so the first of each phase is the earliest.
	switch f.phase {
	case phaseDecision:
		if g.decision == nil {
			g.decision = f
		}
	case phaseInvocation:
		if g.invocation == nil {
			g.invocation = f
		}
	case phaseResult:
		if g.result == nil {
			g.result = f
		}
	}
}

func (g *group) firstSeen() time.Time {
	for _, f := range []*fragment{g.decision, g.invocation, g.result} {
		if f != nil {
			return f.ts
		}
	}
	return time.Time{}
}

// Correlate runs phase extraction, pre-reasoning, join, dedup, interaction
// resolution and derived-field computation over events. events may be in
// any order and are not modified.
func (c *Correlator) Correlate(events []*domain.Event) Result {
	ordered := SortEvents(events)
	parents := ParentsFromEvents(ordered)

	var res Result
	partitions := make(map[partitionKey][]*extracted)
	var frags []*fragment
	for _, ev := range ordered {
		fs, dropped := extract(ev)
		res.Dropped += dropped
		key := partitionKey{taskID: ev.TaskID, agent: ev.AgentName}
		partitions[key] = append(partitions[key], &extracted{event: ev, fragments: fs})
		frags = append(frags, fs...)
	}

	for _, partition := range partitions {
		attachReasoning(partition)
	}

	var groups []*group
	byKey := make(map[joinKey]*group)
	for _, f := range frags {
		key := joinKey{taskID: f.taskID, agent: f.agent, toolCallID: f.toolCallID}
		g, ok := byKey[key]
		if !ok {
			g = &group{key: key}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.add(f)
	}

	byCall := make(map[string][]*group)
	var callIDs []string
	for _, g := range groups {
		if _, ok := byCall[g.key.toolCallID]; !ok {
			callIDs = append(callIDs, g.key.toolCallID)
		}
		byCall[g.key.toolCallID] = append(byCall[g.key.toolCallID], g)
	}
	slices.Sort(callIDs)

	res.Lifecycles = make([]domain.ToolCallLifecycle, 0, len(callIDs))
	for _, id := range callIDs {
		merged := dedup(byCall[id])
		res.Lifecycles = append(res.Lifecycles, c.build(merged, parents))
	}

	if res.Dropped > 0 {
		c.logger.Debug("dropped unidentified tool-call fragments",
			slog.Int("dropped", res.Dropped),
			slog.Int("events", len(events)))
	}
	return res
}

// dedup picks one group per tool call id. The group with an invocation and
// the earliest invocation timestamp wins, since a delegator echoes the id
// after the executing agent started the tool. Phases missing on the winner
// are backfilled from the other groups in rank order.
func dedup(candidates []*group) *group {
	ranked := slices.Clone(candidates)
	slices.SortStableFunc(ranked, compareGroups)

	merged := *ranked[0]
	for _, g := range ranked[1:] {
		if merged.decision == nil {
			merged.decision = g.decision
		}
		if merged.invocation == nil {
			merged.invocation = g.invocation
		}
		if merged.result == nil {
			merged.result = g.result
		}
	}
	return &merged
}

func compareGroups(a, b *group) int {
	ai, bi := a.invocation != nil, b.invocation != nil
	if ai != bi {
		if ai {
			return -1
		}
		return 1
	}
	if ai {
		if c := a.invocation.ts.Compare(b.invocation.ts); c != 0 {
			return c
		}
	}
	if c := a.firstSeen().Compare(b.firstSeen()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.key.taskID, b.key.taskID); c != 0 {
		return c
	}
	return cmp.Compare(a.key.agent, b.key.agent)
}

func (c *Correlator) build(g *group, parents Parents) domain.ToolCallLifecycle {
	lc := domain.ToolCallLifecycle{
		ToolCallID:         g.key.toolCallID,
		TaskID:             g.key.taskID,
		CallingAgent:       g.key.agent,
		PreReasoningSource: domain.ReasoningNone,
		SuccessStatus:      domain.SuccessUnknown,
	}

	phases := []*fragment{g.decision, g.invocation, g.result}
	for _, f := range phases {
		if f != nil && lc.SessionID == "" {
			lc.SessionID = f.sessionID
		}
	}
	for _, f := range []*fragment{g.invocation, g.decision, g.result} {
		if f != nil && f.toolName != "" {
			lc.ToolName = f.toolName
			break
		}
	}
	for _, f := range phases {
		if f != nil && f.reasoning.Source != domain.ReasoningNone {
			lc.PreReasoningText = f.reasoning.Text
			lc.PreReasoningSource = f.reasoning.Source
			lc.PreReasoningTimestamp = f.reasoning.Timestamp
			break
		}
	}

	if d := g.decision; d != nil {
		lc.DecisionTimestamp = timePtr(d.ts)
		lc.InputArgs = d.args
	}
	if inv := g.invocation; inv != nil {
		lc.InvocationTimestamp = timePtr(inv.ts)
		if inv.args != nil {
			lc.InputArgs = inv.args
		}
	}
	if r := g.result; r != nil {
		lc.ResultTimestamp = timePtr(r.ts)
		lc.OutputResult = r.result
		lc.SuccessStatus = c.rules.Success(r.status)
	}
	if lc.InvocationTimestamp != nil && lc.ResultTimestamp != nil {
		d := lc.ResultTimestamp.Sub(*lc.InvocationTimestamp)
		lc.Duration = &d
	}

	if c.rules.IsDelegation(lc.ToolName) {
		if g.result != nil && g.result.delegated != "" {
			lc.DelegatedAgent = g.result.delegated
		} else {
			lc.DelegatedAgent = c.rules.DelegatedAgentFromTool(lc.ToolName)
		}
	}

	if root, ok := c.rules.RootOf(lc.TaskID, parents); ok {
		lc.InteractionID = &root
	} else {
		lc.InteractionUnresolved = true
	}
	return lc
}

// SortEvents returns a copy of events ordered by timestamp. Ties are broken
// by phase kind, so reasoning sources precede fragments, and then by event id.
func SortEvents(events []*domain.Event) []*domain.Event {
	out := slices.Clone(events)
	slices.SortStableFunc(out, func(a, b *domain.Event) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		if c := cmp.Compare(kindRank(a.Kind), kindRank(b.Kind)); c != 0 {
			return c
		}
		return cmp.Compare(a.EventID, b.EventID)
	})
	return out
}

func timePtr(t time.Time) *time.Time {
	return &t
}
