// Package tokens estimates token counts of reconstructed query and reply text.
package tokens

import (
	"log/slog"
	"math"
	"strings"
)

// Counter counts the tokens of plain text for a model family.
type Counter interface {
	CountText(model, text string) (int, error)
	SupportsModel(model string) bool
}

// Registry picks a Counter per model and falls back to an Estimator.
type Registry struct {
	counters []Counter
	fallback Counter
	logger   *slog.Logger
}

// NewRegistry creates a registry with the character estimator as fallback.
func NewRegistry() *Registry {
	return &Registry{
		fallback: NewEstimator(),
		logger:   slog.Default(),
	}
}

// NewDefaultRegistry returns a registry with the tiktoken counter registered.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewTiktokenCounter())
	return r
}

// Register adds a counter. Counters are consulted in registration order.
func (r *Registry) Register(counter Counter) {
	r.counters = append(r.counters, counter)
}

// SetFallback sets the counter used when no registered counter supports a model.
func (r *Registry) SetFallback(counter Counter) {
	r.fallback = counter
}

// GetCounter returns the counter responsible for model.
func (r *Registry) GetCounter(model string) Counter {
	for _, c := range r.counters {
		if c.SupportsModel(model) {
			return c
		}
	}
	return r.fallback
}

// CountText counts text with the model's counter. A counter error degrades
// to the fallback estimate rather than failing the caller.
func (r *Registry) CountText(model, text string) int {
	if text == "" {
		return 0
	}
	n, err := r.GetCounter(model).CountText(model, text)
	if err == nil {
		return n
	}
	r.logger.Debug("token counter failed, using estimate",
		slog.String("model", model),
		slog.String("error", err.Error()))
	if r.fallback == nil {
		return 0
	}
	n, _ = r.fallback.CountText(model, text)
	return n
}

// Estimator approximates token counts from character length.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4.0}
}

// CountText estimates the token count of text.
func (e *Estimator) CountText(_ string, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	return int(math.Ceil(float64(len(text)) / e.CharsPerToken)), nil
}

// SupportsModel returns true - estimator supports all models as a fallback.
func (e *Estimator) SupportsModel(string) bool {
	return true
}

// ModelMatcher helps match model names to counter families.
type ModelMatcher struct {
	prefixes []string
	exact    []string
}

// NewModelMatcher creates a new model matcher.
func NewModelMatcher(prefixes, exact []string) *ModelMatcher {
	return &ModelMatcher{prefixes: prefixes, exact: exact}
}

// Matches returns true if the model matches any pattern.
func (m *ModelMatcher) Matches(model string) bool {
	model = strings.ToLower(model)
	for _, e := range m.exact {
		if model == e {
			return true
		}
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}
