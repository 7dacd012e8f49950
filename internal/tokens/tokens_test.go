package tokens

import (
	"errors"
	"testing"

	"github.com/tiktoken-go/tokenizer"
)

func TestEstimator_CountText(t *testing.T) {
	e := NewEstimator()

	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"What is the weather in Paris?", 8},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := e.CountText("any", tt.text)
			if err != nil {
				t.Fatalf("CountText() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CountText(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestTiktokenCounter_SupportsModel(t *testing.T) {
	c := NewTiktokenCounter()

	tests := []struct {
		model    string
		expected bool
	}{
		{"gpt-4o", true},
		{"GPT-4-turbo", true},
		{"o3-mini", true},
		{"gemini-2.5-pro", true},
		{"claude-3-sonnet", false},
		{"unknown-model", false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := c.SupportsModel(tt.model); got != tt.expected {
				t.Errorf("SupportsModel(%q) = %v, want %v", tt.model, got, tt.expected)
			}
		})
	}
}

func TestTiktokenCounter_CountText(t *testing.T) {
	c := NewTiktokenCounter()

	got, err := c.CountText("gpt-4o", "Hello, World!")
	if err != nil {
		t.Fatalf("CountText() error = %v", err)
	}
	if got < 3 || got > 6 {
		t.Errorf("CountText() = %d, want between 3 and 6", got)
	}
}

func TestEncodingFor(t *testing.T) {
	tests := []struct {
		model string
		want  tokenizer.Encoding
	}{
		{"gpt-4o-mini", tokenizer.O200kBase},
		{"gpt-4", tokenizer.Cl100kBase},
		{"gpt-3.5-turbo", tokenizer.Cl100kBase},
		{"gemini-2.0-flash", tokenizer.O200kBase},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := encodingFor(tt.model); got != tt.want {
				t.Errorf("encodingFor(%q) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}

type failingCounter struct{}

func (failingCounter) CountText(string, string) (int, error) { return 0, errors.New("boom") }
func (failingCounter) SupportsModel(string) bool            { return true }

func TestRegistry_CountText(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewTiktokenCounter())

	if _, ok := registry.GetCounter("gpt-4o").(*TiktokenCounter); !ok {
		t.Error("expected tiktoken counter for gpt-4o")
	}
	if _, ok := registry.GetCounter("claude-3").(*Estimator); !ok {
		t.Error("expected Estimator fallback for claude-3")
	}
	if got := registry.CountText("claude-3", "abcdefgh"); got != 2 {
		t.Errorf("CountText() via fallback = %d, want 2", got)
	}
	if got := registry.CountText("gpt-4o", ""); got != 0 {
		t.Errorf("CountText() of empty text = %d, want 0", got)
	}

	degraded := NewRegistry()
	degraded.Register(failingCounter{})
	if got := degraded.CountText("x", "abcd"); got != 1 {
		t.Errorf("CountText() after counter error = %d, want 1", got)
	}
}

func TestModelMatcher(t *testing.T) {
	matcher := NewModelMatcher([]string{"gpt-", "gemini-"}, []string{"davinci"})

	tests := []struct {
		model    string
		expected bool
	}{
		{"gpt-4", true},
		{"Gemini-1.5-pro", true},
		{"davinci", true},
		{"text-davinci-003", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := matcher.Matches(tt.model); got != tt.expected {
				t.Errorf("Matches(%q) = %v, want %v", tt.model, got, tt.expected)
			}
		})
	}
}
