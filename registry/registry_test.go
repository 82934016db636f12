package registry

import (
	"errors"
	"testing"

	"github.com/tomkp/card-spy-core/handler"
	"github.com/tomkp/card-spy-core/model"
)

// mockHandler is a minimal handler.Handler implementation for testing.
type mockHandler struct {
	id         string
	matched    bool
	confidence int
	detectErr  error
	panics     bool
}

func (m *mockHandler) ID() string   { return m.id }
func (m *mockHandler) Name() string { return m.id }

func (m *mockHandler) Detect(ctx handler.CommandContext) (handler.DetectionResult, error) {
	if m.panics {
		panic("boom")
	}
	if m.detectErr != nil {
		return handler.DetectionResult{}, m.detectErr
	}
	return handler.DetectionResult{Matched: m.matched, Confidence: m.confidence}, nil
}

func (m *mockHandler) Commands() []model.CommandDescriptor { return nil }
func (m *mockHandler) Execute(ctx handler.CommandContext, commandID string, params map[string]any) (map[string]any, error) {
	return nil, nil
}
func (m *mockHandler) Interrogate(ctx handler.CommandContext) (handler.InterrogationResult, error) {
	return handler.InterrogationResult{}, nil
}

func TestRegisterReplacesSameID(t *testing.T) {
	r := New()
	r.Register(&mockHandler{id: "a", matched: true, confidence: 10}, 1)
	r.Register(&mockHandler{id: "a", matched: true, confidence: 99}, 1)

	matches := r.DetectHandlers(handler.CommandContext{})
	if len(matches) != 1 || matches[0].Result.Confidence != 99 {
		t.Fatalf("matches = %+v, want single entry with confidence 99", matches)
	}
}

func TestDetectHandlersSortedByConfidenceNotPriority(t *testing.T) {
	r := New()
	r.Register(&mockHandler{id: "low-priority-high-confidence", matched: true, confidence: 95}, 1)
	r.Register(&mockHandler{id: "high-priority-low-confidence", matched: true, confidence: 40}, 100)

	matches := r.DetectHandlers(handler.CommandContext{})
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].HandlerID != "low-priority-high-confidence" {
		t.Errorf("top match = %s, want the higher-confidence handler regardless of priority", matches[0].HandlerID)
	}
}

func TestDetectHandlersExcludesFailedAndUnmatched(t *testing.T) {
	r := New()
	r.Register(&mockHandler{id: "ok", matched: true, confidence: 50}, 1)
	r.Register(&mockHandler{id: "unmatched", matched: false, confidence: 0}, 1)
	r.Register(&mockHandler{id: "errored", detectErr: errors.New("transport down")}, 1)
	r.Register(&mockHandler{id: "panics", panics: true}, 1)

	matches := r.DetectHandlers(handler.CommandContext{})
	if len(matches) != 1 || matches[0].HandlerID != "ok" {
		t.Fatalf("matches = %+v, want only the matched handler", matches)
	}
}

func TestDetectBestHandlerReturnsFalseWhenNoneMatch(t *testing.T) {
	r := New()
	r.Register(&mockHandler{id: "a", matched: false}, 1)

	_, ok := r.DetectBestHandler(handler.CommandContext{})
	if ok {
		t.Fatal("expected no best handler")
	}
}

func TestDetectHandlersParallelMatchesSequentialResultSet(t *testing.T) {
	r := New()
	r.Register(&mockHandler{id: "a", matched: true, confidence: 30}, 1)
	r.Register(&mockHandler{id: "b", matched: true, confidence: 80}, 1)

	matches := r.DetectHandlersParallel(handler.CommandContext{})
	if len(matches) != 2 || matches[0].HandlerID != "b" {
		t.Fatalf("matches = %+v, want b first by confidence", matches)
	}
}
