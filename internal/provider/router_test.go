package provider

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type stubProvider struct {
	id   string
	resp *ChatResponse
	err  error
}

func (s *stubProvider) ID() string   { return s.id }
func (s *stubProvider) Name() string { return s.id }
func (s *stubProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return s.resp, s.err
}
func (s *stubProvider) ChatStream(ctx context.Context, req *ChatRequest) (<-chan *StreamChunk, error) {
	ch := make(chan *StreamChunk)
	close(ch)
	return ch, s.err
}
func (s *stubProvider) ListModels(ctx context.Context) ([]Model, error) { return nil, s.err }
func (s *stubProvider) HealthCheck(ctx context.Context) error           { return s.err }

func TestRouteUsesBinding(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(&stubProvider{id: "default", resp: &ChatResponse{Content: "from default"}})
	r.Register(&stubProvider{id: "bound", resp: &ChatResponse{Content: "from bound"}})
	r.Bind("companion", "bound")

	resp, err := r.Route(context.Background(), "companion", &ChatRequest{})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.Content != "from bound" {
		t.Errorf("Content = %q, want %q", resp.Content, "from bound")
	}
}

func TestRouteFallsBackToDefault(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(&stubProvider{id: "default", resp: &ChatResponse{Content: "ok"}})

	resp, err := r.Route(context.Background(), "unbound-persona", &ChatRequest{})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("Content = %q, want ok", resp.Content)
	}
}

func TestRouteFallbackChain(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(&stubProvider{id: "primary", err: errors.New("down")})
	r.Register(&stubProvider{id: "backup", resp: &ChatResponse{Content: "rescued"}})
	r.Bind("companion", "primary")
	r.SetFallbacks("companion", []string{"backup"})

	resp, err := r.Route(context.Background(), "companion", &ChatRequest{})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.Content != "rescued" {
		t.Errorf("Content = %q, want rescued", resp.Content)
	}
}

func TestRouteAllProvidersFail(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(&stubProvider{id: "primary", err: errors.New("down")})
	r.Bind("companion", "primary")

	if _, err := r.Route(context.Background(), "companion", &ChatRequest{}); err == nil {
		t.Fatal("expected error when every provider fails")
	}
}

func TestParseOrDefault(t *testing.T) {
	fallback := map[string]interface{}{"mood": "neutral"}

	got := ParseOrDefault(`{"mood": "happy", "intensity": 0.8}`, fallback)
	if got["mood"] != "happy" {
		t.Errorf("mood = %v, want happy", got["mood"])
	}

	got = ParseOrDefault("Sure! Here you go:\n```json\n{\"mood\": \"sad\"}\n```", fallback)
	if got["mood"] != "sad" {
		t.Errorf("fenced mood = %v, want sad", got["mood"])
	}

	got = ParseOrDefault("I cannot answer that in JSON.", fallback)
	if got["mood"] != "neutral" {
		t.Errorf("fallback mood = %v, want neutral", got["mood"])
	}
}
