package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestOllamaChat(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:           "phi3:14b",
			Message:         Message{Role: "assistant", Content: "hello there"},
			Done:            true,
			PromptEvalCount: 12,
			EvalCount:       5,
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(Config{ID: "local", Endpoint: srv.URL}, zap.NewNop())
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Model:       "phi3:14b",
		Messages:    []Message{{Role: "user", Content: "hi"}},
		Temperature: 0.8,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Content != "hello there" {
		t.Errorf("Content = %q, want %q", resp.Content, "hello there")
	}
	if resp.Usage.TotalTokens != 17 {
		t.Errorf("TotalTokens = %d, want 17", resp.Usage.TotalTokens)
	}
	if gotReq.Stream {
		t.Error("non-streaming request sent stream=true")
	}
	if temp, ok := gotReq.Options["temperature"].(float64); !ok || temp != 0.8 {
		t.Errorf("options.temperature = %v, want 0.8", gotReq.Options["temperature"])
	}
}

func TestOllamaChatServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOllamaProvider(Config{ID: "local", Endpoint: srv.URL}, zap.NewNop())
	_, err := p.Chat(context.Background(), &ChatRequest{Model: "missing"})
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestOllamaChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, word := range []string{"one", "two"} {
			fmt.Fprintf(w, `{"model":"m","message":{"role":"assistant","content":"%s"},"done":false}`+"\n", word)
		}
		fmt.Fprintln(w, `{"model":"m","message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(Config{ID: "local", Endpoint: srv.URL}, zap.NewNop())
	ch, err := p.ChatStream(context.Background(), &ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var content string
	var done bool
	for chunk := range ch {
		content += chunk.Content
		done = chunk.Done
	}
	if content != "onetwo" {
		t.Errorf("streamed content = %q, want %q", content, "onetwo")
	}
	if !done {
		t.Error("stream never signalled done")
	}
}

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %q, want /api/generate", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"response": "a poem"})
	}))
	defer srv.Close()

	p := NewOllamaProvider(Config{ID: "local", Endpoint: srv.URL}, zap.NewNop())
	got, err := p.Generate(context.Background(), "llama3.2:3b", "write a poem", 0.9)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "a poem" {
		t.Errorf("Generate = %q, want %q", got, "a poem")
	}
}

func TestOllamaListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"models": []map[string]string{{"name": "phi3:14b"}, {"name": "gemma2:2b"}},
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(Config{ID: "local", Endpoint: srv.URL}, zap.NewNop())
	models, err := p.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("len(models) = %d, want 2", len(models))
	}
	if models[0].ID != "phi3:14b" {
		t.Errorf("models[0].ID = %q, want phi3:14b", models[0].ID)
	}
}
