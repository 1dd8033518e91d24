package persona

import (
	"fmt"
	"sort"
	"sync"
)

// Persona defines one chat persona: which model answers, how creative it
// is allowed to be, and the system prompt that sets its voice.
type Persona struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Model          string   `json:"model"`
	EmbeddingModel string   `json:"embedding_model,omitempty"`
	Temperature    float64  `json:"temperature"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
	SystemPrompt   string   `json:"system_prompt"`
	Capabilities   []string `json:"capabilities,omitempty"`
}

// Registry is the closed set of personas resolved at startup. Lookups
// after load are read-only.
type Registry struct {
	personas map[string]*Persona
	mu       sync.RWMutex
}

// NewRegistry creates a registry seeded with the given personas.
// Duplicate or empty IDs are rejected so misconfiguration fails at boot
// rather than at request time.
func NewRegistry(personas []*Persona) (*Registry, error) {
	r := &Registry{personas: make(map[string]*Persona, len(personas))}
	for _, p := range personas {
		if p.ID == "" {
			return nil, fmt.Errorf("persona with empty id")
		}
		if _, dup := r.personas[p.ID]; dup {
			return nil, fmt.Errorf("duplicate persona id %q", p.ID)
		}
		if p.Model == "" {
			return nil, fmt.Errorf("persona %q has no model", p.ID)
		}
		r.personas[p.ID] = p
	}
	return r, nil
}

// Get returns the persona for an id.
func (r *Registry) Get(id string) (*Persona, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.personas[id]
	return p, ok
}

// List returns all personas sorted by id.
func (r *Registry) List() []*Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Persona, 0, len(r.personas))
	for _, p := range r.personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Defaults returns the built-in persona catalogue used when the config
// file declares none.
func Defaults() []*Persona {
	return []*Persona{
		{
			ID:          "companion",
			Name:        "Companion",
			Model:       "phi3:14b",
			Temperature: 0.8,
			SystemPrompt: "You are a warm, attentive companion. Remember what the user " +
				"shares with you and weave it naturally into conversation. Be supportive " +
				"without being saccharine.",
			Capabilities: []string{"conversation", "memory"},
		},
		{
			ID:          "emotion",
			Name:        "Emotion Analyst",
			Model:       "gemma2:2b",
			Temperature: 0.6,
			SystemPrompt: "You analyse the emotional content of messages. Reply only with " +
				"a JSON object mapping emotion names to intensities between 0 and 1.",
			Capabilities: []string{"analysis"},
		},
		{
			ID:             "docqa",
			Name:           "Document Q&A",
			Model:          "qwen2.5:7b",
			EmbeddingModel: "nomic-embed-text",
			Temperature:    0.4,
			SystemPrompt: "You answer questions strictly from the provided documents. " +
				"If the documents do not contain the answer, say so.",
			Capabilities: []string{"retrieval", "qa"},
		},
		{
			ID:          "social",
			Name:        "Social Writer",
			Model:       "mistral:7b",
			Temperature: 0.7,
			SystemPrompt: "You draft social media posts in the user's established voice. " +
				"Keep posts concise and platform-appropriate.",
			Capabilities: []string{"writing"},
		},
		{
			ID:          "scriptgen",
			Name:        "Script Generator",
			Model:       "llama3.2:3b",
			Temperature: 0.9,
			SystemPrompt: "You write creative scripts and dialogue. Lean into the user's " +
				"premise and sustain character voices across scenes.",
			Capabilities: []string{"writing", "creative"},
		},
	}
}
