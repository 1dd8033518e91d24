package embedding

import (
	"context"
	"sync"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `json:"provider"` // "ollama" or "api"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// New builds the configured provider, defaulting to the local daemon.
func New(cfg Config) Provider {
	if cfg.Provider == "api" {
		return NewAPIProvider(cfg)
	}
	return NewOllamaProvider(cfg)
}

// dimCache learns the vector width from the first successful embed, so a
// stale configured dimension cannot poison collection bootstrap.
type dimCache struct {
	configured int

	once    sync.Once
	learned int
}

func (d *dimCache) observe(vec []float32) {
	if len(vec) == 0 {
		return
	}
	d.once.Do(func() { d.learned = len(vec) })
}

func (d *dimCache) value() int {
	if d.learned > 0 {
		return d.learned
	}
	return d.configured
}
