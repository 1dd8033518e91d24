// Package prompt renders retrieved memory context and a persona's voice
// into the message list sent to the model.
package prompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/quillback/mnemo/internal/memory"
	"github.com/quillback/mnemo/internal/persona"
	"github.com/quillback/mnemo/internal/provider"
)

const (
	// charsPerToken is the rough budget conversion used when trimming
	// context blocks. Close enough for English prose.
	charsPerToken = 4

	// DefaultTokenBudget caps the injected context, leaving room for the
	// system prompt and the user's message inside typical model windows.
	DefaultTokenBudget = 1500
)

// Builder assembles chat messages from a persona and a memory bundle.
type Builder struct {
	tokenBudget int
}

func NewBuilder(tokenBudget int) *Builder {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	return &Builder{tokenBudget: tokenBudget}
}

// Build returns the message list for one turn: persona system prompt,
// a system block carrying memory context when any exists, then the user
// message.
func (b *Builder) Build(p *persona.Persona, bundle *memory.Bundle, userMessage string) []provider.Message {
	msgs := make([]provider.Message, 0, 3)
	if p != nil && p.SystemPrompt != "" {
		msgs = append(msgs, provider.Message{Role: "system", Content: p.SystemPrompt})
	}
	if ctx := b.renderContext(bundle); ctx != "" {
		msgs = append(msgs, provider.Message{Role: "system", Content: ctx})
	}
	msgs = append(msgs, provider.Message{Role: "user", Content: userMessage})
	return msgs
}

// renderContext flattens the bundle into a trimmed text block. Sections
// are emitted in priority order, relevant memories first, and rendering
// stops once the character budget is spent.
func (b *Builder) renderContext(bundle *memory.Bundle) string {
	if bundle == nil {
		return ""
	}
	budget := b.tokenBudget * charsPerToken

	var sb strings.Builder
	sb.WriteString("What you remember about this user:\n")
	base := sb.Len()

	writeSection(&sb, "Relevant memories", bundle.Relevant, &budget)
	writeSection(&sb, "Emotional context", bundle.Emotional, &budget)
	writeSection(&sb, "Established routines", bundle.Procedural, &budget)
	writeSnapshot(&sb, bundle.Snapshot, &budget)

	if sb.Len() == base {
		return ""
	}
	return sb.String()
}

func writeSection(sb *strings.Builder, title string, items []*memory.Item, budget *int) {
	if len(items) == 0 || *budget <= 0 {
		return
	}
	header := "\n" + title + ":\n"
	if len(header) > *budget {
		return
	}
	sb.WriteString(header)
	*budget -= len(header)

	for _, item := range items {
		line := "- " + renderContent(item.Content) + "\n"
		if len(line) > *budget {
			return
		}
		sb.WriteString(line)
		*budget -= len(line)
	}
}

func writeSnapshot(sb *strings.Builder, snap *memory.Snapshot, budget *int) {
	if snap == nil || *budget <= 0 {
		return
	}

	var lines []string
	if len(snap.EmotionalState) > 0 {
		lines = append(lines, "- Current emotional state: "+renderEmotions(snap.EmotionalState))
	}
	if len(snap.Preferences) > 0 {
		if pref, err := json.Marshal(snap.Preferences); err == nil {
			lines = append(lines, "- Preferences: "+string(pref))
		}
	}
	if snap.InteractionCount > 0 {
		lines = append(lines, fmt.Sprintf("- Conversations so far: %d", snap.InteractionCount))
	}
	if len(lines) == 0 {
		return
	}

	header := "\nUser state:\n"
	if len(header) > *budget {
		return
	}
	sb.WriteString(header)
	*budget -= len(header)

	for _, line := range lines {
		line += "\n"
		if len(line) > *budget {
			return
		}
		sb.WriteString(line)
		*budget -= len(line)
	}
}

// renderContent prefers the human-readable fields an interaction memory
// carries, falling back to compact JSON for structured content.
func renderContent(content map[string]interface{}) string {
	for _, key := range []string{"summary", "message", "text"} {
		if v, ok := content[key].(string); ok && v != "" {
			return v
		}
	}
	b, err := json.Marshal(content)
	if err != nil {
		return ""
	}
	return string(b)
}

// renderEmotions lists emotions strongest first.
func renderEmotions(state map[string]float64) string {
	type kv struct {
		name  string
		level float64
	}
	sorted := make([]kv, 0, len(state))
	for k, v := range state {
		sorted = append(sorted, kv{k, v})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].level != sorted[j].level {
			return sorted[i].level > sorted[j].level
		}
		return sorted[i].name < sorted[j].name
	})

	parts := make([]string, len(sorted))
	for i, e := range sorted {
		parts[i] = fmt.Sprintf("%s (%.2f)", e.name, e.level)
	}
	return strings.Join(parts, ", ")
}
