package memory

import (
	"context"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestAssembler(store Storage) (*Assembler, *Buffer) {
	buf := NewBuffer(DefaultBufferCap, nil)
	return NewAssembler(store, buf, nil, zap.NewNop()), buf
}

func TestAssembleNoHistory(t *testing.T) {
	asm, _ := newTestAssembler(newFakeStorage())

	bundle := asm.Assemble(context.Background(), "new-user", "companion", "hello")

	if bundle.Snapshot == nil {
		t.Fatal("expected a synthesized default snapshot, got nil")
	}
	if bundle.Snapshot.InteractionCount != 0 {
		t.Errorf("got interaction count %d, want 0", bundle.Snapshot.InteractionCount)
	}
	if len(bundle.Relevant) != 0 || len(bundle.Emotional) != 0 || len(bundle.Procedural) != 0 {
		t.Errorf("expected empty memory lists for a new user")
	}
}

func TestAssembleStorageDownDegradesToBuffer(t *testing.T) {
	store := newFakeStorage()
	store.failing = true
	asm, buf := newTestAssembler(store)

	buf.Add("u1", &Item{
		ID: "buffered", UserID: "u1", AgentID: "companion",
		Type:    TypeEpisodic,
		Content: map[string]interface{}{"message": "talked about sailing"},
	})

	bundle := asm.Assemble(context.Background(), "u1", "companion", "sailing")
	if len(bundle.Relevant) != 1 || bundle.Relevant[0].ID != "buffered" {
		t.Fatalf("expected the buffered item to survive a storage outage")
	}
}

func TestAssembleRelevanceAndImportanceOrdering(t *testing.T) {
	store := newFakeStorage()
	asm, _ := newTestAssembler(store)
	ctx := context.Background()

	now := time.Now()
	importances := []float64{0.9, 0.1, 0.5, 0.5, 0.5}
	for i, imp := range importances {
		content := map[string]interface{}{"message": "weather chat"}
		// The 0.9 item and the third 0.5 item mention the keyword.
		if i == 0 || i == 4 {
			content["message"] = "planning the marathon route"
		}
		store.Insert(ctx, &Item{
			ID: string(rune('a' + i)), UserID: "u1", AgentID: "coach",
			Type: TypeEpisodic, Importance: imp, Content: content,
			CreatedAt:    now.Add(time.Duration(i) * time.Minute),
			LastAccessed: now.Add(time.Duration(i) * time.Minute),
		})
	}

	bundle := asm.Assemble(ctx, "u1", "coach", "marathon")
	if len(bundle.Relevant) != 2 {
		t.Fatalf("got %d relevant items, want 2", len(bundle.Relevant))
	}
	if bundle.Relevant[0].Importance != 0.9 {
		t.Errorf("got importance %v first, want 0.9", bundle.Relevant[0].Importance)
	}
	if bundle.Relevant[1].Importance != 0.5 {
		t.Errorf("got importance %v second, want a matching 0.5 item", bundle.Relevant[1].Importance)
	}
}

func TestAssembleEmotionalAlwaysIncluded(t *testing.T) {
	store := newFakeStorage()
	asm, _ := newTestAssembler(store)
	ctx := context.Background()

	// Off-topic emotional memory still surfaces.
	store.Insert(ctx, &Item{
		ID: "emo", UserID: "u1", AgentID: "companion", Type: TypeEmotional,
		Importance: 0.6,
		Content:    map[string]interface{}{"feeling": "anxious about exams"},
	})
	store.Insert(ctx, &Item{
		ID: "proc", UserID: "u1", AgentID: "companion", Type: TypeProcedural,
		Importance: 0.4,
		Content:    map[string]interface{}{"approach": "ask open questions"},
	})

	bundle := asm.Assemble(ctx, "u1", "companion", "weekend cooking plans")
	if len(bundle.Emotional) != 1 || bundle.Emotional[0].ID != "emo" {
		t.Errorf("emotional memory missing from bundle")
	}
	if len(bundle.Procedural) != 1 || bundle.Procedural[0].ID != "proc" {
		t.Errorf("procedural memory missing from bundle")
	}
	for _, it := range bundle.Emotional {
		if it.Type != TypeEmotional {
			t.Errorf("emotional list contains %q item", it.Type)
		}
	}
}

func TestUpdateContextSmoothing(t *testing.T) {
	store := newFakeStorage()
	asm, _ := newTestAssembler(store)
	ctx := context.Background()

	_, err := asm.UpdateContext(ctx, "u1", "companion", nil, map[string]float64{"joy": 0.8}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap, err := asm.UpdateContext(ctx, "u1", "companion", nil, map[string]float64{"joy": 0.2}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := 0.7*0.8 + 0.3*0.2 // 0.62
	if got := snap.EmotionalState["joy"]; math.Abs(got-want) > 1e-9 {
		t.Errorf("got joy %v, want %v", got, want)
	}
	if snap.InteractionCount != 2 {
		t.Errorf("got interaction count %d, want 2", snap.InteractionCount)
	}
}

func TestUpdateContextMergesFields(t *testing.T) {
	store := newFakeStorage()
	asm, _ := newTestAssembler(store)
	ctx := context.Background()

	asm.UpdateContext(ctx, "u1", "companion",
		map[string]interface{}{"mood": "upbeat", "topic": "music"}, nil, nil)
	snap, err := asm.UpdateContext(ctx, "u1", "companion",
		map[string]interface{}{"topic": "gigs"}, nil,
		map[string]interface{}{"genre": "jazz"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if snap.ContextData["mood"] != "upbeat" {
		t.Errorf("earlier field lost in merge")
	}
	if snap.ContextData["topic"] != "gigs" {
		t.Errorf("got topic %v, want overwrite to %q", snap.ContextData["topic"], "gigs")
	}
	if snap.Preferences["genre"] != "jazz" {
		t.Errorf("preference not carried into snapshot")
	}
}

func TestSmoothEmotionsNewKey(t *testing.T) {
	got := SmoothEmotions(map[string]float64{"joy": 0.5}, map[string]float64{"surprise": 0.9})
	if got["surprise"] != 0.9 {
		t.Errorf("unseen emotion should take incoming value, got %v", got["surprise"])
	}
	if got["joy"] != 0.5 {
		t.Errorf("absent incoming key should leave state untouched, got %v", got["joy"])
	}
}
