package persona

import "testing"

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]*Persona{
		{ID: "companion", Model: "phi3:14b"},
		{ID: "companion", Model: "gemma2:2b"},
	})
	if err == nil {
		t.Fatal("expected error for duplicate persona id")
	}
}

func TestNewRegistryRejectsMissingModel(t *testing.T) {
	_, err := NewRegistry([]*Persona{{ID: "companion"}})
	if err == nil {
		t.Fatal("expected error for persona without model")
	}
}

func TestRegistryGet(t *testing.T) {
	r, err := NewRegistry(Defaults())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	p, ok := r.Get("companion")
	if !ok {
		t.Fatal("companion persona missing from defaults")
	}
	if p.Model != "phi3:14b" {
		t.Errorf("companion model = %q, want phi3:14b", p.Model)
	}
	if p.Temperature != 0.8 {
		t.Errorf("companion temperature = %v, want 0.8", p.Temperature)
	}

	if _, ok := r.Get("nonexistent"); ok {
		t.Error("Get returned true for unknown persona")
	}
}

func TestRegistryListSorted(t *testing.T) {
	r, err := NewRegistry(Defaults())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	list := r.List()
	if len(list) != 5 {
		t.Fatalf("len(List()) = %d, want 5", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].ID >= list[i].ID {
			t.Errorf("List not sorted: %q before %q", list[i-1].ID, list[i].ID)
		}
	}
}

func TestDocqaHasEmbeddingModel(t *testing.T) {
	r, _ := NewRegistry(Defaults())
	p, _ := r.Get("docqa")
	if p.EmbeddingModel != "nomic-embed-text" {
		t.Errorf("docqa embedding model = %q, want nomic-embed-text", p.EmbeddingModel)
	}
}
