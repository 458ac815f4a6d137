package variables

import (
	"context"
	"sync"
	"testing"
)

func TestIterationStore_SetGet(t *testing.T) {
	store := NewStore(nil)
	store.Set("username", "john")
	store.Set("token", "abc123")

	value, ok := store.Get("username")
	if !ok {
		t.Fatal("expected to find 'username' key")
	}
	if value != "john" {
		t.Errorf("expected 'john', got %q", value)
	}

	value, ok = store.Get("missing_key")
	if ok {
		t.Errorf("expected ok=false for missing key, got ok=true with value %q", value)
	}
	if value != "" {
		t.Errorf("expected empty string for missing key, got %q", value)
	}
}

func TestIterationStore_RecordFallback(t *testing.T) {
	store := NewStore(map[string]string{"user_id": "7", "token": "from-record"})
	store.Set("token", "from-step")

	if v, _ := store.Get("user_id"); v != "7" {
		t.Errorf("expected record field, got %q", v)
	}
	if v, _ := store.Get("token"); v != "from-step" {
		t.Errorf("expected variable to shadow record, got %q", v)
	}
	if all := store.GetAll(); len(all) != 1 {
		t.Errorf("GetAll() should only hold variables, got %v", all)
	}

	store.Clear()
	if v, _ := store.Get("token"); v != "from-record" {
		t.Errorf("expected record value after clear, got %q", v)
	}
}

func TestIterationStore_GetAllIsCopy(t *testing.T) {
	store := NewStore(nil)
	store.SetAll(map[string]string{"username": "john", "id": "42"})

	all := store.GetAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 variables, got %d", len(all))
	}

	all["username"] = "modified"
	if value, _ := store.Get("username"); value != "john" {
		t.Errorf("store was affected by modification to returned map, expected 'john', got %q", value)
	}
}

func TestIterationStore_Merge(t *testing.T) {
	store := NewStore(nil)
	store.Set("username", "john")
	store.Set("token", "xyz789")

	merged := store.Merge(map[string]string{
		"username": "jane",
		"email":    "jane@example.com",
		"token":    "default_token",
	})

	expectedMerged := map[string]string{
		"username": "john",
		"token":    "xyz789",
		"email":    "jane@example.com",
	}

	if len(merged) != 3 {
		t.Fatalf("expected 3 keys in merged result, got %d", len(merged))
	}
	for key, expectedValue := range expectedMerged {
		if actual, ok := merged[key]; !ok || actual != expectedValue {
			t.Errorf("expected merged[%q]=%q, got %q (ok=%v)", key, expectedValue, actual, ok)
		}
	}
}

func TestIterationStore_Expand(t *testing.T) {
	store := NewStore(map[string]string{"user_id": "7", "host": "api.example.com"})
	store.Set("token", "t-1")

	tests := []struct {
		template string
		want     string
	}{
		{template: "https://{{host}}/users/{{user_id}}", want: "https://api.example.com/users/7"},
		{template: `{"auth":"{{token}}"}`, want: `{"auth":"t-1"}`},
		{template: "/static", want: "/static"},
		{template: "/{{unknown}}", want: "/{{unknown}}"},
	}
	for _, tt := range tests {
		if got := store.Expand(tt.template); got != tt.want {
			t.Errorf("Expand(%q) = %q, want %q", tt.template, got, tt.want)
		}
	}
}

func TestIterationStore_Concurrent(t *testing.T) {
	store := NewStore(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				store.Set("k", "v")
				store.Get("k")
				store.Expand("{{k}}")
			}
		}()
	}
	wg.Wait()
	if v, _ := store.Get("k"); v != "v" {
		t.Fatalf("Get(k) = %q", v)
	}
}

func TestContextRoundTrip(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Fatal("expected nil store on empty context")
	}
	store := NewStore(nil)
	ctx := NewContext(context.Background(), store)
	if FromContext(ctx) != Store(store) {
		t.Fatal("expected store from context")
	}
}
