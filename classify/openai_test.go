package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func chatResponse(content string) string {
	body := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	raw, _ := json.Marshal(body)
	return string(raw)
}

func testItems(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{
			ID:    string(rune('a' + i)),
			Title: "Video " + string(rune('A'+i)),
		}
	}
	return items
}

func TestClient_ClassifyBatch(t *testing.T) {
	var gotReq chatCompletionRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", auth)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)

		content := `{"results": [
			{"success": true, "primary_categories": ["Music"], "tags": ["guitar", "cover"], "confidence": 0.9},
			{"success": true, "primary_categories": ["Gaming"], "secondary_categories": ["Comedy"], "tags": ["speedrun"], "confidence": 0.8}
		]}`
		w.Write([]byte(chatResponse(content)))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "test-key"})

	results, err := client.Classify(context.Background(), testItems(2))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].Success || results[0].PrimaryCategories[0] != "Music" {
		t.Errorf("unexpected first result: %+v", results[0])
	}
	if len(results[1].SecondaryCategories) != 1 || results[1].SecondaryCategories[0] != "Comedy" {
		t.Errorf("unexpected second result: %+v", results[1])
	}

	// The whole batch goes out as one call with both videos in the prompt
	userMsg := gotReq.Messages[len(gotReq.Messages)-1].Content
	if !strings.Contains(userMsg, "Video A") || !strings.Contains(userMsg, "Video B") {
		t.Error("batch prompt should contain every item")
	}
	if gotReq.ResponseFormat.Type != "json_object" {
		t.Errorf("expected json_object response format, got %q", gotReq.ResponseFormat.Type)
	}
}

func TestClient_PadsShortResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := `{"results": [{"success": true, "primary_categories": ["Music"], "tags": ["a"], "confidence": 1.0}]}`
		w.Write([]byte(chatResponse(content)))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "k"})

	results, err := client.Classify(context.Background(), testItems(3))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected results padded to 3, got %d", len(results))
	}
	if results[1].Success || results[2].Success {
		t.Error("padded results must be failures")
	}
	if results[1].Error == "" {
		t.Error("padded results must carry an error description")
	}
}

func TestClient_StripsCodeFences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := "```json\n{\"results\": [{\"success\": true, \"primary_categories\": [\"News\"], \"tags\": [\"x\"], \"confidence\": 0.5}]}\n```"
		w.Write([]byte(chatResponse(content)))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "k"})

	results, err := client.Classify(context.Background(), testItems(1))
	if err != nil {
		t.Fatalf("Classify should tolerate fenced JSON: %v", err)
	}
	if !results[0].Success {
		t.Errorf("unexpected result: %+v", results[0])
	}
}

func TestClient_BackendErrorFailsWholeBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limited"}}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "k"})

	if _, err := client.Classify(context.Background(), testItems(2)); err == nil {
		t.Error("expected error on backend failure")
	}
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(chatResponse(`{"results": []}`)))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "k", Timeout: 50 * time.Millisecond})

	if _, err := client.Classify(context.Background(), testItems(1)); err == nil {
		t.Error("expected timeout error")
	}
}

func TestClient_EmptyBatchIsNoop(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://unreachable.invalid", APIKey: "k"})

	results, err := client.Classify(context.Background(), nil)
	if err != nil {
		t.Fatalf("empty batch should not call the backend: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results for empty batch, got %v", results)
	}
}

func TestNormalize(t *testing.T) {
	r := Normalize(Result{
		Success:             true,
		PrimaryCategories:   []string{"Music", "Bogus Category"},
		SecondaryCategories: []string{"Not Real"},
		Tags:                []string{" Guitar ", "ROCK", "", "live", "solo", "amp", "extra"},
	})

	if len(r.PrimaryCategories) != 1 || r.PrimaryCategories[0] != "Music" {
		t.Errorf("unknown categories should be dropped: %v", r.PrimaryCategories)
	}
	if len(r.SecondaryCategories) != 0 {
		t.Errorf("unknown secondary categories should be dropped: %v", r.SecondaryCategories)
	}
	if len(r.Tags) != MaxTags {
		t.Errorf("tags should be capped at %d, got %d", MaxTags, len(r.Tags))
	}
	if r.Tags[0] != "guitar" || r.Tags[1] != "rock" {
		t.Errorf("tags should be lowercased and trimmed: %v", r.Tags)
	}
}
