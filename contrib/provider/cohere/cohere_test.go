package cohere

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sweetpotato0/esg-rag/llm"
)

func TestComplete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing auth header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(chatResponse{Text: "  台積電 2022 排放  "})
	}))
	defer srv.Close()

	p := New(Config{APIKey: "key", BaseURL: srv.URL}, srv.Client())
	out, err := p.Complete(context.Background(), "重寫", "")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != "台積電 2022 排放" {
		t.Fatalf("unexpected output %q", out)
	}
	if got.Message != "重寫" || got.Preamble != llm.DefaultSystemPrompt || got.Model != "command-r" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestCompleteErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := New(Config{BaseURL: srv.URL}, nil).Complete(context.Background(), "x", ""); err == nil {
		t.Fatal("expected error without API key")
	}
	if _, err := New(Config{APIKey: "key", BaseURL: srv.URL}, srv.Client()).Complete(context.Background(), "x", ""); err == nil {
		t.Fatal("expected error on non-200 status")
	}
}
