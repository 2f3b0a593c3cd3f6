package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewOllama(t *testing.T) {
	o := NewOllama("http://localhost:11434/", "mistral", 0)

	if o == nil {
		t.Fatal("NewOllama() returned nil")
	}

	if o.baseURL != "http://localhost:11434" {
		t.Errorf("baseURL = %q, want %q", o.baseURL, "http://localhost:11434")
	}

	if o.model != "mistral" {
		t.Errorf("model = %q, want %q", o.model, "mistral")
	}

	if o.httpClient == nil || o.httpClient.Timeout != 120*time.Second {
		t.Error("httpClient should default to a 120s timeout")
	}
}

func TestOllamaComplete(t *testing.T) {
	var got GenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(GenerateResponse{Model: got.Model, Response: "Welcome aboard, Rohan.", Done: true})
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "mistral", time.Second)
	text, err := o.Complete(context.Background(), Request{Prompt: "hello", MaxTokens: 64, Temperature: 0.2})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	if text != "Welcome aboard, Rohan." {
		t.Errorf("text = %q", text)
	}
	if got.Stream {
		t.Error("Stream should be false")
	}
	if got.Options.NumPredict != 64 || got.Options.Temperature != 0.2 {
		t.Errorf("options = %+v", got.Options)
	}
}

func TestOllamaCompleteStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "missing", time.Second)
	if _, err := o.Complete(context.Background(), Request{Prompt: "hello"}); err == nil {
		t.Error("expected error for non-200 status")
	}
}

func TestOllamaHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	if err := NewOllama(srv.URL, "mistral", time.Second).HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}
}
