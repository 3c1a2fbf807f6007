package scan

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPClientSearchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/scan" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("whitelist"); got != "twitter.com,pixiv.net" {
			t.Errorf("whitelist = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "success",
			"results": [
				{"title": "まとめ速報", "url": "https://matome.example/entry/1", "status": "suspicious", "similarity": 97.5},
				{"title": "自分のツイート", "url": "https://twitter.com/me/status/1", "status": "safe"}
			]
		}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 5*time.Second)
	results, err := c.Search(context.Background(), "art.png", strings.NewReader("png-bytes"), []string{"twitter.com", "pixiv.net"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Similarity == nil || *results[0].Similarity != 97.5 {
		t.Fatalf("similarity not parsed: %v", results[0].Similarity)
	}
	if results[1].Similarity != nil {
		t.Fatalf("absent similarity must stay nil")
	}
}

func TestHTTPClientSearchNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status": "no_results", "results": []}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 5*time.Second)
	results, err := c.Search(context.Background(), "art.png", strings.NewReader("x"), nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestHTTPClientSearchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 5*time.Second)
	if _, err := c.Search(context.Background(), "art.png", strings.NewReader("x"), nil); !errors.Is(err, ErrService) {
		t.Fatalf("expected ErrService, got %v", err)
	}
}

func TestHTTPClientSearchMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status": `))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 5*time.Second)
	if _, err := c.Search(context.Background(), "art.png", strings.NewReader("x"), nil); !errors.Is(err, ErrService) {
		t.Fatalf("expected ErrService on malformed payload, got %v", err)
	}
}

func TestEvaluateClassifiesAndDefaults(t *testing.T) {
	sim := 95.2
	results := []Result{
		{Title: "Pirated gallery", URL: "https://pirated-art.example/g/1", Similarity: &sim},
		{Title: "My own tweet", URL: "https://twitter.com/me/status/1"},
		{Title: "Pre-classified", URL: "https://twitter.com/thief/status/2", Classification: "suspicious"},
		{URL: ""},
	}
	matches := Evaluate(results, []string{"twitter.com"})
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	if !matches[0].Suspicious || matches[0].Similarity != sim {
		t.Fatalf("unlisted domain should be suspicious with given score: %+v", matches[0])
	}
	if matches[1].Suspicious {
		t.Fatalf("whitelisted URL should be safe: %+v", matches[1])
	}
	if !matches[2].Suspicious {
		t.Fatalf("service classification must win over whitelist: %+v", matches[2])
	}
	if matches[1].Similarity != DefaultSimilarity {
		t.Fatalf("missing similarity should default to %d, got %v", DefaultSimilarity, matches[1].Similarity)
	}
	if matches[0].Domain != "pirated-art.example" {
		t.Fatalf("domain not derived: %q", matches[0].Domain)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	results := []Result{{Title: "a", URL: "https://a.example/1"}, {Title: "b", URL: "https://b.example/2"}}
	first := Evaluate(results, nil)
	second := Evaluate(results, nil)
	if len(first) != len(second) {
		t.Fatalf("length mismatch")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("Evaluate not deterministic at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}
