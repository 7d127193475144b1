package purgeclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPurgeByURLSendsAuthAndReturnsOneResponsePerURL(t *testing.T) {
	var gotAuth string
	var gotPath string
	var gotBody purgeRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Response{PurgeID: "abc-123", EstimatedSeconds: 300})
	}))
	defer srv.Close()

	c := New(srv.URL, Auth{AccessToken: "tok"}, time.Second)
	urls := []string{"https://cdn.example.com/a", "https://cdn.example.com/b"}
	responses, err := c.PurgeByURL(context.Background(), urls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotAuth != "Bearer tok" {
		t.Fatalf("got Authorization header %q", gotAuth)
	}
	if gotPath != "/ccu/v3/invalidate/url" {
		t.Fatalf("got path %q", gotPath)
	}
	if len(gotBody.Objects) != 2 {
		t.Fatalf("got request objects %v", gotBody.Objects)
	}

	if len(responses) != len(urls) {
		t.Fatalf("got %d responses, want %d", len(responses), len(urls))
	}
	for _, r := range responses {
		if r.PurgeID != "abc-123" {
			t.Fatalf("got purge id %q", r.PurgeID)
		}
	}
}

func TestPurgeByURLNonSuccessStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.URL, Auth{AccessToken: "tok"}, time.Second)
	if _, err := c.PurgeByURL(context.Background(), []string{"https://cdn.example.com/a"}); err == nil {
		t.Fatal("expected an error for a non-2xx response")
	}
}

func TestNewDefaultsTimeout(t *testing.T) {
	c := New("https://example.com", Auth{}, 0)
	if c.httpClient.Timeout != 30*time.Second {
		t.Fatalf("got timeout %v, want default 30s", c.httpClient.Timeout)
	}
}
