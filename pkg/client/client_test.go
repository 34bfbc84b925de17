package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/geneius/pmc-harvester/pkg/credentials"
)

func testPool(t *testing.T) *credentials.Pool {
	t.Helper()
	pool, err := credentials.NewPool([]credentials.Credential{
		{Email: "a@example.org", APIKey: "key-a"},
	}, 0, 1)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return pool
}

func TestNew_Validation(t *testing.T) {
	pool := testPool(t)

	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{
			name:   "valid config",
			config: Config{Pool: pool, Tool: "harvester-test"},
		},
		{
			name:        "nil pool",
			config:      Config{Tool: "harvester-test"},
			expectError: true,
		},
		{
			name:        "empty tool",
			config:      Config{Pool: pool},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			if tt.expectError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestGet_InjectsCredentials(t *testing.T) {
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`ok`))
	}))
	defer server.Close()

	c, err := New(Config{Pool: testPool(t), Tool: "harvester-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	params := url.Values{}
	params.Set("db", "pubmed")

	body, err := c.Get(context.Background(), server.URL+"/esearch.fcgi", params)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != "ok" {
		t.Errorf("body = %q, want %q", body, "ok")
	}

	for key, want := range map[string]string{
		"db":      "pubmed",
		"tool":    "harvester-test",
		"email":   "a@example.org",
		"api_key": "key-a",
	} {
		if got := gotQuery.Get(key); got != want {
			t.Errorf("query %q = %q, want %q", key, got, want)
		}
	}
}

func TestGet_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer server.Close()

	c, err := New(Config{Pool: testPool(t), Tool: "harvester-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.Get(context.Background(), server.URL, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Class != ErrorClassStatus {
		t.Errorf("Class = %q, want %q", apiErr.Class, ErrorClassStatus)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, http.StatusTooManyRequests)
	}
}

func TestGet_NetworkError(t *testing.T) {
	c, err := New(Config{Pool: testPool(t), Tool: "harvester-test", Timeout: time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Unroutable port on loopback.
	_, err = c.Get(context.Background(), "http://127.0.0.1:1", nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Class != ErrorClassNetwork {
		t.Errorf("Class = %q, want %q", apiErr.Class, ErrorClassNetwork)
	}
}

func TestGet_PacesRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`ok`))
	}))
	defer server.Close()

	delay := 50 * time.Millisecond
	c, err := New(Config{Pool: testPool(t), Tool: "harvester-test", InterRequestDelay: delay})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.Get(context.Background(), server.URL, nil); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}

	// Three requests through a burst-1 bucket need at least two full delays.
	if elapsed := time.Since(start); elapsed < 2*delay {
		t.Errorf("three requests took %v, want >= %v", elapsed, 2*delay)
	}
}

func TestIsDecodeError(t *testing.T) {
	if !IsDecodeError(NewDecodeError(errors.New("bad json"))) {
		t.Error("IsDecodeError(NewDecodeError(...)) = false, want true")
	}
	if IsDecodeError(errors.New("other")) {
		t.Error("IsDecodeError(plain error) = true, want false")
	}
}
