package sink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestFSSink_StoreAndOverwrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "docs")

	s, err := NewFSSink(dir)
	if err != nil {
		t.Fatalf("NewFSSink: %v", err)
	}

	ctx := context.Background()
	if err := s.Store(ctx, "PMC1", []byte("first")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s.Store(ctx, "PMC1", []byte("second")); err != nil {
		t.Fatalf("Store (overwrite): %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "PMC1.xml"))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("stored content = %q, want %q (idempotent overwrite)", data, "second")
	}
}

func TestFSSink_FailureIsReturnedNotFatal(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSSink(dir)
	if err != nil {
		t.Fatalf("NewFSSink: %v", err)
	}

	// A directory in the way of the target file forces a write failure.
	if err := os.Mkdir(filepath.Join(dir, "PMC1.xml"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := s.Store(context.Background(), "PMC1", []byte("doc")); err == nil {
		t.Error("Store into blocked path succeeded, want error")
	}
}

func TestFSSink_RejectsPathEscapingIdentifiers(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "docs")

	s, err := NewFSSink(dir)
	if err != nil {
		t.Fatalf("NewFSSink: %v", err)
	}

	ctx := context.Background()
	for _, id := range []string{"../escaped", "a/b", `a\b`, "/abs"} {
		if err := s.Store(ctx, id, []byte("doc")); err == nil {
			t.Errorf("Store(%q) succeeded, want error", id)
		}
	}

	// Nothing may land outside the sink directory.
	if _, err := os.Stat(filepath.Join(parent, "escaped.xml")); !os.IsNotExist(err) {
		t.Errorf("identifier with path separator escaped the sink directory: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read sink dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("sink dir has %d entries, want 0", len(entries))
	}
}

func TestNewObjectSink_RequiresBucket(t *testing.T) {
	_, err := NewObjectSink(ObjectConfig{Endpoint: "localhost:9000"})
	if err == nil {
		t.Error("NewObjectSink without bucket succeeded, want error")
	}
}

func TestRedisSink_Store(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	s := NewRedisSink(client, "harvest:")
	if err := s.Store(ctx, "PMC1", []byte("doc")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s.Store(ctx, "PMC1", []byte("doc2")); err != nil {
		t.Fatalf("Store (overwrite): %v", err)
	}

	got, err := client.Get(ctx, "harvest:PMC1").Result()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "doc2" {
		t.Errorf("stored value = %q, want %q", got, "doc2")
	}
}
