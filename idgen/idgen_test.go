package idgen

import (
	"strings"
	"sync"
	"testing"
)

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	parts := strings.Split(id, "-")
	if len(parts) != 5 {
		t.Fatalf("UUIDv7: expected 5 parts, got %d in %q", len(parts), id)
	}
	if len(id) != 36 {
		t.Fatalf("UUIDv7: expected length 36, got %d", len(id))
	}
}

func TestUUIDv7_Uniqueness(t *testing.T) {
	gen := UUIDv7()
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		id := gen()
		if _, ok := seen[id]; ok {
			t.Fatalf("UUIDv7: duplicate at iteration %d", i)
		}
		seen[id] = struct{}{}
	}
}

func TestNewFileID_Prefix(t *testing.T) {
	id := NewFileID()
	if !strings.HasPrefix(id, "doc_") {
		t.Fatalf("NewFileID: got %q, want doc_ prefix", id)
	}
}

func TestSequence(t *testing.T) {
	gen := Sequence("f")
	if got := gen(); got != "f1" {
		t.Fatalf("first: got %q, want f1", got)
	}
	if got := gen(); got != "f2" {
		t.Fatalf("second: got %q, want f2", got)
	}
}

func TestSequence_Concurrent(t *testing.T) {
	gen := Sequence("s")
	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := gen()
			mu.Lock()
			defer mu.Unlock()
			if seen[id] {
				t.Errorf("duplicate id %q", id)
			}
			seen[id] = true
		}()
	}
	wg.Wait()
	if len(seen) != 50 {
		t.Fatalf("got %d ids, want 50", len(seen))
	}
}

func TestChunkID(t *testing.T) {
	if got := ChunkID("doc_1", 3); got != "doc_1_chunk_3" {
		t.Fatalf("ChunkID: got %q", got)
	}
}
