// Package docstore persists document chunks and metadata for retrieval.
// The pipeline's storage stage writes through a Store; when none is
// configured, or the configured one fails, it records a Stub
// acknowledgement instead.
package docstore

import (
	"context"
	"errors"
)

// DefaultCollection is the collection name used when none is configured.
const DefaultCollection = "documents"

// ErrUnavailable reports a store that cannot accept writes right now.
var ErrUnavailable = errors.New("docstore: unavailable")

// Document is what the storage stage hands to a Store.
type Document struct {
	FileID   string
	Filename string
	Chunks   []string
	Metadata map[string]any
	Summary  string
}

// Ack is a store's acknowledgement of one document.
type Ack struct {
	Stored     bool   `json:"stored"`
	Backend    string `json:"backend"`
	ChunkCount int    `json:"chunk_count"`
	Collection string `json:"collection,omitempty"`
	FileID     string `json:"file_id,omitempty"`
	Note       string `json:"note,omitempty"`
}

// Store persists documents. Implementations must be safe for concurrent use.
type Store interface {
	Store(ctx context.Context, doc Document) (Ack, error)
	Name() string
}

// StoreFunc adapts a function to Store.
type StoreFunc struct {
	Backend string
	Fn      func(ctx context.Context, doc Document) (Ack, error)
}

func (s StoreFunc) Store(ctx context.Context, doc Document) (Ack, error) { return s.Fn(ctx, doc) }
func (s StoreFunc) Name() string                                         { return s.Backend }

// Stub acknowledges every document without persisting anything.
type Stub struct{}

func (Stub) Name() string { return "stub" }

func (Stub) Store(_ context.Context, doc Document) (Ack, error) {
	return StubAck(doc, ""), nil
}

// StubAck is the acknowledgement recorded when no real store took the
// document. note explains why.
func StubAck(doc Document, note string) Ack {
	if note == "" {
		note = "no document store configured"
	}
	return Ack{
		Stored:     true,
		Backend:    "stub",
		ChunkCount: len(doc.Chunks),
		FileID:     doc.FileID,
		Note:       note,
	}
}
