// Package idgen provides pluggable ID generation for pipeline records.
//
// The pipeline accepts a Generator so the id strategy is a startup-time
// decision: UUIDv7 in production, a deterministic sequence in tests.
package idgen

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable, so file ids order by upload time.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a Generator yielding prefix1, prefix2, ... Safe for
// concurrent use. Intended for tests and reproducible batch runs.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return prefix + strconv.FormatInt(n.Add(1), 10)
	}
}

// FileIDs is the default generator for ingested documents.
var FileIDs Generator = Prefixed("doc_", UUIDv7())

// NewFileID produces an ID using the FileIDs generator.
func NewFileID() string {
	return FileIDs()
}

// ChunkID returns the storage id of the i-th chunk of a document.
func ChunkID(fileID string, i int) string {
	return fmt.Sprintf("%s_chunk_%d", fileID, i)
}
