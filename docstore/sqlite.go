package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hazyhaar/docpipeline/dbopen"
	"github.com/hazyhaar/docpipeline/idgen"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	file_id     TEXT PRIMARY KEY,
	collection  TEXT NOT NULL,
	filename    TEXT NOT NULL,
	summary     TEXT NOT NULL DEFAULT '',
	metadata    TEXT NOT NULL DEFAULT '{}',
	chunk_count INTEGER NOT NULL,
	stored_at   INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id    TEXT PRIMARY KEY,
	file_id     TEXT NOT NULL REFERENCES documents(file_id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	content     TEXT NOT NULL,
	metadata    TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id, chunk_index);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	chunk_id UNINDEXED,
	content,
	tokenize='porter unicode61'
);
`

// SQLite stores documents and chunks in SQLite with an FTS5 index over
// chunk text. Storing a file id again replaces its previous rows.
type SQLite struct {
	db         *sql.DB
	collection string
	owned      bool
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path, collection string) (*SQLite, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("docstore: open: %w", err)
	}
	s := newSQLite(db, collection)
	s.owned = true
	return s, nil
}

// NewSQLite uses an existing handle and creates the schema if needed.
func NewSQLite(db *sql.DB, collection string) (*SQLite, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("docstore: schema: %w", err)
	}
	return newSQLite(db, collection), nil
}

func newSQLite(db *sql.DB, collection string) *SQLite {
	if collection == "" {
		collection = DefaultCollection
	}
	return &SQLite{db: db, collection: collection}
}

func (s *SQLite) Name() string { return "sqlite" }

// Store writes the document row and one row per chunk with id
// "<file_id>_chunk_<i>". Chunk metadata is the document metadata plus
// chunk_index.
func (s *SQLite) Store(ctx context.Context, doc Document) (Ack, error) {
	if doc.FileID == "" {
		return Ack{}, fmt.Errorf("docstore: empty file id")
	}
	docMeta, err := json.Marshal(orEmpty(doc.Metadata))
	if err != nil {
		return Ack{}, fmt.Errorf("docstore: marshal metadata: %w", err)
	}

	err = dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chunks_fts WHERE chunk_id IN (SELECT chunk_id FROM chunks WHERE file_id = ?)`, doc.FileID); err != nil {
			return fmt.Errorf("clear fts: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, doc.FileID); err != nil {
			return fmt.Errorf("clear chunks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (file_id, collection, filename, summary, metadata, chunk_count)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(file_id) DO UPDATE SET
				collection = excluded.collection,
				filename = excluded.filename,
				summary = excluded.summary,
				metadata = excluded.metadata,
				chunk_count = excluded.chunk_count,
				stored_at = unixepoch()`,
			doc.FileID, s.collection, doc.Filename, doc.Summary, string(docMeta), len(doc.Chunks)); err != nil {
			return fmt.Errorf("upsert document: %w", err)
		}

		for i, chunk := range doc.Chunks {
			meta := make(map[string]any, len(doc.Metadata)+1)
			for k, v := range doc.Metadata {
				meta[k] = v
			}
			meta["chunk_index"] = i
			chunkMeta, err := json.Marshal(meta)
			if err != nil {
				return fmt.Errorf("marshal chunk %d metadata: %w", i, err)
			}
			id := idgen.ChunkID(doc.FileID, i)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chunks (chunk_id, file_id, chunk_index, content, metadata) VALUES (?, ?, ?, ?, ?)`,
				id, doc.FileID, i, chunk, string(chunkMeta)); err != nil {
				return fmt.Errorf("insert chunk %d: %w", i, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chunks_fts (chunk_id, content) VALUES (?, ?)`, id, chunk); err != nil {
				return fmt.Errorf("insert chunk_fts %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return Ack{}, fmt.Errorf("docstore: store %s: %w", doc.FileID, err)
	}
	return Ack{
		Stored:     true,
		Backend:    s.Name(),
		ChunkCount: len(doc.Chunks),
		Collection: s.collection,
		FileID:     doc.FileID,
	}, nil
}

// Chunk is one stored chunk.
type Chunk struct {
	ID       string         `json:"chunk_id"`
	FileID   string         `json:"file_id"`
	Index    int            `json:"chunk_index"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Chunks returns the stored chunks of fileID in order.
func (s *SQLite) Chunks(ctx context.Context, fileID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, file_id, chunk_index, content, metadata
		FROM chunks WHERE file_id = ? ORDER BY chunk_index`, fileID)
	if err != nil {
		return nil, fmt.Errorf("docstore: chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// Search runs an FTS5 match over chunk text, best matches first.
func (s *SQLite) Search(ctx context.Context, query string, limit int) ([]Chunk, error) {
	query = ftsQuery(query)
	if query == "" {
		return []Chunk{}, nil
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.chunk_id, c.file_id, c.chunk_index, c.content, c.metadata
		FROM chunks_fts f JOIN chunks c ON c.chunk_id = f.chunk_id
		WHERE chunks_fts MATCH ?
		ORDER BY rank LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("docstore: search: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// Summary returns the stored summary of fileID.
func (s *SQLite) Summary(ctx context.Context, fileID string) (string, bool, error) {
	var summary string
	err := s.db.QueryRowContext(ctx, `SELECT summary FROM documents WHERE file_id = ?`, fileID).Scan(&summary)
	switch {
	case err == sql.ErrNoRows:
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("docstore: summary: %w", err)
	}
	return summary, true, nil
}

// Close closes the database if it was opened by OpenSQLite.
func (s *SQLite) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

func scanChunks(rows *sql.Rows) ([]Chunk, error) {
	out := []Chunk{}
	for rows.Next() {
		var c Chunk
		var meta string
		if err := rows.Scan(&c.ID, &c.FileID, &c.Index, &c.Content, &meta); err != nil {
			return nil, fmt.Errorf("docstore: scan chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return nil, fmt.Errorf("docstore: chunk %s metadata: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ftsQuery quotes each term so user input cannot inject FTS5 syntax.
func ftsQuery(q string) string {
	var terms []string
	for _, f := range strings.Fields(q) {
		f = strings.ReplaceAll(f, `"`, `""`)
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " ")
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
