package extract

import (
	"fmt"
	"log/slog"
)

// Config configures the extract stage.
type Config struct {
	// ChunkSize is the chunk window in runes (default 1800).
	ChunkSize int `json:"chunk_size" yaml:"chunk_size"`

	// ChunkOverlap is the fraction of the window repeated in the next
	// chunk (default 0.2).
	ChunkOverlap float64 `json:"chunk_overlap_ratio" yaml:"chunk_overlap_ratio"`

	// MaxPages bounds page-oriented formats. 0 means unlimited.
	MaxPages int `json:"max_pages" yaml:"max_pages"`

	// ContentSelectors are CSS selectors tried before the generic HTML
	// strategies, e.g. "article", "div.content", "#main".
	ContentSelectors []string `json:"content_selectors" yaml:"content_selectors"`

	// OCR recognises text in images. Nil degrades images to metadata only.
	OCR OCR `json:"-" yaml:"-"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

// DefaultConfig returns the chunking defaults.
func DefaultConfig() Config {
	return Config{ChunkSize: 1800, ChunkOverlap: 0.2}
}

func (c *Config) defaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1800
	}
	if c.ChunkOverlap <= 0 || c.ChunkOverlap >= 1 {
		c.ChunkOverlap = 0.2
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.ChunkSize < 0 {
		return fmt.Errorf("extract: chunk_size must be >= 0")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= 1 {
		return fmt.Errorf("extract: chunk_overlap_ratio must be in [0, 1)")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("extract: max_pages must be >= 0")
	}
	return nil
}
