package ingest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/docpipeline/idgen"
)

// DefaultAllowedExtensions lists the extensions accepted without a warning.
var DefaultAllowedExtensions = []string{
	"pdf", "docx", "xlsx", "pptx", "odt",
	"html", "htm", "xml", "json", "csv", "tsv",
	"txt", "md", "rtf",
	"png", "jpg", "jpeg", "gif", "bmp", "tif", "tiff", "webp",
}

// Config controls the ingest stage.
type Config struct {
	MaxFileMB            int           `json:"max_file_mb" yaml:"max_file_mb"`
	AllowedExtensions    []string      `json:"allowed_extensions" yaml:"allowed_extensions"`
	TempDir              string        `json:"temp_dir" yaml:"temp_dir"`
	TempTTL              time.Duration `json:"temp_ttl" yaml:"temp_ttl"`
	KnownMaliciousSHA256 []string      `json:"known_malicious_sha256" yaml:"known_malicious_sha256"`
	// FailClosed turns an unreachable scanner into an ingest error.
	FailClosed  bool          `json:"fail_closed" yaml:"fail_closed"`
	ScanTimeout time.Duration `json:"scan_timeout" yaml:"scan_timeout"`
	ClamAV      ClamAVConfig  `json:"clamav" yaml:"clamav"`

	Logger *slog.Logger     `json:"-" yaml:"-"`
	NewID  idgen.Generator  `json:"-" yaml:"-"`
	Now    func() time.Time `json:"-" yaml:"-"`
}

// ClamAVConfig locates a clamd daemon.
type ClamAVConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Network string        `json:"network" yaml:"network"` // unix | tcp
	Address string        `json:"address" yaml:"address"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig returns the ingest defaults: 100 MB limit, one hour temp TTL.
func DefaultConfig() Config {
	return Config{
		MaxFileMB:         100,
		AllowedExtensions: append([]string(nil), DefaultAllowedExtensions...),
		TempDir:           filepath.Join(os.TempDir(), "docpipeline"),
		TempTTL:           time.Hour,
		ScanTimeout:       30 * time.Second,
		ClamAV: ClamAVConfig{
			Network: "unix",
			Address: "/var/run/clamav/clamd.ctl",
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Config) defaults() {
	d := DefaultConfig()
	if c.MaxFileMB <= 0 {
		c.MaxFileMB = d.MaxFileMB
	}
	if c.AllowedExtensions == nil {
		c.AllowedExtensions = d.AllowedExtensions
	}
	if c.TempDir == "" {
		c.TempDir = d.TempDir
	}
	if c.TempTTL <= 0 {
		c.TempTTL = d.TempTTL
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = d.ScanTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.NewID == nil {
		c.NewID = idgen.FileIDs
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.MaxFileMB < 0 {
		return fmt.Errorf("ingest: max_file_mb must be >= 0")
	}
	for _, h := range c.KnownMaliciousSHA256 {
		if len(h) != 64 {
			return fmt.Errorf("ingest: known_malicious_sha256 entry %q is not a hex SHA-256", h)
		}
	}
	if c.ClamAV.Enabled {
		switch c.ClamAV.Network {
		case "unix", "tcp":
		default:
			return fmt.Errorf("ingest: clamav.network must be unix or tcp, got %q", c.ClamAV.Network)
		}
		if c.ClamAV.Address == "" {
			return fmt.Errorf("ingest: clamav.address is required when clamav is enabled")
		}
	}
	return nil
}

// MaxFileBytes returns the size limit in bytes.
func (c *Config) MaxFileBytes() int64 { return int64(c.MaxFileMB) * 1024 * 1024 }

func (c *Config) allowed(ext string) bool {
	for _, a := range c.AllowedExtensions {
		if strings.EqualFold(strings.TrimPrefix(a, "."), ext) {
			return true
		}
	}
	return false
}
