// Package ingest validates an upload, identifies it, scans it, flags
// duplicates and persists accepted bytes to a TTL'd temp directory.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hazyhaar/docpipeline/dedup"
	"github.com/hazyhaar/docpipeline/horosafe"
	"github.com/hazyhaar/docpipeline/sniff"
)

// Ingester runs the ingest stage. Safe for concurrent use.
type Ingester struct {
	cfg       Config
	hashes    dedup.Store
	scanner   Scanner
	malicious map[string]bool
}

// New returns an Ingester. hashes is the SHA-256 → file id registry; a nil
// hashes uses a private in-memory registry. A nil scanner means no external
// antivirus: scans fall back to the known-malicious set only.
func New(cfg Config, hashes dedup.Store, scanner Scanner) *Ingester {
	cfg.defaults()
	if hashes == nil {
		hashes = dedup.NewMemory()
	}
	if scanner == nil && cfg.ClamAV.Enabled {
		scanner = NewClamAV(cfg.ClamAV)
	}
	mal := make(map[string]bool, len(cfg.KnownMaliciousSHA256))
	for _, h := range cfg.KnownMaliciousSHA256 {
		mal[strings.ToLower(h)] = true
	}
	return &Ingester{cfg: cfg, hashes: hashes, scanner: scanner, malicious: mal}
}

// Ingest validates data and returns its Record. It never panics on any
// input and always returns a record; Success is true iff Errors is empty.
func (in *Ingester) Ingest(ctx context.Context, data []byte, filename string, opts Options) *Record {
	log := in.cfg.Logger
	rec := &Record{
		FileID:           in.cfg.NewID(),
		Filename:         horosafe.SanitizeFilename(filename),
		OriginalFilename: filename,
		SizeBytes:        int64(len(data)),
		ScanStatus:       ScanSkipped,
		IngestedAt:       in.cfg.Now().UTC(),
		Errors:           []string{},
		Warnings:         []string{},
	}

	// 1. Size.
	limit := opts.MaxSize
	if limit <= 0 {
		limit = in.cfg.MaxFileBytes()
	}
	switch {
	case len(data) == 0:
		rec.addError("empty file")
	case int64(len(data)) > limit:
		rec.addError(fmt.Sprintf("file too large: %.2f MB exceeds limit of %.2f MB",
			float64(len(data))/(1024*1024), float64(limit)/(1024*1024)))
	}

	// 2. Extension.
	ext := sniff.Ext(filename)
	if ext == "" {
		rec.addWarning("file has no extension")
	} else if !in.cfg.allowed(ext) {
		rec.addWarning(fmt.Sprintf("extension .%s is not in the allowed list", ext))
	}

	// 3-4. Identity.
	rec.MIMEType, rec.Extension = sniff.Detect(data, filename)
	rec.SHA256, rec.MD5 = sniff.Hashes(data)
	rec.Entropy = sniff.Entropy(data[:min(len(data), 64*1024)])

	// 5. Duplicates are flagged, not rejected.
	if prior, ok, err := in.hashes.Check(ctx, rec.SHA256); err != nil {
		rec.addWarning(fmt.Sprintf("hash registry unavailable: %v", err))
	} else if ok {
		rec.IsDuplicate = true
		rec.DuplicateOf = prior
	}

	// 6. Scan.
	if len(rec.Errors) > 0 || opts.SkipScan {
		rec.ScanStatus = ScanSkipped
		if opts.SkipScan {
			rec.ScanDetail = "scan skipped by caller"
		} else {
			rec.ScanDetail = "scan skipped after validation errors"
		}
	} else {
		in.scan(ctx, data, rec)
	}

	// 7. Persist.
	if len(rec.Errors) == 0 {
		in.persist(ctx, data, rec)
	}

	rec.Success = len(rec.Errors) == 0
	log.Debug("ingest: done",
		"file_id", rec.FileID, "filename", rec.Filename, "mime", rec.MIMEType,
		"size", rec.SizeBytes, "duplicate", rec.IsDuplicate, "scan", rec.ScanStatus,
		"errors", len(rec.Errors))
	return rec
}

func (in *Ingester) scan(ctx context.Context, data []byte, rec *Record) {
	for _, f := range structuralChecks(data, sniff.Ext(rec.OriginalFilename), rec.Entropy) {
		if f.blocking {
			rec.addError("structural check failed: " + f.msg)
		} else {
			rec.addWarning(f.msg)
		}
	}

	if in.malicious[rec.SHA256] {
		rec.ScanStatus = ScanThreatFound
		rec.ScanDetail = "sha256 matches known-malicious set"
		rec.addError("threat detected: " + rec.ScanDetail)
		return
	}

	if in.scanner == nil {
		rec.ScanStatus = ScanSkipped
		rec.ScanDetail = "no antivirus scanner configured"
		return
	}

	sctx, cancel := context.WithTimeout(ctx, in.cfg.ScanTimeout)
	defer cancel()
	status, detail, err := in.scanner.Scan(sctx, data)
	if err != nil {
		rec.ScanStatus = ScanSkipped
		rec.ScanDetail = err.Error()
		if in.cfg.FailClosed {
			rec.addError(fmt.Sprintf("antivirus scan failed: %v", err))
		} else {
			rec.addWarning(fmt.Sprintf("antivirus scan unavailable, continuing without scan: %v", err))
		}
		if !errors.Is(err, ErrScannerUnavailable) {
			in.cfg.Logger.Warn("ingest: scanner error", "file_id", rec.FileID, "error", err)
		}
		return
	}

	rec.ScanStatus = status
	rec.ScanDetail = detail
	if status == ScanThreatFound {
		rec.addError("threat detected: " + detail)
	}
}

func (in *Ingester) persist(ctx context.Context, data []byte, rec *Record) {
	if err := os.MkdirAll(in.cfg.TempDir, 0o700); err != nil {
		rec.addError(fmt.Sprintf("create temp dir: %v", err))
		return
	}
	path, err := horosafe.SafePath(in.cfg.TempDir, rec.FileID+"_"+rec.Filename)
	if err != nil {
		rec.addError(fmt.Sprintf("temp path: %v", err))
		return
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		rec.addError(fmt.Sprintf("write temp file: %v", err))
		return
	}
	rec.TempPath = path

	// Registration is the atomic step: a concurrent upload of the same bytes
	// that slipped past Check is caught here.
	prior, dup, err := in.hashes.CheckOrRegister(ctx, rec.SHA256, rec.FileID)
	switch {
	case err != nil:
		rec.addWarning(fmt.Sprintf("hash registry unavailable: %v", err))
	case dup && !rec.IsDuplicate:
		rec.IsDuplicate = true
		rec.DuplicateOf = prior
	}

	if n, err := CleanupTemp(in.cfg.TempDir, in.cfg.TempTTL, in.cfg.Now()); err != nil {
		in.cfg.Logger.Warn("ingest: temp cleanup", "dir", in.cfg.TempDir, "error", err)
	} else if n > 0 {
		in.cfg.Logger.Info("ingest: temp cleanup", "dir", in.cfg.TempDir, "removed", n)
	}
}

// CleanupTemp deletes regular files in dir last modified before now-ttl and
// returns how many were removed. Files removed concurrently are ignored.
func CleanupTemp(dir string, ttl time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("ingest: read temp dir: %w", err)
	}
	cutoff := now.Add(-ttl)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path, err := horosafe.SafePath(dir, e.Name())
		if err != nil {
			continue
		}
		if err := os.Remove(path); err == nil {
			removed++
		} else if !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("ingest: remove %s: %w", e.Name(), err)
		}
	}
	return removed, nil
}
