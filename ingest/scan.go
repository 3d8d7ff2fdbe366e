package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hazyhaar/docpipeline/horosafe"
)

// ErrScannerUnavailable is returned by a Scanner that cannot be reached.
var ErrScannerUnavailable = errors.New("ingest: scanner unavailable")

// Scanner is an external antivirus engine.
type Scanner interface {
	Scan(ctx context.Context, data []byte) (status ScanStatus, detail string, err error)
}

// ScannerFunc adapts a function to Scanner.
type ScannerFunc func(ctx context.Context, data []byte) (ScanStatus, string, error)

func (f ScannerFunc) Scan(ctx context.Context, data []byte) (ScanStatus, string, error) {
	return f(ctx, data)
}

// ClamAV scans through a clamd daemon using the INSTREAM protocol, so no
// filesystem needs to be shared with the daemon.
type ClamAV struct {
	Network string
	Address string
	Timeout time.Duration
}

// NewClamAV returns a scanner for cfg.
func NewClamAV(cfg ClamAVConfig) *ClamAV {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ClamAV{Network: cfg.Network, Address: cfg.Address, Timeout: cfg.Timeout}
}

const instreamChunk = 8192

// Scan streams data to clamd. Protocol:
// zINSTREAM\0 + [4-byte big-endian length + data]* + \0\0\0\0
func (c *ClamAV) Scan(ctx context.Context, data []byte) (ScanStatus, string, error) {
	d := net.Dialer{Timeout: min(c.Timeout, 10*time.Second)}
	conn, err := d.DialContext(ctx, c.Network, c.Address)
	if err != nil {
		return ScanSkipped, "", fmt.Errorf("%w: connect clamav: %v", ErrScannerUnavailable, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetDeadline(deadline)

	if _, err := conn.Write([]byte("zINSTREAM\x00")); err != nil {
		return ScanSkipped, "", fmt.Errorf("%w: send instream cmd: %v", ErrScannerUnavailable, err)
	}

	var lenBuf [4]byte
	for off := 0; off < len(data); off += instreamChunk {
		end := min(off+instreamChunk, len(data))
		binary.BigEndian.PutUint32(lenBuf[:], uint32(end-off))
		if _, err := conn.Write(lenBuf[:]); err != nil {
			return ScanSkipped, "", fmt.Errorf("%w: send chunk length: %v", ErrScannerUnavailable, err)
		}
		if _, err := conn.Write(data[off:end]); err != nil {
			return ScanSkipped, "", fmt.Errorf("%w: send chunk data: %v", ErrScannerUnavailable, err)
		}
	}
	if _, err := conn.Write([]byte{0, 0, 0, 0}); err != nil {
		return ScanSkipped, "", fmt.Errorf("%w: send terminator: %v", ErrScannerUnavailable, err)
	}

	// clamd responses are short; cap at 4 KiB.
	resp, err := horosafe.LimitedReadAll(conn, 4096)
	if err != nil {
		return ScanSkipped, "", fmt.Errorf("%w: read response: %v", ErrScannerUnavailable, err)
	}
	return parseClamdReply(string(resp))
}

// parseClamdReply interprets "stream: OK" or "stream: <virus> FOUND".
func parseClamdReply(reply string) (ScanStatus, string, error) {
	line := strings.TrimRight(strings.TrimSpace(reply), "\x00")
	switch {
	case strings.HasSuffix(line, "OK"):
		return ScanClean, "", nil
	case strings.HasSuffix(line, "FOUND"):
		sig := strings.TrimSuffix(line, "FOUND")
		if i := strings.Index(sig, ":"); i >= 0 {
			sig = sig[i+1:]
		}
		return ScanThreatFound, strings.TrimSpace(sig), nil
	default:
		return ScanSkipped, "", fmt.Errorf("%w: unexpected reply %q", ErrScannerUnavailable, line)
	}
}

// structuralFinding is one header heuristic hit; blocking findings become errors.
type structuralFinding struct {
	msg      string
	blocking bool
}

// scanHeaderSize is the amount of data read for header heuristics.
const scanHeaderSize = 8 * 1024

// Archive expansion limits. An archive is refused when its declared
// uncompressed size passes zipMaxExpanded, or passes zipMinExpanded at a
// ratio above zipMaxRatio.
const (
	zipMaxRatio    = 100
	zipMinExpanded = 16 << 20
	zipMaxExpanded = 1 << 30
)

// highEntropy is the bits/byte above which a text-declared file is flagged.
const highEntropy = 7.2

// textExts are the extensions whose content should read as text.
var textExts = map[string]bool{
	"txt": true, "md": true, "csv": true, "tsv": true,
	"json": true, "xml": true, "html": true, "htm": true, "rtf": true,
}

func structuralChecks(data []byte, ext string, entropy float64) []structuralFinding {
	header := data
	if len(header) > scanHeaderSize {
		header = header[:scanHeaderSize]
	}
	var out []structuralFinding
	if w := checkZipBomb(data); w != "" {
		out = append(out, structuralFinding{w, true})
	}
	if w := checkPolyglot(header); w != "" {
		out = append(out, structuralFinding{w, true})
	}
	if w := checkMacro(header, ext); w != "" {
		out = append(out, structuralFinding{w, false})
	}
	if w := checkEntropy(ext, entropy); w != "" {
		out = append(out, structuralFinding{w, false})
	}
	return out
}

// checkZipBomb sums the declared uncompressed sizes of a ZIP archive's
// entries and compares them with the archive size. Data that is not a ZIP
// archive passes.
func checkZipBomb(data []byte) string {
	if !bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return ""
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}
	var expanded uint64
	for _, f := range zr.File {
		expanded += f.UncompressedSize64
	}
	size := uint64(max(len(data), 1))
	switch {
	case expanded > zipMaxExpanded:
		return fmt.Sprintf("zip_bomb_suspect: %d entries expand to %d bytes", len(zr.File), expanded)
	case expanded > zipMinExpanded && expanded/size > zipMaxRatio:
		return fmt.Sprintf("zip_bomb_suspect: %d bytes expand to %d (ratio %d)", size, expanded, expanded/size)
	}
	return ""
}

// checkEntropy flags text-declared files whose bytes look compressed or
// encrypted.
func checkEntropy(ext string, entropy float64) string {
	if !textExts[ext] || entropy <= highEntropy {
		return ""
	}
	return fmt.Sprintf("high_entropy: %.2f bits/byte for .%s", entropy, ext)
}

func checkPolyglot(header []byte) string {
	if len(header) < 16 {
		return ""
	}
	var detected []string
	if bytes.Contains(header[:min(1024, len(header))], []byte("%PDF")) {
		detected = append(detected, "PDF")
	}
	if bytes.HasPrefix(header, []byte("PK\x03\x04")) {
		detected = append(detected, "ZIP")
	}
	if bytes.HasPrefix(header, []byte("\x7fELF")) {
		detected = append(detected, "ELF")
	}
	if bytes.HasPrefix(header, []byte("MZ")) {
		detected = append(detected, "PE")
	}
	if bytes.HasPrefix(header, []byte("\xff\xd8\xff")) {
		detected = append(detected, "JPEG")
	}
	if len(detected) > 1 {
		return "polyglot_suspect: " + strings.Join(detected, "+")
	}
	return ""
}

func checkMacro(header []byte, ext string) string {
	switch ext {
	case "xlsm", "docm", "pptm":
		return "macro_extension: ." + ext
	}
	if bytes.HasPrefix(header, []byte("\xd0\xcf\x11\xe0\xa1\xb1\x1a\xe1")) &&
		(bytes.Contains(header, []byte("_VBA_PROJECT")) || bytes.Contains(header, []byte("VBAProject"))) {
		return "macro_detected: OLE2+VBA"
	}
	return ""
}
