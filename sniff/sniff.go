// Package sniff identifies a document's format from its leading bytes and
// filename, and computes the content hashes used for deduplication.
package sniff

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Generic MIME types returned when nothing more specific is known.
const (
	OctetStream = "application/octet-stream"
	PlainText   = "text/plain"
)

// sniffLen is how much of the input the text heuristics look at.
const sniffLen = 4096

var zipByExt = map[string]string{
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"odt":  "application/vnd.oasis.opendocument.text",
	"ods":  "application/vnd.oasis.opendocument.spreadsheet",
	"odp":  "application/vnd.oasis.opendocument.presentation",
}

var oleByExt = map[string]string{
	"doc": "application/msword",
	"xls": "application/vnd.ms-excel",
	"ppt": "application/vnd.ms-powerpoint",
	"msg": "application/vnd.ms-outlook",
}

// byExt is consulted when no magic matched and before mime.TypeByExtension,
// so results do not depend on the host's mime.types.
var byExt = map[string]string{
	"pdf":  "application/pdf",
	"txt":  PlainText,
	"md":   "text/markdown",
	"csv":  "text/csv",
	"tsv":  "text/tab-separated-values",
	"json": "application/json",
	"xml":  "application/xml",
	"html": "text/html",
	"htm":  "text/html",
	"rtf":  "application/rtf",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"webp": "image/webp",
	"zip":  "application/zip",
	"gz":   "application/gzip",
	"bz2":  "application/x-bzip2",
}

func init() {
	for k, v := range zipByExt {
		byExt[k] = v
	}
	for k, v := range oleByExt {
		byExt[k] = v
	}
}

// extForMIME is the reverse table. Ambiguous MIME types map to their most
// common extension.
var extForMIME = map[string]string{
	"application/pdf":           "pdf",
	PlainText:                   "txt",
	"text/markdown":             "md",
	"text/csv":                  "csv",
	"text/tab-separated-values": "tsv",
	"application/json":          "json",
	"application/xml":           "xml",
	"text/xml":                  "xml",
	"text/html":                 "html",
	"application/xhtml+xml":     "html",
	"application/rtf":           "rtf",
	"text/rtf":                  "rtf",
	"image/png":                 "png",
	"image/jpeg":                "jpg",
	"image/gif":                 "gif",
	"image/bmp":                 "bmp",
	"image/tiff":                "tiff",
	"image/webp":                "webp",
	"application/zip":           "zip",
	"application/gzip":          "gz",
	"application/x-bzip2":       "bz2",
}

func init() {
	for k, v := range zipByExt {
		extForMIME[v] = k
	}
	for k, v := range oleByExt {
		extForMIME[v] = k
	}
}

// Ext returns the lowercased extension of filename without the leading dot.
func Ext(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

// ExtensionForMIME returns the canonical extension for a MIME type, or "".
// Parameters such as "; charset=utf-8" are ignored.
func ExtensionForMIME(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return extForMIME[strings.ToLower(strings.TrimSpace(mimeType))]
}

// Detect returns the MIME type and extension (lowercase, no dot) for data.
// Magic bytes take precedence over the filename. Detect never fails: unknown
// binary content is reported as application/octet-stream.
func Detect(data []byte, filename string) (mimeType, ext string) {
	ext = Ext(filename)

	if m := magic(data, ext); m != "" {
		// Content wins over the name, but keep spellings such as .jpeg/.htm
		// that already map to the detected type.
		if byExt[ext] != m {
			if e := ExtensionForMIME(m); e != "" {
				ext = e
			}
		}
		return m, ext
	}

	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if isText(head) {
		trimmed := bytes.TrimSpace(bytes.TrimPrefix(head, utf8BOM))
		switch {
		case len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '['):
			return "application/json", orExt(ext, "json")
		case (ext == "csv" || ext == "tsv") && looksDelimited(trimmed, ext):
			return byExt[ext], ext
		}
	}

	if m, ok := byExt[ext]; ok {
		return m, ext
	}
	if ext != "" {
		if m := mime.TypeByExtension("." + ext); m != "" {
			if i := strings.IndexByte(m, ';'); i >= 0 {
				m = m[:i]
			}
			return m, ext
		}
	}
	if isText(head) {
		return PlainText, orExt(ext, "txt")
	}
	return OctetStream, ext
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func magic(data []byte, ext string) string {
	switch {
	case bytes.HasPrefix(data, []byte("%PDF")):
		return "application/pdf"
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		if m, ok := zipByExt[ext]; ok {
			return m
		}
		return "application/zip"
	case bytes.HasPrefix(data, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}):
		if m, ok := oleByExt[ext]; ok {
			return m
		}
		return "application/x-ole-storage"
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return "image/tiff"
	case len(data) >= 14 && bytes.HasPrefix(data, []byte("BM")) && bytes.Equal(data[6:10], []byte{0, 0, 0, 0}):
		return "image/bmp"
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP":
		return "image/webp"
	case bytes.HasPrefix(data, []byte{0x1F, 0x8B}):
		return "application/gzip"
	case bytes.HasPrefix(data, []byte("BZh")):
		return "application/x-bzip2"
	case bytes.HasPrefix(data, []byte(`{\rtf`)):
		return "application/rtf"
	}

	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	head = bytes.TrimLeft(bytes.TrimPrefix(head, utf8BOM), " \t\r\n")
	lower := bytes.ToLower(head)
	switch {
	case bytes.HasPrefix(lower, []byte("<!doctype html")), bytes.HasPrefix(lower, []byte("<html")):
		return "text/html"
	case bytes.HasPrefix(lower, []byte("<?xml")):
		if bytes.Contains(lower, []byte("<html")) {
			return "text/html"
		}
		return "application/xml"
	}
	return ""
}

// isText reports whether head decodes as UTF-8 without NULs. A multi-byte
// rune cut at the end of the window is tolerated.
func isText(head []byte) bool {
	if len(head) == 0 || bytes.IndexByte(head, 0) >= 0 {
		return false
	}
	for len(head) > 0 {
		r, size := utf8.DecodeRune(head)
		if r == utf8.RuneError && size <= 1 {
			return len(head) < utf8.UTFMax && !utf8.FullRune(head)
		}
		head = head[size:]
	}
	return true
}

func looksDelimited(head []byte, ext string) bool {
	sep := byte(',')
	if ext == "tsv" {
		sep = '\t'
	}
	lines := bytes.SplitN(head, []byte("\n"), 3)
	return bytes.IndexByte(lines[0], sep) >= 0
}

func orExt(ext, fallback string) string {
	if ext != "" {
		return ext
	}
	return fallback
}

// Hashes returns the hex SHA-256 and MD5 digests of data.
func Hashes(data []byte) (sha256hex, md5hex string) {
	s := sha256.Sum256(data)
	m := md5.Sum(data)
	return hex.EncodeToString(s[:]), hex.EncodeToString(m[:])
}

// Entropy returns the Shannon entropy of data in bits per byte, rounded to
// three decimals.
func Entropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var freq [256]float64
	for _, b := range data {
		freq[b]++
	}
	total := float64(len(data))
	var h float64
	for _, f := range freq {
		if f > 0 {
			p := f / total
			h -= p * math.Log2(p)
		}
	}
	return math.Round(h*1000) / 1000
}
