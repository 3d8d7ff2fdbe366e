package sniff

import (
	"strings"
	"testing"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		filename string
		wantMIME string
		wantExt  string
	}{
		{"pdf", "%PDF-1.4\n...", "report.pdf", "application/pdf", "pdf"},
		{"pdf misnamed", "%PDF-1.7\n", "report.txt", "application/pdf", "pdf"},
		{"docx", "PK\x03\x04rest", "letter.DOCX", zipByExt["docx"], "docx"},
		{"plain zip", "PK\x03\x04rest", "bundle.zip", "application/zip", "zip"},
		{"ole xls", "\xD0\xCF\x11\xE0\xA1\xB1\x1A\xE1....", "old.xls", "application/vnd.ms-excel", "xls"},
		{"png", "\x89PNG\r\n\x1a\nIHDR", "scan", "image/png", "png"},
		{"jpeg keeps spelling", "\xFF\xD8\xFF\xE0", "photo.jpeg", "image/jpeg", "jpeg"},
		{"gif", "GIF89a....", "a.gif", "image/gif", "gif"},
		{"tiff", "II*\x00....", "a.tif", "image/tiff", "tif"},
		{"webp", "RIFF\x00\x00\x00\x00WEBPVP8 ", "a.webp", "image/webp", "webp"},
		{"gzip", "\x1F\x8B\x08\x00", "a.gz", "application/gzip", "gz"},
		{"rtf", `{\rtf1\ansi hello}`, "memo.rtf", "application/rtf", "rtf"},
		{"html doctype", "\n  <!DOCTYPE html><html></html>", "page", "text/html", "html"},
		{"html bom", "\xEF\xBB\xBF<HTML><body>x</body></HTML>", "page.htm", "text/html", "htm"},
		{"xml", `<?xml version="1.0"?><root/>`, "data.xml", "application/xml", "xml"},
		{"json object", `  {"a": 1}`, "", "application/json", "json"},
		{"json array named", `[1,2,3]`, "list.json", "application/json", "json"},
		{"csv", "a,b,c\n1,2,3\n", "table.csv", "text/csv", "csv"},
		{"tsv", "a\tb\n1\t2\n", "table.tsv", "text/tab-separated-values", "tsv"},
		{"markdown", "# Title\n\nbody", "notes.md", "text/markdown", "md"},
		{"plain text no name", "Invoice Number: 42\n", "", PlainText, "txt"},
		{"plain text txt", "hello", "a.txt", PlainText, "txt"},
		{"binary unknown", "\x00\x01\x02\x03\xFE", "blob", OctetStream, ""},
		{"empty", "", "", OctetStream, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotMIME, gotExt := Detect([]byte(tt.data), tt.filename)
			if gotMIME != tt.wantMIME || gotExt != tt.wantExt {
				t.Errorf("Detect = (%q, %q), want (%q, %q)", gotMIME, gotExt, tt.wantMIME, tt.wantExt)
			}
		})
	}
}

func TestExtensionForMIME(t *testing.T) {
	tests := map[string]string{
		"application/pdf":          "pdf",
		"text/html; charset=utf-8": "html",
		"TEXT/CSV":                 "csv",
		zipByExt["pptx"]:           "pptx",
		"application/x-unknown":    "",
	}
	for in, want := range tests {
		if got := ExtensionForMIME(in); got != want {
			t.Errorf("ExtensionForMIME(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHashes(t *testing.T) {
	sha, md := Hashes([]byte("abc"))
	if sha != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Errorf("sha256 = %s", sha)
	}
	if md != "900150983cd24fb0d6963f7d28e17f72" {
		t.Errorf("md5 = %s", md)
	}
}

func TestEntropy(t *testing.T) {
	if got := Entropy(nil); got != 0 {
		t.Errorf("Entropy(nil) = %v, want 0", got)
	}
	if got := Entropy([]byte(strings.Repeat("a", 100))); got != 0 {
		t.Errorf("Entropy(constant) = %v, want 0", got)
	}
	if got := Entropy([]byte("ab")); got != 1 {
		t.Errorf("Entropy(ab) = %v, want 1", got)
	}
}
