package ingest

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TextExtractor is the built-in best-effort extraction collaborator:
// plain-text decoding plus keyword classification and date detection.
// Richer extraction (OCR, AI classification) plugs in behind the same
// Extractor interface from the orchestration layer.
type TextExtractor struct{}

// docTypeKeywords map German business-document markers to
// classification types, checked in order so the more specific types
// win.
var docTypeKeywords = []struct {
	keyword string
	docType string
}{
	{"mahnung", "mahnung"},
	{"rechnung", "rechnung"},
	{"angebot", "angebot"},
	{"lieferschein", "lieferschein"},
	{"auftragsbest", "auftragsbestaetigung"},
	{"vertrag", "vertrag"},
}

var datePattern = regexp.MustCompile(`\b(\d{1,2}\.\d{1,2}\.\d{2,4}|\d{4}-\d{2}-\d{2})\b`)

// Extract decodes the file's text, classifies it by keyword, and picks
// the first date-looking token. Never fails on unclassifiable content;
// empty fields just mean "no suggestion".
func (TextExtractor) Extract(ctx context.Context, filename string, data []byte) (Extraction, error) {
	if err := ctx.Err(); err != nil {
		return Extraction{}, err
	}

	text := decodeText(data)

	ext := Extraction{Text: text}
	lower := strings.ToLower(text)
	for _, entry := range docTypeKeywords {
		if strings.Contains(lower, entry.keyword) {
			ext.DocType = entry.docType
			break
		}
	}
	if m := datePattern.FindString(text); m != "" {
		ext.DocDate = m
	}
	return ext, nil
}

// decodeText returns the input as text when it is valid UTF-8;
// otherwise it salvages printable runs of at least four characters,
// which is enough for identifier and name matching on binary formats
// with embedded text.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}

	var b strings.Builder
	var run []byte
	flush := func() {
		if len(run) >= 4 {
			b.Write(run)
			b.WriteByte(' ')
		}
		run = run[:0]
	}
	for _, c := range data {
		if c < 128 && (unicode.IsPrint(rune(c)) || c == '\t') {
			run = append(run, c)
		} else {
			flush()
		}
	}
	flush()
	return strings.TrimSpace(b.String())
}
