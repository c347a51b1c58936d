package archive

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/aktenwerk/aktenwerk/internal/store"
)

// VersionFileName derives the deterministic on-disk name for one
// version: <type>_<date> with a _vN suffix from the second version
// onward, so versions of the same logical document are visually
// distinguishable next to each other.
func VersionFileName(docType, docDate string, versionNo int64, ext string) string {
	name := docType + "_" + docDate
	if versionNo >= 2 {
		name += fmt.Sprintf("_v%d", versionNo)
	}
	return name + normalizeExt(ext)
}

// folderDirName derives a folder's directory name under the archive
// root. The customer number prefixes the slug when present; folders
// without one use their row id, which is stable and unique.
func folderDirName(f store.Folder) string {
	slugged := slug(f.DisplayName)
	if f.KdNr != "" {
		return f.KdNr + "_" + slugged
	}
	return fmt.Sprintf("f%d_%s", f.ID, slugged)
}

// normalizeDocType slugs the classification type; empty input becomes
// "dokument".
func normalizeDocType(docType string) string {
	s := slug(docType)
	if s == "" {
		return "dokument"
	}
	return s
}

// dateFormats are the input shapes normalizeDate accepts, tried in
// order. German documents overwhelmingly carry the dotted form.
var dateFormats = []string{
	"2006-01-02",
	"02.01.2006",
	"2.1.2006",
	"02.01.06",
}

// normalizeDate canonicalizes a classification date to YYYY-MM-DD.
// Unparseable or missing dates fall back to today, which keeps naming
// deterministic given the same inputs on the same day and never blocks
// a commit on a bad OCR date.
func normalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return time.Now().Format("2006-01-02")
}

func normalizeExt(ext string) string {
	return strings.ToLower(ext)
}

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// slug lowercases, strips diacritics, and joins letter/digit runs with
// single dashes. Pure; same input always yields the same slug.
func slug(s string) string {
	folded, _, err := transform.String(deaccent, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	lastDash := true // suppress a leading dash
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastDash = false
		} else if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
