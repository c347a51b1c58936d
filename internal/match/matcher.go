// Package match ranks known customer/object folders against free text
// extracted from an incoming document.
//
// Matching is approximate by design: scanned letters rarely contain an
// exact identifier, so candidates are scored with normalized
// edit-distance similarity over name and address tokens. A result below
// the confidence threshold is reported as "no confident match" and must
// never be auto-selected by callers; only an explicit caller choice may
// bind a document to a fuzzy candidate.
package match

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultThreshold is the similarity below which a candidate is not
// considered confident.
const DefaultThreshold = 0.6

// Identity describes one known folder that documents can be filed
// under.
type Identity struct {
	// KdNr is the customer number, the exact identifier when present.
	KdNr string

	// DisplayName is the folder's human-readable name.
	DisplayName string

	// Address holds address fragments (street, city) as free text.
	Address string
}

// Candidate is one ranked match result.
type Candidate struct {
	Identity Identity

	// Score is the similarity in [0,1]; 1.0 means an exact
	// identifier hit.
	Score float64

	// Confident reports whether Score cleared the matcher's
	// threshold.
	Confident bool
}

// Matcher scores identities against extracted text. It holds only
// configuration and is safe for concurrent use; Rank is a pure
// function of its inputs.
type Matcher struct {
	// Threshold is the minimum similarity for a confident match.
	// Zero means DefaultThreshold.
	Threshold float64
}

// New creates a Matcher with the given threshold, or the default when
// threshold is 0.
func New(threshold float64) *Matcher {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{Threshold: threshold}
}

// kdnrPattern recognizes customer-number mentions such as
// "Kunden-Nr: 12345", "Kundennummer 12345", or "Kd-Nr. 12345".
var kdnrPattern = regexp.MustCompile(`(?i)k(?:un)?d(?:en)?[-.\s]?n(?:ummer|r)\.?\s*:?\s*(\d{3,})`)

// ExtractKdNr scans extracted text for a customer-number mention and
// returns the first one found.
func ExtractKdNr(text string) (string, bool) {
	m := kdnrPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Rank scores every known identity against the extracted text and
// returns candidates sorted by descending score. Ties order by KdNr so
// results are deterministic. Rank never mutates its inputs and never
// auto-selects: callers decide what to do with the ranking.
func (m *Matcher) Rank(extractedText string, known []Identity) []Candidate {
	threshold := m.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}

	textTokens := tokenize(extractedText)
	kdnr, hasKdNr := ExtractKdNr(extractedText)

	candidates := make([]Candidate, 0, len(known))
	for _, id := range known {
		score := scoreIdentity(id, textTokens)
		if hasKdNr && id.KdNr != "" && id.KdNr == kdnr {
			score = 1.0
		}
		candidates = append(candidates, Candidate{
			Identity:  id,
			Score:     score,
			Confident: score >= threshold,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Identity.KdNr < candidates[j].Identity.KdNr
	})
	return candidates
}

// Best returns the top candidate if it is confident, or nil when there
// is no confident match.
func (m *Matcher) Best(extractedText string, known []Identity) *Candidate {
	ranked := m.Rank(extractedText, known)
	if len(ranked) == 0 || !ranked[0].Confident {
		return nil
	}
	top := ranked[0]
	return &top
}

// scoreIdentity computes the best similarity between any identity
// token (name and address) and any text token, averaged with coverage
// of the identity's name tokens. This rewards documents that mention
// several parts of a name over a single coincidental token hit.
func scoreIdentity(id Identity, textTokens []string) float64 {
	nameTokens := tokenize(id.DisplayName)
	addrTokens := tokenize(id.Address)
	if len(nameTokens) == 0 && len(addrTokens) == 0 {
		return 0
	}

	var sum float64
	var count int
	for _, tok := range nameTokens {
		sum += bestSimilarity(tok, textTokens)
		count++
	}
	// Address fragments support the name match at half weight; an
	// address alone should not clear the threshold for an unrelated
	// name.
	for _, tok := range addrTokens {
		sum += bestSimilarity(tok, textTokens) / 2
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func bestSimilarity(token string, against []string) float64 {
	var best float64
	for _, other := range against {
		if s := similarity(token, other); s > best {
			best = s
			if best == 1.0 {
				break
			}
		}
	}
	return best
}

// similarity is the normalized edit-distance ratio in [0,1]:
// 1 - distance/max(len). Both inputs must already be normalized.
// Two empty strings score 0, not 1: an empty field carries no
// identity signal and must never count as a match.
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	if a == b {
		return 1.0
	}
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	return 1.0 - float64(levenshtein(ra, rb))/float64(longest)
}

// levenshtein computes edit distance with the two-row dynamic
// programming formulation.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// foldTransform strips diacritics: decompose, drop combining marks,
// recompose. "Müller" and "Mueller"-style spellings still differ by
// edit distance, but "Müller" vs "Muller" collapse to equality.
var foldTransform = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// tokenize lowercases, strips diacritics, and splits on anything that
// is not a letter or digit. Pure function; order of tokens follows the
// input.
func tokenize(s string) []string {
	folded, _, err := transform.String(foldTransform, s)
	if err != nil {
		// Removal transforms cannot fail on valid UTF-8; fall back
		// to the raw string for anything else.
		folded = s
	}
	folded = strings.ToLower(folded)

	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
