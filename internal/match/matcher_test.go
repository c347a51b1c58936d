package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var knownFolders = []Identity{
	{KdNr: "12345", DisplayName: "Hans Mueller", Address: "Hauptstr. 1, Berlin"},
	{KdNr: "20001", DisplayName: "Erika Schmidt", Address: "Gartenweg 9, Potsdam"},
	{KdNr: "20002", DisplayName: "Bauunternehmen Krause GmbH", Address: "Industriering 4, Cottbus"},
}

func TestExtractKdNr(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{"colon form", "Rechnung für Kunden-Nr: 12345, fällig sofort", "12345", true},
		{"long form", "Ihre Kundennummer 20001 vom 01.03.2024", "20001", true},
		{"abbreviated", "Kd-Nr. 20002", "20002", true},
		{"case insensitive", "KUNDEN-NR: 777222", "777222", true},
		{"absent", "Angebot ohne jede Nummer", "", false},
		{"too short", "Kunden-Nr: 12", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractKdNr(tc.text)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRank_ExactKdNrScoresOne(t *testing.T) {
	m := New(0)

	ranked := m.Rank("Zahlung erhalten. Kunden-Nr: 12345", knownFolders)
	require.NotEmpty(t, ranked)

	assert.Equal(t, "12345", ranked[0].Identity.KdNr)
	assert.Equal(t, 1.0, ranked[0].Score)
	assert.True(t, ranked[0].Confident)
}

func TestRank_NameSimilarityRanksCorrectFolderFirst(t *testing.T) {
	m := New(0)

	// OCR-style text: name present, slightly mangled, no identifier.
	ranked := m.Rank("Sehr geehrter Herr Hans Mueler, anbei die Unterlagen. Hauptstr 1 Berlin", knownFolders)
	require.Len(t, ranked, len(knownFolders))

	assert.Equal(t, "Hans Mueller", ranked[0].Identity.DisplayName)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
}

func TestRank_DiacriticsFoldTogether(t *testing.T) {
	m := New(0)
	known := []Identity{{KdNr: "1", DisplayName: "Jürgen Muller"}}

	ranked := m.Rank("Schreiben von Jurgen Müller", known)
	require.NotEmpty(t, ranked)
	assert.Equal(t, 1.0, ranked[0].Score)
}

func TestRank_LowConfidenceNotConfident(t *testing.T) {
	m := New(0)

	ranked := m.Rank("Völlig anderes Thema: Wetterbericht für Zypern", knownFolders)
	for _, c := range ranked {
		assert.False(t, c.Confident, "candidate %q should not be confident (score %v)", c.Identity.DisplayName, c.Score)
	}
}

func TestBest_NilWhenNoConfidentMatch(t *testing.T) {
	m := New(0)

	assert.Nil(t, m.Best("Wetterbericht für Zypern", knownFolders))

	best := m.Best("Kunden-Nr: 12345", knownFolders)
	require.NotNil(t, best)
	assert.Equal(t, "12345", best.Identity.KdNr)
}

func TestRank_Deterministic(t *testing.T) {
	m := New(0)
	text := "Rechnung Hans Mueller Hauptstr Berlin"

	first := m.Rank(text, knownFolders)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, m.Rank(text, knownFolders))
	}
}

func TestRank_EmptyInputs(t *testing.T) {
	m := New(0)

	assert.Empty(t, m.Rank("irgendwas", nil))

	ranked := m.Rank("", knownFolders)
	require.Len(t, ranked, len(knownFolders))
	for _, c := range ranked {
		assert.False(t, c.Confident)
	}
}

func TestSimilarity_Bounds(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"mueller", "mueller", 1.0},
		{"mueller", "", 0.0},
		{"", "", 0.0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, similarity(tc.a, tc.b), "similarity(%q, %q)", tc.a, tc.b)
	}

	s := similarity("mueller", "mueler")
	assert.Greater(t, s, 0.8)
	assert.Less(t, s, 1.0)
}
