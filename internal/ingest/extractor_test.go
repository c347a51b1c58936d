package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextExtractor_ClassifiesAndFindsDate(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		wantType string
		wantDate string
	}{
		{"invoice", "Rechnung Nr. 4711 vom 01.03.2024", "rechnung", "01.03.2024"},
		{"offer", "Unser Angebot gilt bis 2024-06-30", "angebot", "2024-06-30"},
		{"dunning beats invoice", "Mahnung zur Rechnung vom 15.01.2024", "mahnung", "15.01.2024"},
		{"delivery note", "LIEFERSCHEIN 09.09.2023", "lieferschein", "09.09.2023"},
		{"unclassified", "Handschriftliche Notiz ohne Datum", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := TextExtractor{}.Extract(context.Background(), "scan.txt", []byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.wantType, got.DocType)
			assert.Equal(t, tc.wantDate, got.DocDate)
			assert.Equal(t, tc.body, got.Text)
		})
	}
}

func TestTextExtractor_SalvagesTextFromBinary(t *testing.T) {
	data := append([]byte{0x00, 0xff, 0xfe}, []byte("Kunden-Nr: 12345")...)
	data = append(data, 0x00, 0x01)

	got, err := TextExtractor{}.Extract(context.Background(), "scan.pdf", data)
	require.NoError(t, err)
	assert.Contains(t, got.Text, "Kunden-Nr: 12345")
}

func TestTextExtractor_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := TextExtractor{}.Extract(ctx, "scan.txt", []byte("Rechnung"))
	assert.Error(t, err)
}
