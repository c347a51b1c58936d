package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aktenwerk/aktenwerk/internal/archive"
	"github.com/aktenwerk/aktenwerk/internal/match"
	"github.com/aktenwerk/aktenwerk/internal/store"
)

type fixture struct {
	registry *Registry
	store    *store.Store
	staging  string
}

func newFixture(t *testing.T, extractor Extractor, opts Options) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "index.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	arch, err := archive.New(archive.Options{Root: filepath.Join(t.TempDir(), "archive")}, st, slog.Default())
	require.NoError(t, err)

	if opts.StagingDir == "" {
		opts.StagingDir = filepath.Join(t.TempDir(), "staging")
	}
	if extractor == nil {
		extractor = TextExtractor{}
	}
	reg, err := NewRegistry(opts, extractor, match.New(0), arch, st, slog.Default())
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	return &fixture{registry: reg, store: st, staging: opts.StagingDir}
}

// pollUntilTerminal polls the token until it leaves ANALYZING.
func pollUntilTerminal(t *testing.T, reg *Registry, token string) Job {
	t.Helper()
	var j Job
	require.Eventually(t, func() bool {
		var err error
		j, err = reg.Poll(token)
		require.NoError(t, err)
		return j.Status != StatusAnalyzing
	}, 5*time.Second, 5*time.Millisecond)
	return j
}

// blockingExtractor blocks until released or the job context ends.
type blockingExtractor struct {
	release chan struct{}
}

func (e *blockingExtractor) Extract(ctx context.Context, filename string, data []byte) (Extraction, error) {
	select {
	case <-e.release:
		return Extraction{Text: string(data)}, nil
	case <-ctx.Done():
		return Extraction{}, ctx.Err()
	}
}

type failingExtractor struct{}

func (failingExtractor) Extract(ctx context.Context, filename string, data []byte) (Extraction, error) {
	return Extraction{}, errors.New("unreadable scan")
}

func TestSubmit_ReachesReadyWithSuggestions(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	_, err := f.store.CreateFolder(ctx, "12345", "Hans Mueller", "Hauptstr. 1, Berlin")
	require.NoError(t, err)

	body := []byte("Rechnung vom 01.03.2024\nKunden-Nr: 12345\nHans Mueller, Hauptstr. 1, Berlin")
	token, err := f.registry.Submit(ctx, "scan.txt", body)
	require.NoError(t, err)

	j := pollUntilTerminal(t, f.registry, token)
	require.Equal(t, StatusReady, j.Status)

	assert.Equal(t, "12345", j.Suggestions.KdNr)
	assert.Equal(t, "rechnung", j.Suggestions.DocType)
	assert.Equal(t, "01.03.2024", j.Suggestions.DocDate)
	require.NotEmpty(t, j.Suggestions.Candidates)
	assert.Equal(t, "12345", j.Suggestions.Candidates[0].Identity.KdNr)
	assert.True(t, j.Suggestions.Candidates[0].Confident)
}

func TestPoll_UnknownToken(t *testing.T) {
	f := newFixture(t, nil, Options{})

	_, err := f.registry.Poll("no-such-token")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestConfirm_WhileAnalyzingRejected(t *testing.T) {
	ext := &blockingExtractor{release: make(chan struct{})}
	f := newFixture(t, ext, Options{})
	ctx := context.Background()

	token, err := f.registry.Submit(ctx, "scan.txt", []byte("body"))
	require.NoError(t, err)

	_, err = f.registry.Confirm(ctx, token, archive.Answers{KdNr: "12345"})
	assert.ErrorIs(t, err, ErrTokenNotReady)

	close(ext.release)
}

func TestConfirm_ConsumesJob(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	token, err := f.registry.Submit(ctx, "scan.txt", []byte("Rechnung Kunden-Nr: 12345 vom 01.03.2024"))
	require.NoError(t, err)
	pollUntilTerminal(t, f.registry, token)

	res, err := f.registry.Confirm(ctx, token, archive.Answers{DisplayName: "Hans Mueller"})
	require.NoError(t, err)
	assert.True(t, res.CreatedFolder)

	// Token is gone and staging is empty.
	_, err = f.registry.Poll(token)
	assert.ErrorIs(t, err, ErrTokenNotFound)
	_, err = f.registry.Confirm(ctx, token, archive.Answers{})
	assert.ErrorIs(t, err, ErrTokenNotFound)

	entries, err := os.ReadDir(f.staging)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConfirm_CallerAnswersWin(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	// Suggestion says rechnung/12345; caller overrides both.
	token, err := f.registry.Submit(ctx, "scan.txt", []byte("Rechnung Kunden-Nr: 12345 vom 01.03.2024"))
	require.NoError(t, err)
	pollUntilTerminal(t, f.registry, token)

	res, err := f.registry.Confirm(ctx, token, archive.Answers{
		KdNr:        "77777",
		DisplayName: "Neuer Kunde",
		DocType:     "vertrag",
		DocDate:     "2024-05-05",
	})
	require.NoError(t, err)

	assert.Equal(t, "77777_neuer-kunde", res.Folder)
	assert.Contains(t, res.Path, "vertrag_2024-05-05")
}

func TestConfirm_SuggestionsFillEmptyAnswers(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	_, err := f.store.CreateFolder(ctx, "12345", "Hans Mueller", "")
	require.NoError(t, err)

	token, err := f.registry.Submit(ctx, "scan.txt", []byte("Rechnung Kunden-Nr: 12345 vom 01.03.2024"))
	require.NoError(t, err)
	pollUntilTerminal(t, f.registry, token)

	// Caller confirms without overriding anything: suggested kdnr,
	// type, and date apply.
	res, err := f.registry.Confirm(ctx, token, archive.Answers{})
	require.NoError(t, err)
	assert.False(t, res.CreatedFolder)
	assert.Equal(t, "12345_hans-mueller", res.Folder)
	assert.Contains(t, res.Path, "rechnung_2024-03-01")
}

// Existing-folder vs new-folder behavior of the confirm flow.
func TestConfirm_CreatesFolderOnlyWhenAbsent(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	submit := func() string {
		token, err := f.registry.Submit(ctx, "scan.txt", []byte("Kunden-Nr: 12345 Hauptstr. 1"))
		require.NoError(t, err)
		pollUntilTerminal(t, f.registry, token)
		return token
	}

	first, err := f.registry.Confirm(ctx, submit(), archive.Answers{KdNr: "12345", DisplayName: "Hans Mueller", DocType: "brief", DocDate: "2024-01-01"})
	require.NoError(t, err)
	assert.True(t, first.CreatedFolder)

	second, err := f.registry.Confirm(ctx, submit(), archive.Answers{KdNr: "12345", DocType: "brief", DocDate: "2024-02-02"})
	require.NoError(t, err)
	assert.False(t, second.CreatedFolder)
	assert.Equal(t, first.Folder, second.Folder)
}

func TestAnalysisFailure_RecordedNotRaised(t *testing.T) {
	f := newFixture(t, failingExtractor{}, Options{})
	ctx := context.Background()

	token, err := f.registry.Submit(ctx, "scan.pdf", []byte("binary"))
	require.NoError(t, err)

	j := pollUntilTerminal(t, f.registry, token)
	require.Equal(t, StatusError, j.Status)
	require.NotNil(t, j.Err)
	assert.Equal(t, ErrCodeExtraction, j.Err.Code)
	assert.Contains(t, j.Err.Message, "unreadable scan")

	// Confirming a failed job surfaces the stored error.
	_, err = f.registry.Confirm(ctx, token, archive.Answers{KdNr: "1"})
	require.Error(t, err)
	var jobErr *JobError
	assert.ErrorAs(t, err, &jobErr)
}

func TestJobTimeout_EndsInError(t *testing.T) {
	ext := &blockingExtractor{release: make(chan struct{})}
	f := newFixture(t, ext, Options{JobTimeout: 30 * time.Millisecond})
	ctx := context.Background()

	token, err := f.registry.Submit(ctx, "scan.txt", []byte("body"))
	require.NoError(t, err)

	j := pollUntilTerminal(t, f.registry, token)
	require.Equal(t, StatusError, j.Status)
	require.NotNil(t, j.Err)
	assert.Equal(t, ErrCodeTimeout, j.Err.Code)
}

func TestCancel_AbortsRunningJob(t *testing.T) {
	ext := &blockingExtractor{release: make(chan struct{})}
	f := newFixture(t, ext, Options{})
	ctx := context.Background()

	token, err := f.registry.Submit(ctx, "scan.txt", []byte("body"))
	require.NoError(t, err)

	require.NoError(t, f.registry.Cancel(token))

	_, err = f.registry.Poll(token)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	entries, err := os.ReadDir(f.staging)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.ErrorIs(t, f.registry.Cancel(token), ErrTokenNotFound)
}

func TestSubmit_BoundedPoolStillCompletesAll(t *testing.T) {
	f := newFixture(t, nil, Options{Workers: 2})
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 8; i++ {
		token, err := f.registry.Submit(ctx, "scan.txt", []byte("Angebot vom 01.02.2024"))
		require.NoError(t, err)
		tokens = append(tokens, token)
	}

	for _, token := range tokens {
		j := pollUntilTerminal(t, f.registry, token)
		assert.Equal(t, StatusReady, j.Status)
	}
}
