// Package ingest turns raw incoming files into token-addressed,
// asynchronously progressing analysis jobs.
//
// A submitted file is staged to disk and analyzed on a bounded worker
// pool: extraction, classification, and fuzzy matching against known
// folders. The caller polls the token until the job reaches READY (or
// ERROR), then confirms with its own answers, which always win over
// the machine's suggestions. Confirmation hands off to the archive and
// consumes the job.
//
// State machine: ANALYZING → READY or ANALYZING → ERROR. Both are
// terminal; the only way out is deletion on confirm or cancel. Every
// job runs under a context with a deadline, so a stuck analysis ends
// in ERROR instead of leaving the caller polling forever, and
// Cancel aborts a running job deterministically.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/aktenwerk/aktenwerk/internal/archive"
	"github.com/aktenwerk/aktenwerk/internal/match"
	"github.com/aktenwerk/aktenwerk/internal/store"
)

// Status is a job's lifecycle state.
type Status string

const (
	// StatusAnalyzing is the initial state: the job's worker is
	// running (or queued for a pool slot).
	StatusAnalyzing Status = "ANALYZING"

	// StatusReady means suggestions are staged and the job awaits
	// confirmation.
	StatusReady Status = "READY"

	// StatusError means analysis failed; the job carries a JobError.
	StatusError Status = "ERROR"
)

// Sentinel errors surfaced synchronously to callers.
var (
	// ErrTokenNotFound reports a token that does not exist or was
	// already consumed.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenNotReady reports a confirm against a job still
	// analyzing.
	ErrTokenNotReady = errors.New("token not ready")
)

// JobErrorCode categorizes analysis failures.
type JobErrorCode string

const (
	// ErrCodeExtraction indicates the extraction collaborator failed.
	ErrCodeExtraction JobErrorCode = "EXTRACTION_FAILED"

	// ErrCodeTimeout indicates the job exceeded its deadline.
	ErrCodeTimeout JobErrorCode = "TIMEOUT"

	// ErrCodeCanceled indicates the job was canceled by the caller.
	ErrCodeCanceled JobErrorCode = "CANCELED"

	// ErrCodeInternal indicates an unexpected failure inside the
	// worker.
	ErrCodeInternal JobErrorCode = "INTERNAL"
)

// JobError is the failure recorded on a job in StatusError. It is a
// value carried by the job, not a crash: analysis failures never take
// the caller down.
type JobError struct {
	Code    JobErrorCode
	Message string
}

// Error implements the error interface.
func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Extraction is the best-effort output of the extraction collaborator.
type Extraction struct {
	// Text is the extracted plain text.
	Text string

	// DocType is the classified document type (e.g. "rechnung").
	DocType string

	// DocDate is the document's date as found in the text.
	DocDate string
}

// Extractor is the pluggable extraction/classification collaborator.
// Implementations are registered explicitly at construction; there is
// no runtime discovery.
type Extractor interface {
	Extract(ctx context.Context, filename string, data []byte) (Extraction, error)
}

// Suggestions are the machine's staged answers for a READY job.
type Suggestions struct {
	// KdNr is the customer number found in the text, if any.
	KdNr string

	// DocType and DocDate come from classification.
	DocType string
	DocDate string

	// Text is the extracted plain text, fed to the archive's search
	// index on confirmation.
	Text string

	// Candidates are the ranked fuzzy folder matches. The top entry
	// is a proposal, never an automatic decision.
	Candidates []match.Candidate
}

// Job is the caller-visible snapshot of one pending job.
type Job struct {
	Token     string
	Status    Status
	CreatedAt time.Time
	Filename  string

	// StagedPath is where the submitted bytes wait until
	// confirm/cancel. Callers may persist it to resume a pending job
	// in a later process.
	StagedPath  string
	Suggestions Suggestions
	Err         *JobError
}

// job is the registry-internal state. The registry owns it
// exclusively; nothing else mutates a pending job.
type job struct {
	snapshot Job
	cancel   context.CancelFunc
	done     chan struct{}
}

// Options configure a Registry.
type Options struct {
	// StagingDir holds submitted files until confirm/cancel.
	StagingDir string

	// Workers bounds concurrent analyses; 0 means 4.
	Workers int64

	// JobTimeout is the per-job analysis deadline; 0 means 2 minutes.
	JobTimeout time.Duration
}

// Registry is the ingestion job registry. All collaborators are
// injected; construct once at startup and pass by reference.
type Registry struct {
	staging    string
	jobTimeout time.Duration
	pool       *semaphore.Weighted
	extractor  Extractor
	matcher    *match.Matcher
	archive    *archive.Archive
	store      *store.Store
	logger     *slog.Logger

	mu   sync.Mutex
	jobs map[string]*job

	wg sync.WaitGroup
}

// NewRegistry creates a Registry. The staging directory is created if
// missing.
func NewRegistry(opts Options, extractor Extractor, matcher *match.Matcher, arch *archive.Archive, st *store.Store, logger *slog.Logger) (*Registry, error) {
	if opts.StagingDir == "" {
		return nil, errors.New("new registry: staging directory required")
	}
	if err := os.MkdirAll(opts.StagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("new registry: %w", err)
	}
	if opts.Workers == 0 {
		opts.Workers = 4
	}
	if opts.JobTimeout == 0 {
		opts.JobTimeout = 2 * time.Minute
	}
	if extractor == nil {
		return nil, errors.New("new registry: extractor required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		staging:    opts.StagingDir,
		jobTimeout: opts.JobTimeout,
		pool:       semaphore.NewWeighted(opts.Workers),
		extractor:  extractor,
		matcher:    matcher,
		archive:    arch,
		store:      st,
		logger:     logger.With("component", "ingest"),
		jobs:       make(map[string]*job),
	}, nil
}

// Submit stages the raw file, allocates a token, and starts the
// analysis on the worker pool. It returns immediately; callers poll
// the token at their own cadence.
func (r *Registry) Submit(ctx context.Context, filename string, data []byte) (string, error) {
	token := uuid.NewString()

	staged := filepath.Join(r.staging, token+filepath.Ext(filename))
	if err := os.WriteFile(staged, data, 0o644); err != nil {
		return "", fmt.Errorf("submit: stage file: %w", err)
	}

	jobCtx, cancel := context.WithTimeout(context.Background(), r.jobTimeout)
	j := &job{
		snapshot: Job{
			Token:      token,
			Status:     StatusAnalyzing,
			CreatedAt:  time.Now(),
			Filename:   filename,
			StagedPath: staged,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	r.jobs[token] = j
	r.mu.Unlock()

	r.wg.Add(1)
	go r.analyze(jobCtx, j, filename, data)

	r.logger.Info("job submitted", "token", token, "file", filename, "size", len(data))
	return token, nil
}

// analyze runs one job to a terminal state. Every failure path ends in
// StatusError with a message; a job is never left silently stuck in
// ANALYZING.
func (r *Registry) analyze(ctx context.Context, j *job, filename string, data []byte) {
	defer r.wg.Done()
	defer j.cancel()
	defer close(j.done)

	defer func() {
		if p := recover(); p != nil {
			r.fail(j, &JobError{Code: ErrCodeInternal, Message: fmt.Sprintf("analysis panicked: %v", p)})
		}
	}()

	if err := r.pool.Acquire(ctx, 1); err != nil {
		r.fail(j, timeoutOrCanceled(ctx, "queued for worker"))
		return
	}
	defer r.pool.Release(1)

	extraction, err := r.extractor.Extract(ctx, filename, data)
	if err != nil {
		if ctx.Err() != nil {
			r.fail(j, timeoutOrCanceled(ctx, "extraction"))
			return
		}
		r.fail(j, &JobError{Code: ErrCodeExtraction, Message: err.Error()})
		return
	}

	suggestions := Suggestions{
		DocType: extraction.DocType,
		DocDate: extraction.DocDate,
		Text:    extraction.Text,
	}
	if kdnr, ok := match.ExtractKdNr(extraction.Text); ok {
		suggestions.KdNr = kdnr
	}

	if r.matcher != nil && r.store != nil {
		folders, err := r.store.Folders(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.fail(j, timeoutOrCanceled(ctx, "folder listing"))
				return
			}
			r.fail(j, &JobError{Code: ErrCodeInternal, Message: fmt.Sprintf("list folders: %v", err)})
			return
		}
		known := make([]match.Identity, 0, len(folders))
		for _, f := range folders {
			known = append(known, match.Identity{KdNr: f.KdNr, DisplayName: f.DisplayName, Address: f.Address})
		}
		suggestions.Candidates = r.matcher.Rank(extraction.Text, known)
	}

	r.mu.Lock()
	if r.jobs[j.snapshot.Token] == j && j.snapshot.Status == StatusAnalyzing {
		j.snapshot.Status = StatusReady
		j.snapshot.Suggestions = suggestions
	}
	r.mu.Unlock()

	r.logger.Info("job ready", "token", j.snapshot.Token, "kdnr", suggestions.KdNr, "candidates", len(suggestions.Candidates))
}

// fail transitions a still-analyzing job to ERROR.
func (r *Registry) fail(j *job, jobErr *JobError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j.snapshot.Status != StatusAnalyzing {
		return
	}
	j.snapshot.Status = StatusError
	j.snapshot.Err = jobErr
	r.logger.Warn("job failed", "token", j.snapshot.Token, "code", jobErr.Code, "message", jobErr.Message)
}

func timeoutOrCanceled(ctx context.Context, during string) *JobError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &JobError{Code: ErrCodeTimeout, Message: "deadline exceeded during " + during}
	}
	return &JobError{Code: ErrCodeCanceled, Message: "canceled during " + during}
}

// Poll returns a snapshot of the job's current state. Non-blocking; a
// missing or already-consumed token is ErrTokenNotFound.
func (r *Registry) Poll(token string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[token]
	if !ok {
		return Job{}, ErrTokenNotFound
	}
	return j.snapshot, nil
}

// Confirm validates that the job is READY, merges the caller's answers
// over the machine suggestions (caller fields win; empty caller fields
// fall back to suggestions), commits the staged file to the archive,
// and consumes the job.
//
// Confirming an ANALYZING job is rejected with ErrTokenNotReady, never
// blocked on. Confirming a failed job returns its JobError. A missing
// token is ErrTokenNotFound.
func (r *Registry) Confirm(ctx context.Context, token string, answers archive.Answers) (archive.Result, error) {
	r.mu.Lock()
	j, ok := r.jobs[token]
	if !ok {
		r.mu.Unlock()
		return archive.Result{}, ErrTokenNotFound
	}
	switch j.snapshot.Status {
	case StatusAnalyzing:
		r.mu.Unlock()
		return archive.Result{}, ErrTokenNotReady
	case StatusError:
		jobErr := j.snapshot.Err
		r.mu.Unlock()
		return archive.Result{}, fmt.Errorf("confirm: job failed: %w", jobErr)
	}
	merged := MergeAnswers(answers, j.snapshot.Suggestions)
	staged := j.snapshot.StagedPath
	filename := j.snapshot.Filename
	r.mu.Unlock()

	data, err := os.ReadFile(staged)
	if err != nil {
		return archive.Result{}, fmt.Errorf("confirm: read staged file: %w", err)
	}

	result, err := r.archive.Commit(ctx, merged, data, filename)
	if err != nil {
		// The job stays READY so the caller can correct answers and
		// retry.
		return archive.Result{}, fmt.Errorf("confirm: %w", err)
	}

	r.mu.Lock()
	delete(r.jobs, token)
	r.mu.Unlock()
	os.Remove(staged)

	r.logger.Info("job confirmed", "token", token, "folder", result.Folder, "path", result.Path)
	return result, nil
}

// Cancel aborts a running job or discards a terminal one, removing the
// staged file. The token is gone afterwards.
func (r *Registry) Cancel(token string) error {
	r.mu.Lock()
	j, ok := r.jobs[token]
	if ok {
		delete(r.jobs, token)
	}
	r.mu.Unlock()
	if !ok {
		return ErrTokenNotFound
	}

	j.cancel()
	<-j.done
	os.Remove(j.snapshot.StagedPath)
	r.logger.Info("job canceled", "token", token)
	return nil
}

// Close cancels all pending jobs and waits for their workers.
func (r *Registry) Close() {
	r.mu.Lock()
	for _, j := range r.jobs {
		j.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// MergeAnswers overlays caller answers on machine suggestions. Caller
// answers always win; suggestion values only fill fields the caller
// left empty. Fuzzy candidates are never promoted here: SelectedKdNr
// is only ever set by the caller.
func MergeAnswers(caller archive.Answers, sugg Suggestions) archive.Answers {
	merged := caller
	if merged.KdNr == "" && merged.SelectedKdNr == "" {
		merged.KdNr = sugg.KdNr
	}
	if merged.DocType == "" {
		merged.DocType = sugg.DocType
	}
	if merged.DocDate == "" {
		merged.DocDate = sugg.DocDate
	}
	if merged.ExtractedText == "" {
		merged.ExtractedText = sugg.Text
	}
	return merged
}
