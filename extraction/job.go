// Package extraction walks the case backlog, downloads judgment documents and
// stores their text. A run is bounded by a session cap and resumes from a
// checkpoint, so it is meant to be invoked repeatedly by a scheduler.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"judgments-backend/logger"
	"judgments-backend/metrics"
	"judgments-backend/models"
	"judgments-backend/service"
	"judgments-backend/storage"

	"github.com/google/uuid"
)

var (
	ErrTextTooShort = errors.New("extracted text too short, likely invalid")
	ErrTextTooLarge = errors.New("extracted text too large")
	ErrNoDocument   = errors.New("record has no document url")
	ErrDuplicate    = errors.New("insert skipped, record conflicts with a stored case")
)

const maxParseAttempts = 2

// BacklogSource lists records awaiting extraction, newest first
type BacklogSource interface {
	FetchBacklog(ctx context.Context, category string, offset, limit int) ([]models.BacklogRecord, error)
}

// CaseSink is the part of the case store the job writes to
type CaseSink interface {
	ExistsByIDOrURL(ctx context.Context, ids, urls []string) (map[string]struct{}, map[string]struct{}, error)
	InsertMany(ctx context.Context, records []models.CaseRecord) (int, error)
}

// JobConfig holds the job knobs
type JobConfig struct {
	Category        string
	ChunkSize       int
	BatchSize       int
	SessionCap      int
	ParseRetryDelay time.Duration
	BusyPause       time.Duration // after a batch that inserted records
	IdlePause       time.Duration // after a batch with nothing new
	MinTextLength   int           // characters, not bytes
	MaxTextLength   int
}

// DefaultJobConfig returns the production defaults
func DefaultJobConfig() JobConfig {
	return JobConfig{
		Category:        "Supreme Court",
		ChunkSize:       1000,
		BatchSize:       500,
		SessionCap:      1000,
		ParseRetryDelay: 2 * time.Second,
		BusyPause:       10 * time.Second,
		IdlePause:       time.Second,
		MinTextLength:   100,
		MaxTextLength:   5_000_000,
	}
}

// RunSummary describes one invocation
type RunSummary struct {
	RunID             string
	StartOffset       int
	EndOffset         int
	Batches           int
	Processed         int // records attempted this run, counted against the session cap
	Extracted         int // records inserted this run
	Skipped           int // already stored or repeated within the run
	Problematic       int // fetched but unusable
	Failed            int
	TotalExtracted    int // cumulative across runs
	SessionCapReached bool
	Completed         bool // backlog exhausted, checkpoint removed
}

// Job is the resumable extraction controller. It is sequential by design.
type Job struct {
	cfg         JobConfig
	backlog     BacklogSource
	cases       CaseSink
	fetcher     Fetcher
	extractor   TextExtractor
	checkpoints CheckpointStore
	reports     ReportSink
	documents   storage.Storage
	log         logger.Logger
	metrics     *metrics.Metrics
	sleep       func(context.Context, time.Duration) error
	now         func() time.Time
}

// JobOption is a functional option for Job
type JobOption func(*Job)

// JobWithConfig sets the job knobs
func JobWithConfig(cfg JobConfig) JobOption {
	return func(j *Job) {
		j.cfg = cfg
	}
}

// JobWithBacklog sets the backlog source
func JobWithBacklog(b BacklogSource) JobOption {
	return func(j *Job) {
		j.backlog = b
	}
}

// JobWithCases sets where extracted records are written
func JobWithCases(c CaseSink) JobOption {
	return func(j *Job) {
		j.cases = c
	}
}

// JobWithFetcher sets the document fetcher
func JobWithFetcher(f Fetcher) JobOption {
	return func(j *Job) {
		j.fetcher = f
	}
}

// JobWithExtractor sets the text extractor
func JobWithExtractor(e TextExtractor) JobOption {
	return func(j *Job) {
		j.extractor = e
	}
}

// JobWithCheckpoints sets the checkpoint store
func JobWithCheckpoints(c CheckpointStore) JobOption {
	return func(j *Job) {
		j.checkpoints = c
	}
}

// JobWithReports sets the failure report sink
func JobWithReports(r ReportSink) JobOption {
	return func(j *Job) {
		j.reports = r
	}
}

// JobWithDocuments keeps a copy of each fetched document
func JobWithDocuments(s storage.Storage) JobOption {
	return func(j *Job) {
		j.documents = s
	}
}

// JobWithLogger sets the logger
func JobWithLogger(l logger.Logger) JobOption {
	return func(j *Job) {
		j.log = l
	}
}

// JobWithMetrics sets the metrics sink
func JobWithMetrics(m *metrics.Metrics) JobOption {
	return func(j *Job) {
		j.metrics = m
	}
}

// JobWithSleep replaces the blocking pause, for tests
func JobWithSleep(sleep func(context.Context, time.Duration) error) JobOption {
	return func(j *Job) {
		j.sleep = sleep
	}
}

// NewJob creates an extraction job
func NewJob(opts ...JobOption) (*Job, error) {
	j := &Job{
		cfg:   DefaultJobConfig(),
		sleep: sleepContext,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.log == nil {
		j.log = logger.NewNop()
	}

	switch {
	case j.backlog == nil:
		return nil, errors.New("extraction job: backlog source not set")
	case j.cases == nil:
		return nil, errors.New("extraction job: case sink not set")
	case j.fetcher == nil:
		return nil, errors.New("extraction job: fetcher not set")
	case j.extractor == nil:
		return nil, errors.New("extraction job: extractor not set")
	case j.checkpoints == nil:
		return nil, errors.New("extraction job: checkpoint store not set")
	case j.cfg.ChunkSize <= 0 || j.cfg.BatchSize <= 0 || j.cfg.SessionCap <= 0:
		return nil, fmt.Errorf("extraction job: chunk, batch and session sizes must be positive")
	}
	return j, nil
}

// run-scoped state
type runState struct {
	summary  *RunSummary
	offset   int
	total    int
	seenIDs  map[string]struct{}
	seenURLs map[string]struct{}
}

type batchOutcome struct {
	consumed    int
	inserted    int
	failed      []models.FailedCase
	problematic []models.FailedCase
	duplicates  []models.FailedCase // extracted but rejected by the store
	capped      bool
}

// Run processes the backlog from the checkpoint until the session cap or the end
// of the backlog. Errors returned are batch-level: the checkpoint still points at
// the last completed batch.
func (j *Job) Run(ctx context.Context) (*RunSummary, error) {
	cp, err := j.checkpoints.Load(ctx)
	if err != nil {
		return nil, err
	}

	st := &runState{
		summary:  &RunSummary{RunID: uuid.NewString()},
		seenIDs:  make(map[string]struct{}),
		seenURLs: make(map[string]struct{}),
	}
	if cp != nil {
		st.offset = cp.ResumeOffset
		st.total = cp.TotalExtracted
	}
	st.summary.StartOffset = st.offset

	log := j.log.With("run_id", st.summary.RunID, "category", j.cfg.Category)
	log.Info("extraction run starting", "resume_offset", st.offset, "total_extracted", st.total, "session_cap", j.cfg.SessionCap)

	defer func() {
		st.summary.EndOffset = st.offset
		st.summary.TotalExtracted = st.total
	}()

	for {
		chunk, err := j.backlog.FetchBacklog(ctx, j.cfg.Category, st.offset, j.cfg.ChunkSize)
		if err != nil {
			return st.summary, fmt.Errorf("fetch backlog at offset %d: %w", st.offset, err)
		}
		if len(chunk) == 0 {
			if err := j.checkpoints.Delete(ctx); err != nil {
				return st.summary, err
			}
			st.summary.Completed = true
			log.Info("backlog exhausted, checkpoint removed",
				"processed", st.summary.Processed,
				"extracted", st.summary.Extracted,
				"total_extracted", st.total,
			)
			return st.summary, nil
		}

		for start := 0; start < len(chunk); start += j.cfg.BatchSize {
			end := min(start+j.cfg.BatchSize, len(chunk))
			st.summary.Batches++
			batchNumber := st.summary.Batches

			out, err := j.processBatch(ctx, log, st, chunk[start:end])
			if err != nil {
				return st.summary, fmt.Errorf("batch %d: %w", batchNumber, err)
			}

			st.offset += out.consumed
			st.total += out.inserted
			if err := j.checkpoints.Save(ctx, models.ExtractionCheckpoint{
				ResumeOffset:   st.offset,
				TotalExtracted: st.total,
				UpdatedAt:      j.now().UTC(),
			}); err != nil {
				log.Error("checkpoint write failed, stopping run", "batch", batchNumber, "offset", st.offset, "error", err)
				return st.summary, err
			}
			if j.metrics != nil {
				j.metrics.ExtractionBatches.Inc()
				j.metrics.CheckpointOffset.Set(float64(st.offset))
			}

			j.report(ctx, log, st.summary.RunID, batchNumber, out)

			log.Info("batch complete",
				"batch", batchNumber,
				"consumed", out.consumed,
				"inserted", out.inserted,
				"failed", len(out.failed),
				"problematic", len(out.problematic),
				"duplicates", len(out.duplicates),
				"offset", st.offset,
			)

			if out.capped {
				st.summary.SessionCapReached = true
				log.Info("session cap reached", "processed", st.summary.Processed, "offset", st.offset)
				return st.summary, nil
			}

			pause := j.cfg.IdlePause
			if out.inserted > 0 {
				pause = j.cfg.BusyPause
			}
			if err := j.sleep(ctx, pause); err != nil {
				return st.summary, err
			}
		}
	}
}

func (j *Job) processBatch(ctx context.Context, log logger.Logger, st *runState, batch []models.BacklogRecord) (batchOutcome, error) {
	var out batchOutcome

	records := make([]models.CaseRecord, len(batch))
	ids := make([]string, 0, len(batch))
	urls := make([]string, 0, len(batch))
	for i, row := range batch {
		rec := service.NormalizeCase(row.Raw, i)
		if row.ID != "" {
			rec.ID = row.ID
		}
		records[i] = rec
		ids = append(ids, rec.ID)
		if len(rec.JudgmentURL) > 0 {
			urls = append(urls, rec.JudgmentURL[0])
		}
	}

	storedIDs, storedURLs, err := j.cases.ExistsByIDOrURL(ctx, ids, urls)
	if err != nil {
		return out, fmt.Errorf("existence check: %w", err)
	}

	var toInsert []models.CaseRecord
	for i := range records {
		if st.summary.Processed >= j.cfg.SessionCap {
			out.capped = true
			break
		}
		out.consumed = i + 1
		rec := records[i]

		if len(rec.JudgmentURL) == 0 {
			out.problematic = append(out.problematic, models.FailedCase{CaseID: rec.ID, Error: ErrNoDocument.Error()})
			j.count("problematic")
			st.summary.Problematic++
			continue
		}
		docURL := rec.JudgmentURL[0]

		if contains(storedIDs, rec.ID) || contains(storedURLs, docURL) || contains(st.seenIDs, rec.ID) || contains(st.seenURLs, docURL) {
			st.summary.Skipped++
			j.count("skipped")
			continue
		}
		st.seenIDs[rec.ID] = struct{}{}
		st.seenURLs[docURL] = struct{}{}
		st.summary.Processed++

		text, filePath, err := j.extractRecord(ctx, log, rec.ID, docURL)
		switch {
		case errors.Is(err, ErrFetch):
			out.failed = append(out.failed, models.FailedCase{CaseID: rec.ID, URL: docURL, Error: err.Error()})
			st.summary.Failed++
			j.count("failed")
			continue
		case err != nil:
			out.problematic = append(out.problematic, models.FailedCase{CaseID: rec.ID, URL: docURL, Error: err.Error()})
			st.summary.Problematic++
			j.count("problematic")
			continue
		}

		rec.JudgmentText = []string{text}
		if filePath != "" {
			rec.FilePath = filePath
		}
		toInsert = append(toInsert, rec)
	}
	if st.summary.Processed >= j.cfg.SessionCap {
		out.capped = true
	}

	if len(toInsert) > 0 {
		inserted, err := j.cases.InsertMany(ctx, toInsert)
		if err != nil {
			return out, fmt.Errorf("insert extracted records: %w", err)
		}
		out.inserted = inserted
		st.summary.Extracted += inserted
		if j.metrics != nil {
			j.metrics.ExtractionRecords.WithLabelValues("extracted").Add(float64(inserted))
		}
		if rejected := len(toInsert) - inserted; rejected > 0 {
			out.duplicates = j.rejectedRecords(ctx, log, toInsert, rejected)
			st.summary.Skipped += rejected
			if j.metrics != nil {
				j.metrics.ExtractionRecords.WithLabelValues("skipped").Add(float64(rejected))
			}
		}
	}
	return out, nil
}

// rejectedRecords names the queued records the store did not keep. When the
// lookup fails the rows are only counted.
func (j *Job) rejectedRecords(ctx context.Context, log logger.Logger, queued []models.CaseRecord, rejected int) []models.FailedCase {
	ids := make([]string, len(queued))
	for i, rec := range queued {
		ids[i] = rec.ID
	}
	stored, _, err := j.cases.ExistsByIDOrURL(ctx, ids, nil)
	if err != nil {
		log.Warn("could not identify records skipped on insert", "count", rejected, "error", err)
		return nil
	}

	var out []models.FailedCase
	for _, rec := range queued {
		if contains(stored, rec.ID) {
			continue
		}
		fc := models.FailedCase{CaseID: rec.ID, Error: ErrDuplicate.Error()}
		if len(rec.JudgmentURL) > 0 {
			fc.URL = rec.JudgmentURL[0]
		}
		out = append(out, fc)
	}
	log.Warn("records skipped on insert", "queued", len(queued), "rejected", rejected)
	return out
}

// extractRecord downloads and extracts one document. A parse error is retried once.
func (j *Job) extractRecord(ctx context.Context, log logger.Logger, caseID, docURL string) (string, string, error) {
	doc, err := j.fetcher.Fetch(ctx, docURL)
	if err != nil {
		log.Warn("document fetch failed", "case_id", caseID, "url", docURL, "error", err)
		return "", "", err
	}

	var text string
	for attempt := 1; ; attempt++ {
		text, err = j.extractor.Extract(ctx, *doc)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrParse) || attempt >= maxParseAttempts {
			log.Warn("document extraction failed", "case_id", caseID, "url", docURL, "attempts", attempt, "error", err)
			return "", "", err
		}
		log.Info("parse error, retrying", "case_id", caseID, "delay", j.cfg.ParseRetryDelay)
		if err := j.sleep(ctx, j.cfg.ParseRetryDelay); err != nil {
			return "", "", err
		}
	}

	text = strings.TrimSpace(text)
	chars := utf8.RuneCountInString(text)
	switch {
	case chars < j.cfg.MinTextLength:
		return "", "", fmt.Errorf("%w: %d chars", ErrTextTooShort, chars)
	case j.cfg.MaxTextLength > 0 && chars > j.cfg.MaxTextLength:
		return "", "", fmt.Errorf("%w: %d chars", ErrTextTooLarge, chars)
	}

	return text, j.storeDocument(ctx, log, caseID, doc), nil
}

// storeDocument keeps the original bytes. Failures only cost the download link.
func (j *Job) storeDocument(ctx context.Context, log logger.Logger, caseID string, doc *Document) string {
	if j.documents == nil {
		return ""
	}
	name := path.Base(doc.URL)
	if DetectKind(*doc) == KindPDF && !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	key := storage.DocumentKey(doc.Data, name)
	if err := j.documents.Put(ctx, key, doc.Data, storage.ContentType(key)); err != nil {
		log.Warn("failed to store document", "case_id", caseID, "key", key, "error", err)
		return ""
	}
	return key
}

func (j *Job) report(ctx context.Context, log logger.Logger, runID string, batchNumber int, out batchOutcome) {
	if len(out.failed) == 0 && len(out.problematic) == 0 && len(out.duplicates) == 0 {
		return
	}
	if j.reports == nil {
		log.Warn("batch had failures but no report sink is configured", "batch", batchNumber)
		return
	}

	report := models.FailureReport{
		RunID:              runID,
		BatchNumber:        batchNumber,
		Timestamp:          j.now().UTC(),
		TotalCases:         out.consumed,
		FailedCases:        len(out.failed),
		FailedCaseDetails:  out.failed,
		SkippedCaseDetails: append(append([]models.FailedCase{}, out.problematic...), out.duplicates...),
	}
	if report.FailedCaseDetails == nil {
		report.FailedCaseDetails = []models.FailedCase{}
	}
	if err := j.reports.WriteReport(ctx, report); err != nil {
		log.Error("failed to write failure report", "batch", batchNumber, "error", err)
	}
}

func (j *Job) count(outcome string) {
	if j.metrics != nil {
		j.metrics.ExtractionRecords.WithLabelValues(outcome).Inc()
	}
}

func contains(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
