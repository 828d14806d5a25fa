package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/repost-crawler/internal/metrics"
)

// auditWriteTimeout bounds the detached execution-row insert after the
// invocation itself has finished or been cancelled.
const auditWriteTimeout = 10 * time.Second

// EngineConfig controls one crawl invocation.
type EngineConfig struct {
	Languages   []Language
	BlobPrefix  string
	ContentType string
}

// Engine runs the crawl-to-persistence pipeline: fetch, normalize, upsert,
// snapshot, and exactly one execution record per invocation.
type Engine struct {
	fetcher    Fetcher
	normalizer *Normalizer
	questions  QuestionStore
	executions ExecutionStore
	blobs      BlobStore
	publisher  Publisher
	clock      Clock
	cfg        EngineConfig
	logger     *zap.Logger
}

// NewEngine constructs an Engine. BlobStore and Publisher are optional;
// everything else is required.
func NewEngine(
	fetcher Fetcher,
	questions QuestionStore,
	executions ExecutionStore,
	blobs BlobStore,
	publisher Publisher,
	clock Clock,
	cfg EngineConfig,
	logger *zap.Logger,
) *Engine {
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = "repost-questions/"
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []Language{LanguageEnglish, LanguageChinese}
	}
	return &Engine{
		fetcher:    fetcher,
		normalizer: NewNormalizer(),
		questions:  questions,
		executions: executions,
		blobs:      blobs,
		publisher:  publisher,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run executes one full invocation. Whatever the outcome, exactly one
// execution row is written; the returned Execution mirrors it. The error is
// non-nil only when the invocation itself failed (fetch or persistence), not
// for skipped records.
func (e *Engine) Run(ctx context.Context) (Execution, error) {
	start := e.clock.Now()
	e.logger.Info("crawl started", zap.Time("start", start))

	var (
		counts Counts
		raws   []RawQuestion
		runErr error
		timer  = metrics.StartCrawlTimer()
	)

	for _, lang := range e.cfg.Languages {
		batch, err := e.fetcher.FetchQuestions(ctx, lang)
		if err != nil {
			runErr = fmt.Errorf("%w: fetch %s: %v", ErrTransport, lang, err)
			break
		}
		e.logger.Info("listing fetched",
			zap.String("language", string(lang)),
			zap.Int("records", len(batch)),
		)
		raws = append(raws, batch...)

		counts, runErr = e.upsertBatch(ctx, batch, counts)
		if runErr != nil {
			break
		}
	}

	outputFile := ""
	if runErr == nil {
		outputFile = e.writeSnapshot(ctx, raws)
	}

	end := e.clock.Now()
	exec := Execution{
		StartTime:          start,
		EndTime:            end,
		QuestionsProcessed: counts.Processed,
		EnglishQuestions:   counts.English,
		ChineseQuestions:   counts.Chinese,
		Status:             ExecutionSuccess,
		DurationMs:         end.Sub(start).Milliseconds(),
		OutputFile:         outputFile,
	}
	if runErr != nil {
		exec.Status = ExecutionError
		exec.ErrorMessage = runErr.Error()
	}

	// The audit row is written even when the invocation itself was cancelled
	// or timed out, so the insert must not inherit that cancellation.
	auditCtx, cancelAudit := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancelAudit()
	id, err := e.executions.InsertExecution(auditCtx, exec)
	if err != nil {
		e.logger.Error("execution record insert failed", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	} else {
		exec.ID = id
	}

	timer.Observe(string(exec.Status))
	metrics.ObserveExecution(string(exec.Status))
	e.publish(auditCtx, exec)

	e.logger.Info("crawl finished",
		zap.String("status", string(exec.Status)),
		zap.Int("processed", counts.Processed),
		zap.Int("english", counts.English),
		zap.Int("chinese", counts.Chinese),
		zap.Int("malformed", counts.Malformed),
		zap.Int("skipped", counts.Skipped),
		zap.Int64("duration_ms", exec.DurationMs),
	)
	return exec, runErr
}

// upsertBatch reconciles one fetched batch record by record. Malformed records
// are skipped and counted; a dead store aborts the invocation.
func (e *Engine) upsertBatch(ctx context.Context, batch []RawQuestion, counts Counts) (Counts, error) {
	for _, raw := range batch {
		q, tags, err := e.normalizer.Normalize(raw)
		if err != nil {
			counts.Malformed++
			metrics.ObserveMalformedRecord()
			e.logger.Warn("record skipped", zap.String("url", raw.URL), zap.Error(err))
			continue
		}
		lang, err := e.questions.UpsertQuestionWithTags(ctx, q, tags)
		if err != nil {
			if errors.Is(err, ErrPersistenceUnavailable) {
				return counts, err
			}
			// Constraint retries are exhausted inside the store; a stubborn
			// record is skipped, not fatal, and counted apart from malformed
			// records.
			counts.Skipped++
			metrics.ObserveSkippedRecord()
			e.logger.Warn("upsert failed", zap.String("question_id", q.QuestionID), zap.Error(err))
			continue
		}
		counts.Add(lang)
		metrics.ObserveQuestionUpserted(string(lang))
	}
	return counts, nil
}

// snapshot is the JSON artifact layout written to the blob store.
type snapshot struct {
	Metadata  snapshotMetadata `json:"metadata"`
	Questions []RawQuestion    `json:"questions"`
}

type snapshotMetadata struct {
	QuestionCount int       `json:"question_count"`
	Timestamp     time.Time `json:"timestamp"`
	Languages     []string  `json:"languages"`
}

// writeSnapshot persists the raw batch as a JSON artifact and returns its URI.
// Snapshot failures are logged, not fatal: the relational rows are already
// committed.
func (e *Engine) writeSnapshot(ctx context.Context, raws []RawQuestion) string {
	if e.blobs == nil || len(raws) == 0 {
		return ""
	}
	langs := make([]string, 0, len(e.cfg.Languages))
	for _, l := range e.cfg.Languages {
		langs = append(langs, string(l))
	}
	now := e.clock.Now()
	snap := snapshot{
		Metadata: snapshotMetadata{
			QuestionCount: len(raws),
			Timestamp:     now,
			Languages:     langs,
		},
		Questions: raws,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		e.logger.Error("snapshot marshal failed", zap.Error(err))
		return ""
	}
	path := fmt.Sprintf("%squestions_%s.json", e.cfg.BlobPrefix, now.UTC().Format("20060102_150405"))
	uri, err := e.blobs.PutObject(ctx, path, e.cfg.ContentType, data)
	if err != nil {
		e.logger.Error("snapshot upload failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	return uri
}

func (e *Engine) publish(ctx context.Context, exec Execution) {
	if e.publisher == nil || exec.ID == 0 {
		return
	}
	if _, err := e.publisher.Publish(ctx, exec); err != nil {
		e.logger.Warn("execution publish failed", zap.Int64("execution_id", exec.ID), zap.Error(err))
	}
}
