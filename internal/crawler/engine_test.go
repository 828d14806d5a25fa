package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	batches map[Language][]RawQuestion
	errs    map[Language]error
	calls   []Language
}

func (f *fakeFetcher) FetchQuestions(_ context.Context, lang Language) ([]RawQuestion, error) {
	f.calls = append(f.calls, lang)
	if err := f.errs[lang]; err != nil {
		return nil, err
	}
	return f.batches[lang], nil
}

type upsertCall struct {
	question Question
	tags     []string
}

type fakeQuestionStore struct {
	calls []upsertCall
	errFn func(q Question) error
}

func (s *fakeQuestionStore) UpsertQuestionWithTags(_ context.Context, q Question, tags []string) (Language, error) {
	s.calls = append(s.calls, upsertCall{question: q, tags: tags})
	if s.errFn != nil {
		if err := s.errFn(q); err != nil {
			return "", err
		}
	}
	return q.Language, nil
}

type fakeExecutionStore struct {
	inserted []Execution
	err      error
}

func (s *fakeExecutionStore) InsertExecution(_ context.Context, e Execution) (int64, error) {
	s.inserted = append(s.inserted, e)
	if s.err != nil {
		return 0, s.err
	}
	return int64(len(s.inserted)), nil
}

type fakeBlobStore struct {
	paths []string
	data  [][]byte
	err   error
}

func (s *fakeBlobStore) PutObject(_ context.Context, path, _ string, data []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.paths = append(s.paths, path)
	s.data = append(s.data, data)
	return "memory://" + path, nil
}

type fakePublisher struct {
	payloads []any
}

func (p *fakePublisher) Publish(_ context.Context, payload any) (string, error) {
	p.payloads = append(p.payloads, payload)
	return "msg-1", nil
}

// steppingClock advances a fixed amount per Now call so durations are
// deterministic.
type steppingClock struct {
	current time.Time
	step    time.Duration
}

func (c *steppingClock) Now() time.Time {
	now := c.current
	c.current = c.current.Add(c.step)
	return now
}

func rawFor(lang Language, id string) RawQuestion {
	return RawQuestion{
		URL:      "https://repost.aws/questions/" + id,
		Title:    "question " + id,
		Language: lang,
		Tags:     []string{"Tag A"},
	}
}

func newTestEngine(
	f Fetcher,
	qs QuestionStore,
	es ExecutionStore,
	blobs BlobStore,
	pub Publisher,
) *Engine {
	return NewEngine(f, qs, es, blobs, pub,
		&steppingClock{current: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), step: time.Second},
		EngineConfig{Languages: []Language{LanguageEnglish, LanguageChinese}},
		zap.NewNop(),
	)
}

func TestEngineRunSuccess(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{batches: map[Language][]RawQuestion{
		LanguageEnglish: {
			rawFor(LanguageEnglish, "QU1"),
			rawFor(LanguageEnglish, "QU2"),
			{URL: "https://repost.aws/questions/QU3", Language: LanguageEnglish}, // no title
		},
		LanguageChinese: {
			rawFor(LanguageChinese, "QU4"),
		},
	}}
	questions := &fakeQuestionStore{}
	executions := &fakeExecutionStore{}
	blobs := &fakeBlobStore{}
	pub := &fakePublisher{}

	exec, err := newTestEngine(fetcher, questions, executions, blobs, pub).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Language{LanguageEnglish, LanguageChinese}, fetcher.calls)
	assert.Len(t, questions.calls, 3)

	assert.Equal(t, ExecutionSuccess, exec.Status)
	assert.Equal(t, 3, exec.QuestionsProcessed)
	assert.Equal(t, 2, exec.EnglishQuestions)
	assert.Equal(t, 1, exec.ChineseQuestions)
	assert.Empty(t, exec.ErrorMessage)
	assert.Equal(t, int64(1), exec.ID)
	assert.Positive(t, exec.DurationMs)

	require.Len(t, executions.inserted, 1)
	assert.Equal(t, exec.QuestionsProcessed, executions.inserted[0].QuestionsProcessed)

	require.Len(t, blobs.paths, 1)
	assert.True(t, strings.HasPrefix(blobs.paths[0], "repost-questions/questions_"))
	assert.True(t, strings.HasSuffix(blobs.paths[0], ".json"))
	assert.Equal(t, "memory://"+blobs.paths[0], exec.OutputFile)

	var snap struct {
		Metadata struct {
			QuestionCount int      `json:"question_count"`
			Languages     []string `json:"languages"`
		} `json:"metadata"`
		Questions []RawQuestion `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(blobs.data[0], &snap))
	assert.Equal(t, []string{"en", "zh-Hant"}, snap.Metadata.Languages)
	assert.Len(t, snap.Questions, 4)
	// The artifact count describes the array it sits next to, not the subset
	// that survived normalization.
	assert.Equal(t, len(snap.Questions), snap.Metadata.QuestionCount)

	require.Len(t, pub.payloads, 1)
	published, ok := pub.payloads[0].(Execution)
	require.True(t, ok)
	assert.Equal(t, exec.ID, published.ID)
}

func TestEngineRunFetchFailure(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		batches: map[Language][]RawQuestion{
			LanguageEnglish: {rawFor(LanguageEnglish, "QU1")},
		},
		errs: map[Language]error{LanguageChinese: errors.New("connection reset")},
	}
	questions := &fakeQuestionStore{}
	executions := &fakeExecutionStore{}
	blobs := &fakeBlobStore{}

	exec, err := newTestEngine(fetcher, questions, executions, blobs, nil).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)

	assert.Equal(t, ExecutionError, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "connection reset")
	// The first language was already persisted before the failure.
	assert.Equal(t, 1, exec.QuestionsProcessed)
	assert.Equal(t, 1, exec.EnglishQuestions)

	// The audit row is still written, the snapshot is not.
	require.Len(t, executions.inserted, 1)
	assert.Equal(t, ExecutionError, executions.inserted[0].Status)
	assert.Empty(t, blobs.paths)
	assert.Empty(t, exec.OutputFile)
}

func TestEngineRunStoreUnavailable(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{batches: map[Language][]RawQuestion{
		LanguageEnglish: {rawFor(LanguageEnglish, "QU1"), rawFor(LanguageEnglish, "QU2")},
		LanguageChinese: {rawFor(LanguageChinese, "QU3")},
	}}
	questions := &fakeQuestionStore{errFn: func(q Question) error {
		if q.QuestionID == "QU2" {
			return ErrPersistenceUnavailable
		}
		return nil
	}}
	executions := &fakeExecutionStore{}

	exec, err := newTestEngine(fetcher, questions, executions, nil, nil).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistenceUnavailable)

	// The invocation aborts: the second language is never fetched.
	assert.Equal(t, []Language{LanguageEnglish}, fetcher.calls)
	assert.Equal(t, ExecutionError, exec.Status)
	assert.Equal(t, 1, exec.QuestionsProcessed)
	require.Len(t, executions.inserted, 1)
}

func TestEngineRunSkipsStubbornRecords(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{batches: map[Language][]RawQuestion{
		LanguageEnglish: {rawFor(LanguageEnglish, "QU1"), rawFor(LanguageEnglish, "QU2")},
		LanguageChinese: {},
	}}
	questions := &fakeQuestionStore{errFn: func(q Question) error {
		if q.QuestionID == "QU1" {
			return errors.New("upsert question QU1: " + ErrConstraintViolation.Error())
		}
		return nil
	}}
	executions := &fakeExecutionStore{}

	exec, err := newTestEngine(fetcher, questions, executions, nil, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ExecutionSuccess, exec.Status)
	assert.Equal(t, 1, exec.QuestionsProcessed)
	require.Len(t, executions.inserted, 1)
}

func TestUpsertBatchCountsSkippedApartFromMalformed(t *testing.T) {
	t.Parallel()

	questions := &fakeQuestionStore{errFn: func(q Question) error {
		if q.QuestionID == "QU1" {
			return fmt.Errorf("upsert question QU1: %w", ErrConstraintViolation)
		}
		return nil
	}}
	engine := newTestEngine(&fakeFetcher{}, questions, &fakeExecutionStore{}, nil, nil)

	// QU1 exhausts its retries, QU2 has no title, QU3 lands.
	batch := []RawQuestion{
		rawFor(LanguageEnglish, "QU1"),
		{URL: "https://repost.aws/questions/QU2", Language: LanguageEnglish},
		rawFor(LanguageEnglish, "QU3"),
	}
	counts, err := engine.upsertBatch(context.Background(), batch, Counts{})
	require.NoError(t, err)

	assert.Equal(t, 1, counts.Processed)
	assert.Equal(t, 1, counts.Malformed)
	assert.Equal(t, 1, counts.Skipped)
}

type ctxSensitiveFetcher struct{}

func (ctxSensitiveFetcher) FetchQuestions(ctx context.Context, _ Language) ([]RawQuestion, error) {
	return nil, ctx.Err()
}

// ctxRecordingExecutionStore behaves like a real store: a finished context
// means no write can happen.
type ctxRecordingExecutionStore struct {
	gotCtxErr error
	inserted  []Execution
}

func (s *ctxRecordingExecutionStore) InsertExecution(ctx context.Context, e Execution) (int64, error) {
	s.gotCtxErr = ctx.Err()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.inserted = append(s.inserted, e)
	return int64(len(s.inserted)), nil
}

func TestEngineRunCancelledInvocationStillWritesAuditRow(t *testing.T) {
	t.Parallel()

	executions := &ctxRecordingExecutionStore{}
	engine := newTestEngine(ctxSensitiveFetcher{}, &fakeQuestionStore{}, executions, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec, err := engine.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)

	// The audit write is detached from the invocation's cancellation.
	require.NoError(t, executions.gotCtxErr)
	require.Len(t, executions.inserted, 1)
	assert.Equal(t, ExecutionError, executions.inserted[0].Status)
	assert.Equal(t, int64(1), exec.ID)
}

func TestEngineRunExecutionInsertFailure(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{batches: map[Language][]RawQuestion{
		LanguageEnglish: {rawFor(LanguageEnglish, "QU1")},
		LanguageChinese: {},
	}}
	executions := &fakeExecutionStore{err: ErrPersistenceUnavailable}
	pub := &fakePublisher{}

	exec, err := newTestEngine(fetcher, &fakeQuestionStore{}, executions, nil, pub).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistenceUnavailable)

	// Insert was attempted exactly once; without a row id nothing is published.
	require.Len(t, executions.inserted, 1)
	assert.Zero(t, exec.ID)
	assert.Empty(t, pub.payloads)
}

func TestEngineRunIdempotentRerun(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{batches: map[Language][]RawQuestion{
		LanguageEnglish: {rawFor(LanguageEnglish, "QU1")},
		LanguageChinese: {},
	}}
	questions := &fakeQuestionStore{}
	executions := &fakeExecutionStore{}
	engine := newTestEngine(fetcher, questions, executions, nil, nil)

	first, err := engine.Run(context.Background())
	require.NoError(t, err)
	second, err := engine.Run(context.Background())
	require.NoError(t, err)

	// Each invocation writes its own audit row and re-upserts the same key.
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	require.Len(t, executions.inserted, 2)
	require.Len(t, questions.calls, 2)
	assert.Equal(t, questions.calls[0].question.QuestionID, questions.calls[1].question.QuestionID)
	assert.Equal(t, []string{"tag a"}, questions.calls[1].tags)
}
