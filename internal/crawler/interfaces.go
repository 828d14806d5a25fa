package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves the raw question cards for one localized listing.
type Fetcher interface {
	FetchQuestions(ctx context.Context, lang Language) ([]RawQuestion, error)
}

// QuestionStore persists canonical questions and their tag associations.
// UpsertQuestionWithTags performs the whole per-question reconciliation
// (question upsert, tag inserts, association diff) as one atomic unit and
// returns the language the question is counted under.
type QuestionStore interface {
	UpsertQuestionWithTags(ctx context.Context, q Question, tags []string) (Language, error)
}

// ExecutionStore writes the per-invocation audit record.
type ExecutionStore interface {
	InsertExecution(ctx context.Context, e Execution) (int64, error)
}

// BlobStore writes a raw snapshot artifact and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes execution-completed notifications downstream.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Clock returns the current time (swapped out in tests).
type Clock interface {
	Now() time.Time
}
