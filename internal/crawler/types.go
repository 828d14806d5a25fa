// Package crawler defines the core types and pipeline for the re:Post
// question crawler.
package crawler

import (
	"fmt"
	"time"
)

// Language identifies which localized question listing a record came from.
type Language string

// Languages crawled from re:Post.
const (
	LanguageEnglish Language = "en"
	LanguageChinese Language = "zh-Hant"
)

// ParseLanguage validates a raw language code.
func ParseLanguage(code string) (Language, error) {
	switch Language(code) {
	case LanguageEnglish, LanguageChinese:
		return Language(code), nil
	default:
		return "", fmt.Errorf("%w: unknown language %q", ErrMalformedRecord, code)
	}
}

// RawQuestion is one question card as scraped from a listing page, before
// normalization. All numeric fields are kept as the source text.
type RawQuestion struct {
	URL               string    `json:"url"`
	Title             string    `json:"text"`
	Description       string    `json:"description,omitempty"`
	HasAcceptedAnswer bool      `json:"has_accepted_answer"`
	Tags              []string  `json:"tags"`
	Timestamp         string    `json:"timestamp,omitempty"`
	Language          Language  `json:"language"`
	VoteCount         string    `json:"vote_count"`
	ViewCount         string    `json:"view_count"`
	AnswerCount       string    `json:"answer_count,omitempty"`
	CrawledAt         time.Time `json:"crawled_at"`
}

// Question is the canonical record persisted for each crawled question.
// QuestionID is the natural key: the trailing path segment of the source URL,
// stable across re-crawls.
type Question struct {
	ID                int64      `json:"id,omitempty"`
	QuestionID        string     `json:"question_id"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Language          Language   `json:"language"`
	URL               string     `json:"url"`
	ViewCount         int        `json:"view_count"`
	VoteCount         int        `json:"vote_count"`
	AnswerCount       int        `json:"answers_count"`
	HasAcceptedAnswer bool       `json:"has_accepted_answer"`
	PostedAt          *time.Time `json:"posted_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at,omitempty"`
}

// Tag is a normalized label shared across questions.
type Tag struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ExecutionStatus is the terminal outcome of one pipeline invocation.
type ExecutionStatus string

// Execution statuses persisted in crawler_executions.
const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionError   ExecutionStatus = "error"
)

// Execution is the immutable audit record written once per invocation.
type Execution struct {
	ID                 int64           `json:"id,omitempty"`
	StartTime          time.Time       `json:"start_time"`
	EndTime            time.Time       `json:"end_time"`
	QuestionsProcessed int             `json:"questions_processed"`
	EnglishQuestions   int             `json:"english_questions"`
	ChineseQuestions   int             `json:"chinese_questions"`
	Status             ExecutionStatus `json:"status"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	DurationMs         int64           `json:"duration_ms"`
	OutputFile         string          `json:"output_file,omitempty"`
	CreatedAt          time.Time       `json:"created_at,omitempty"`
}

// Counts accumulates per-invocation totals. It is threaded through the batch
// loop and written once into the execution record; invocations never share
// counter state.
type Counts struct {
	Processed int
	English   int
	Chinese   int
	Malformed int

	// Skipped counts well-formed records dropped because their upsert kept
	// losing constraint races; distinct from Malformed.
	Skipped int
}

// Add records one successfully upserted question in the given language.
func (c *Counts) Add(lang Language) {
	c.Processed++
	switch lang {
	case LanguageEnglish:
		c.English++
	case LanguageChinese:
		c.Chinese++
	}
}
