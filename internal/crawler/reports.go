package crawler

import (
	"context"
	"time"
)

// QuestionWithTags is one row of the latest-questions view: a question plus
// its alphabetically concatenated tag list.
type QuestionWithTags struct {
	Question
	Tags string `json:"tags"`
}

// TagStatistic is one row of the tag-statistics view.
type TagStatistic struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	QuestionCount int    `json:"question_count"`
	EnglishCount  int    `json:"english_count"`
	ChineseCount  int    `json:"chinese_count"`
}

// DailyExecutionStat is one row of the execution-statistics view, aggregated
// per calendar day.
type DailyExecutionStat struct {
	CrawlDate       time.Time `json:"crawl_date"`
	TotalExecutions int       `json:"total_executions"`
	TotalQuestions  int       `json:"total_questions"`
	TotalEnglish    int       `json:"total_english"`
	TotalChinese    int       `json:"total_chinese"`
	AvgDurationMs   float64   `json:"avg_duration_ms"`
	ErrorCount      int       `json:"error_count"`
}

// ExecutionSummary aggregates all executions into one overview row.
type ExecutionSummary struct {
	TotalExecutions int     `json:"total_executions"`
	TotalQuestions  int     `json:"total_questions_processed"`
	AvgDurationMs   float64 `json:"avg_duration_ms"`
	MinDurationMs   int64   `json:"min_duration_ms"`
	MaxDurationMs   int64   `json:"max_duration_ms"`
	TotalErrors     int     `json:"total_errors"`
	TotalEnglish    int     `json:"total_english"`
	TotalChinese    int     `json:"total_chinese"`
}

// ReadStore exposes the derived, read-only reporting views. External
// consumers only ever read through these paths.
type ReadStore interface {
	LatestQuestions(ctx context.Context, limit int, lang Language) ([]QuestionWithTags, error)
	SearchQuestions(ctx context.Context, term string, limit int) ([]Question, error)
	TagStatistics(ctx context.Context) ([]TagStatistic, error)
	DailyStatistics(ctx context.Context, limit int) ([]DailyExecutionStat, error)
	RecentExecutions(ctx context.Context, limit int) ([]Execution, error)
	FailedExecutions(ctx context.Context, limit int) ([]Execution, error)
	ExecutionSummary(ctx context.Context) (ExecutionSummary, error)
}
