package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/repost-crawler/internal/crawler"
)

var questionColumns = []string{
	"id", "question_id", "title", "description", "language", "url",
	"view_count", "vote_count", "answers_count", "has_accepted_answer",
	"posted_at", "created_at", "updated_at",
}

func TestLatestQuestions(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, false)

	posted := time.Date(2024, 5, 30, 8, 0, 0, 0, time.UTC)
	created := time.Date(2024, 5, 30, 9, 0, 0, 0, time.UTC)
	cols := append(append([]string{}, questionColumns...), "tags")
	rows := pgxmock.NewRows(cols).
		AddRow(
			int64(1), "QUabc", "How do I rotate IAM keys?", strPtr("details"), crawler.LanguageEnglish,
			"https://repost.aws/questions/QUabc", 120, 4, 2, true,
			&posted, created, created, "iam, security",
		).
		AddRow(
			int64(2), "QUdef", "S3 lifecycle rules", nil, crawler.LanguageChinese,
			"https://repost.aws/zh-Hant/questions/QUdef", 5, 0, 0, false,
			nil, created, created, "",
		)

	mock.ExpectQuery(regexp.QuoteMeta(latestQuestionsSQL)).
		WithArgs(10).
		WillReturnRows(rows)

	got, err := store.LatestQuestions(context.Background(), 10, "")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "QUabc", got[0].QuestionID)
	assert.Equal(t, "iam, security", got[0].Tags)
	require.NotNil(t, got[0].PostedAt)
	assert.Equal(t, posted, *got[0].PostedAt)

	assert.Equal(t, "QUdef", got[1].QuestionID)
	assert.Empty(t, got[1].Description)
	assert.Nil(t, got[1].PostedAt)
	assert.Empty(t, got[1].Tags)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestQuestionsByLanguage(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, false)

	cols := append(append([]string{}, questionColumns...), "tags")
	mock.ExpectQuery(regexp.QuoteMeta(latestQuestionsByLangSQL)).
		WithArgs(5, "zh-Hant").
		WillReturnRows(pgxmock.NewRows(cols))

	got, err := store.LatestQuestions(context.Background(), 5, crawler.LanguageChinese)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchQuestions(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, false)

	created := time.Date(2024, 5, 30, 9, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows(questionColumns).
		AddRow(
			int64(1), "QUabc", "Lambda cold starts", nil, crawler.LanguageEnglish,
			"https://repost.aws/questions/QUabc", 10, 1, 0, false,
			nil, created, created,
		)

	mock.ExpectQuery(regexp.QuoteMeta(searchQuestionsSQL)).
		WithArgs("%lambda%", 20).
		WillReturnRows(rows)

	got, err := store.SearchQuestions(context.Background(), "lambda", 20)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Lambda cold starts", got[0].Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTagStatistics(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, false)

	rows := pgxmock.NewRows([]string{"id", "name", "question_count", "english_count", "chinese_count"}).
		AddRow(int64(1), "iam", 12, 10, 2).
		AddRow(int64(2), "s3", 4, 4, 0)

	mock.ExpectQuery(regexp.QuoteMeta(tagStatisticsSQL)).WillReturnRows(rows)

	got, err := store.TagStatistics(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, crawler.TagStatistic{ID: 1, Name: "iam", QuestionCount: 12, EnglishCount: 10, ChineseCount: 2}, got[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDailyStatistics(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, false)

	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"crawl_date", "total_executions", "total_questions",
		"total_english", "total_chinese", "avg_duration_ms", "error_count",
	}).AddRow(day, 4, 200, 150, 50, 31250.5, 1)

	mock.ExpectQuery(regexp.QuoteMeta(dailyStatisticsSQL)).
		WithArgs(30).
		WillReturnRows(rows)

	got, err := store.DailyStatistics(context.Background(), 30)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, day, got[0].CrawlDate)
	assert.Equal(t, 4, got[0].TotalExecutions)
	assert.Equal(t, 1, got[0].ErrorCount)
	assert.InDelta(t, 31250.5, got[0].AvgDurationMs, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var executionColumns = []string{
	"id", "start_time", "end_time", "questions_processed",
	"english_questions", "chinese_questions", "status",
	"error_message", "duration_ms", "output_file", "created_at",
}

func TestRecentExecutions(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, false)

	start := time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)
	output := "gs://bucket/repost-questions/questions_20240601_060000.json"
	rows := pgxmock.NewRows(executionColumns).
		AddRow(int64(2), start, start.Add(30*time.Second), 42, 30, 12, crawler.ExecutionSuccess, nil, int64(30000), &output, start).
		AddRow(int64(1), start.Add(-6*time.Hour), start.Add(-6*time.Hour+time.Second), 0, 0, 0, crawler.ExecutionError, strPtr("fetch failed"), int64(1000), nil, start)

	mock.ExpectQuery(regexp.QuoteMeta(recentExecutionsSQL)).
		WithArgs(10).
		WillReturnRows(rows)

	got, err := store.RecentExecutions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, crawler.ExecutionSuccess, got[0].Status)
	assert.Equal(t, output, got[0].OutputFile)
	assert.Empty(t, got[0].ErrorMessage)

	assert.Equal(t, crawler.ExecutionError, got[1].Status)
	assert.Equal(t, "fetch failed", got[1].ErrorMessage)
	assert.Empty(t, got[1].OutputFile)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailedExecutions(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, false)

	mock.ExpectQuery(regexp.QuoteMeta(failedExecutionsSQL)).
		WithArgs(5).
		WillReturnRows(pgxmock.NewRows(executionColumns))

	got, err := store.FailedExecutions(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionSummary(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, false)

	rows := pgxmock.NewRows([]string{
		"total_executions", "total_questions_processed", "avg_duration_ms",
		"min_duration_ms", "max_duration_ms", "total_errors",
		"total_english", "total_chinese",
	}).AddRow(120, 4800, 29000.25, int64(12000), int64(61000), 3, 3600, 1200)

	mock.ExpectQuery(regexp.QuoteMeta(executionSummarySQL)).WillReturnRows(rows)

	got, err := store.ExecutionSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120, got.TotalExecutions)
	assert.Equal(t, 4800, got.TotalQuestions)
	assert.Equal(t, 3, got.TotalErrors)
	assert.InDelta(t, 29000.25, got.AvgDurationMs, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func strPtr(s string) *string {
	return &s
}
