package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/repost-crawler/internal/crawler"
)

const latestQuestionsSQL = `
SELECT q.id, q.question_id, q.title, q.description, q.language, q.url,
	q.view_count, q.vote_count, q.answers_count, q.has_accepted_answer,
	q.posted_at, q.created_at, q.updated_at,
	COALESCE(string_agg(t.name, ', ' ORDER BY t.name), '') AS tags
FROM questions q
LEFT JOIN question_tags qt ON q.id = qt.question_id
LEFT JOIN tags t ON qt.tag_id = t.id
GROUP BY q.id
ORDER BY q.posted_at DESC NULLS LAST, q.id DESC
LIMIT $1`

const latestQuestionsByLangSQL = `
SELECT q.id, q.question_id, q.title, q.description, q.language, q.url,
	q.view_count, q.vote_count, q.answers_count, q.has_accepted_answer,
	q.posted_at, q.created_at, q.updated_at,
	COALESCE(string_agg(t.name, ', ' ORDER BY t.name), '') AS tags
FROM questions q
LEFT JOIN question_tags qt ON q.id = qt.question_id
LEFT JOIN tags t ON qt.tag_id = t.id
WHERE q.language = $2
GROUP BY q.id
ORDER BY q.posted_at DESC NULLS LAST, q.id DESC
LIMIT $1`

// LatestQuestions returns one row per question with its alphabetically
// concatenated tag list, newest post first. lang narrows to one listing when
// non-empty.
func (s *Store) LatestQuestions(
	ctx context.Context,
	limit int,
	lang crawler.Language,
) ([]crawler.QuestionWithTags, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if lang == "" {
		rows, err = s.pool.Query(ctx, latestQuestionsSQL, limit)
	} else {
		rows, err = s.pool.Query(ctx, latestQuestionsByLangSQL, limit, string(lang))
	}
	if err != nil {
		return nil, fmt.Errorf("latest questions: %w", classify(err))
	}
	defer rows.Close()

	out := make([]crawler.QuestionWithTags, 0, limit)
	for rows.Next() {
		var q crawler.QuestionWithTags
		if err := scanQuestion(rows, &q.Question, &q.Tags); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("latest questions rows: %w", classify(err))
	}
	return out, nil
}

const searchQuestionsSQL = `
SELECT q.id, q.question_id, q.title, q.description, q.language, q.url,
	q.view_count, q.vote_count, q.answers_count, q.has_accepted_answer,
	q.posted_at, q.created_at, q.updated_at
FROM questions q
WHERE q.title ILIKE $1 OR q.description ILIKE $1
ORDER BY q.posted_at DESC NULLS LAST, q.id DESC
LIMIT $2`

// SearchQuestions matches the term against titles and descriptions.
func (s *Store) SearchQuestions(ctx context.Context, term string, limit int) ([]crawler.Question, error) {
	rows, err := s.pool.Query(ctx, searchQuestionsSQL, "%"+term+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search questions: %w", classify(err))
	}
	defer rows.Close()

	out := make([]crawler.Question, 0, limit)
	for rows.Next() {
		var q crawler.Question
		if err := scanQuestion(rows, &q, nil); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search questions rows: %w", classify(err))
	}
	return out, nil
}

func scanQuestion(rows pgx.Rows, q *crawler.Question, tags *string) error {
	var (
		description *string
		postedAt    *time.Time
	)
	dest := []any{
		&q.ID, &q.QuestionID, &q.Title, &description, &q.Language, &q.URL,
		&q.ViewCount, &q.VoteCount, &q.AnswerCount, &q.HasAcceptedAnswer,
		&postedAt, &q.CreatedAt, &q.UpdatedAt,
	}
	if tags != nil {
		dest = append(dest, tags)
	}
	if err := rows.Scan(dest...); err != nil {
		return fmt.Errorf("scan question: %w", classify(err))
	}
	if description != nil {
		q.Description = *description
	}
	q.PostedAt = postedAt
	return nil
}

const tagStatisticsSQL = `
SELECT t.id, t.name,
	COUNT(qt.question_id) AS question_count,
	COUNT(qt.question_id) FILTER (WHERE q.language = 'en') AS english_count,
	COUNT(qt.question_id) FILTER (WHERE q.language = 'zh-Hant') AS chinese_count
FROM tags t
LEFT JOIN question_tags qt ON t.id = qt.tag_id
LEFT JOIN questions q ON qt.question_id = q.id
GROUP BY t.id, t.name
ORDER BY question_count DESC, t.name`

// TagStatistics returns per-tag totals with per-language sub-counts,
// descending by total.
func (s *Store) TagStatistics(ctx context.Context) ([]crawler.TagStatistic, error) {
	rows, err := s.pool.Query(ctx, tagStatisticsSQL)
	if err != nil {
		return nil, fmt.Errorf("tag statistics: %w", classify(err))
	}
	defer rows.Close()

	var out []crawler.TagStatistic
	for rows.Next() {
		var t crawler.TagStatistic
		if err := rows.Scan(&t.ID, &t.Name, &t.QuestionCount, &t.EnglishCount, &t.ChineseCount); err != nil {
			return nil, fmt.Errorf("scan tag statistic: %w", classify(err))
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tag statistics rows: %w", classify(err))
	}
	return out, nil
}

const dailyStatisticsSQL = `
SELECT DATE(start_time) AS crawl_date,
	COUNT(*) AS total_executions,
	COALESCE(SUM(questions_processed), 0) AS total_questions,
	COALESCE(SUM(english_questions), 0) AS total_english,
	COALESCE(SUM(chinese_questions), 0) AS total_chinese,
	COALESCE(AVG(duration_ms), 0) AS avg_duration_ms,
	COUNT(*) FILTER (WHERE status = 'error') AS error_count
FROM crawler_executions
GROUP BY DATE(start_time)
ORDER BY crawl_date DESC
LIMIT $1`

// DailyStatistics aggregates executions per calendar day, newest first.
func (s *Store) DailyStatistics(ctx context.Context, limit int) ([]crawler.DailyExecutionStat, error) {
	rows, err := s.pool.Query(ctx, dailyStatisticsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("daily statistics: %w", classify(err))
	}
	defer rows.Close()

	var out []crawler.DailyExecutionStat
	for rows.Next() {
		var d crawler.DailyExecutionStat
		err := rows.Scan(
			&d.CrawlDate, &d.TotalExecutions, &d.TotalQuestions,
			&d.TotalEnglish, &d.TotalChinese, &d.AvgDurationMs, &d.ErrorCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan daily statistic: %w", classify(err))
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("daily statistics rows: %w", classify(err))
	}
	return out, nil
}

const recentExecutionsSQL = `
SELECT id, start_time, end_time, questions_processed,
	english_questions, chinese_questions, status,
	error_message, duration_ms, output_file, created_at
FROM crawler_executions
ORDER BY start_time DESC
LIMIT $1`

const failedExecutionsSQL = `
SELECT id, start_time, end_time, questions_processed,
	english_questions, chinese_questions, status,
	error_message, duration_ms, output_file, created_at
FROM crawler_executions
WHERE status = 'error'
ORDER BY start_time DESC
LIMIT $1`

// RecentExecutions lists the most recent audit rows.
func (s *Store) RecentExecutions(ctx context.Context, limit int) ([]crawler.Execution, error) {
	return s.listExecutions(ctx, recentExecutionsSQL, limit)
}

// FailedExecutions lists the most recent error-status audit rows.
func (s *Store) FailedExecutions(ctx context.Context, limit int) ([]crawler.Execution, error) {
	return s.listExecutions(ctx, failedExecutionsSQL, limit)
}

func (s *Store) listExecutions(ctx context.Context, query string, limit int) ([]crawler.Execution, error) {
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", classify(err))
	}
	defer rows.Close()

	out := make([]crawler.Execution, 0, limit)
	for rows.Next() {
		var (
			e          crawler.Execution
			errMsg     *string
			outputFile *string
		)
		err := rows.Scan(
			&e.ID, &e.StartTime, &e.EndTime, &e.QuestionsProcessed,
			&e.EnglishQuestions, &e.ChineseQuestions, &e.Status,
			&errMsg, &e.DurationMs, &outputFile, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", classify(err))
		}
		if errMsg != nil {
			e.ErrorMessage = *errMsg
		}
		if outputFile != nil {
			e.OutputFile = *outputFile
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list executions rows: %w", classify(err))
	}
	return out, nil
}

const executionSummarySQL = `
SELECT COUNT(*) AS total_executions,
	COALESCE(SUM(questions_processed), 0) AS total_questions_processed,
	COALESCE(AVG(duration_ms), 0) AS avg_duration_ms,
	COALESCE(MIN(duration_ms), 0) AS min_duration_ms,
	COALESCE(MAX(duration_ms), 0) AS max_duration_ms,
	COUNT(*) FILTER (WHERE status = 'error') AS total_errors,
	COALESCE(SUM(english_questions), 0) AS total_english,
	COALESCE(SUM(chinese_questions), 0) AS total_chinese
FROM crawler_executions`

// ExecutionSummary aggregates every execution into a single overview row.
func (s *Store) ExecutionSummary(ctx context.Context) (crawler.ExecutionSummary, error) {
	var sum crawler.ExecutionSummary
	err := s.pool.QueryRow(ctx, executionSummarySQL).Scan(
		&sum.TotalExecutions, &sum.TotalQuestions, &sum.AvgDurationMs,
		&sum.MinDurationMs, &sum.MaxDurationMs, &sum.TotalErrors,
		&sum.TotalEnglish, &sum.TotalChinese,
	)
	if err != nil {
		return crawler.ExecutionSummary{}, fmt.Errorf("execution summary: %w", classify(err))
	}
	return sum, nil
}
