package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/repost-crawler/internal/crawler"
)

const insertExecutionSQL = `
INSERT INTO crawler_executions (
	start_time, end_time, questions_processed,
	english_questions, chinese_questions, status,
	error_message, duration_ms, output_file
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING id`

// InsertExecution writes the immutable audit row for one invocation and
// returns its id. Execution rows are never updated afterwards.
func (s *Store) InsertExecution(ctx context.Context, e crawler.Execution) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, insertExecutionSQL,
		e.StartTime,
		e.EndTime,
		e.QuestionsProcessed,
		e.EnglishQuestions,
		e.ChineseQuestions,
		string(e.Status),
		nullString(e.ErrorMessage),
		e.DurationMs,
		nullString(e.OutputFile),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert execution: %w", classify(err))
	}
	return id, nil
}

// DeleteExecutionsOlderThan prunes audit rows past the retention window.
func (s *Store) DeleteExecutionsOlderThan(ctx context.Context, days int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM crawler_executions WHERE start_time < NOW() - make_interval(days => $1)`, days)
	if err != nil {
		return 0, fmt.Errorf("delete old executions: %w", classify(err))
	}
	return tag.RowsAffected(), nil
}
