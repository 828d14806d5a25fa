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

func TestInsertExecutionSuccess(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, false)

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	exec := crawler.Execution{
		StartTime:          start,
		EndTime:            start.Add(30 * time.Second),
		QuestionsProcessed: 42,
		EnglishQuestions:   30,
		ChineseQuestions:   12,
		Status:             crawler.ExecutionSuccess,
		DurationMs:         30000,
		OutputFile:         "gs://bucket/repost-questions/questions_20240601_000000.json",
	}

	mock.ExpectQuery(regexp.QuoteMeta(insertExecutionSQL)).
		WithArgs(
			exec.StartTime, exec.EndTime, exec.QuestionsProcessed,
			exec.EnglishQuestions, exec.ChineseQuestions, "success",
			pgxmock.AnyArg(), exec.DurationMs, exec.OutputFile,
		).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))

	id, err := store.InsertExecution(context.Background(), exec)
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertExecutionErrorRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, false)

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	exec := crawler.Execution{
		StartTime:    start,
		EndTime:      start.Add(time.Second),
		Status:       crawler.ExecutionError,
		ErrorMessage: "transport failure: fetch en",
		DurationMs:   1000,
	}

	// Empty output_file persists as NULL, the error message as text.
	mock.ExpectQuery(regexp.QuoteMeta(insertExecutionSQL)).
		WithArgs(
			exec.StartTime, exec.EndTime, 0, 0, 0, "error",
			exec.ErrorMessage, exec.DurationMs, pgxmock.AnyArg(),
		).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(12)))

	id, err := store.InsertExecution(context.Background(), exec)
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertExecutionUnavailable(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, false)

	mock.ExpectQuery(regexp.QuoteMeta(insertExecutionSQL)).
		WillReturnError(assertableConnErr{})

	_, err := store.InsertExecution(context.Background(), crawler.Execution{Status: crawler.ExecutionSuccess})
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrPersistenceUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type assertableConnErr struct{}

func (assertableConnErr) Error() string { return "write tcp: broken pipe" }

func TestDeleteExecutionsOlderThan(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, false)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM crawler_executions WHERE start_time < NOW() - make_interval(days => $1)`)).
		WithArgs(90).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := store.DeleteExecutionsOlderThan(context.Background(), 90)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
