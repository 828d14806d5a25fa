package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/repost-crawler/internal/crawler"
)

// maxUpsertAttempts bounds the local converge-and-retry loop for writes that
// lose a uniqueness race against a concurrent invocation.
const maxUpsertAttempts = 3

const upsertQuestionSQL = `
INSERT INTO questions (
	question_id, title, description, language, url,
	view_count, vote_count, answers_count, has_accepted_answer, posted_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (question_id) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	language = EXCLUDED.language,
	url = EXCLUDED.url,
	view_count = EXCLUDED.view_count,
	vote_count = EXCLUDED.vote_count,
	answers_count = EXCLUDED.answers_count,
	has_accepted_answer = EXCLUDED.has_accepted_answer,
	posted_at = EXCLUDED.posted_at,
	updated_at = NOW()
RETURNING id, language`

// upsertQuestionKeepLangSQL leaves the first-crawled language in place; the
// returned language is then the stored one, which per-language counts follow.
const upsertQuestionKeepLangSQL = `
INSERT INTO questions (
	question_id, title, description, language, url,
	view_count, vote_count, answers_count, has_accepted_answer, posted_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (question_id) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	url = EXCLUDED.url,
	view_count = EXCLUDED.view_count,
	vote_count = EXCLUDED.vote_count,
	answers_count = EXCLUDED.answers_count,
	has_accepted_answer = EXCLUDED.has_accepted_answer,
	posted_at = EXCLUDED.posted_at,
	updated_at = NOW()
RETURNING id, language`

const upsertTagSQL = `
INSERT INTO tags (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id`

const selectQuestionTagIDsSQL = `SELECT tag_id FROM question_tags WHERE question_id = $1`

const deleteQuestionTagsSQL = `DELETE FROM question_tags WHERE question_id = $1 AND tag_id = ANY($2)`

const insertQuestionTagSQL = `
INSERT INTO question_tags (question_id, tag_id) VALUES ($1,$2)
ON CONFLICT (question_id, tag_id) DO NOTHING`

// UpsertQuestionWithTags reconciles one question against the store as a
// single transaction: upsert by natural key, insert-if-missing tags, and diff
// the association set so it equals exactly the latest crawl's tag set. Lost
// uniqueness races are retried locally up to maxUpsertAttempts.
func (s *Store) UpsertQuestionWithTags(
	ctx context.Context,
	q crawler.Question,
	tags []string,
) (crawler.Language, error) {
	var lastErr error
	for attempt := 1; attempt <= maxUpsertAttempts; attempt++ {
		lang, err := s.applyQuestion(ctx, q, tags)
		if err == nil {
			return lang, nil
		}
		lastErr = err
		if !errors.Is(err, crawler.ErrConstraintViolation) {
			return "", err
		}
		s.logger.Debug("upsert lost a race, retrying",
			zap.String("question_id", q.QuestionID),
			zap.Int("attempt", attempt),
		)
	}
	return "", fmt.Errorf("upsert question %s: %w", q.QuestionID, lastErr)
}

func (s *Store) applyQuestion(
	ctx context.Context,
	q crawler.Question,
	tags []string,
) (crawler.Language, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin: %w", classify(err))
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback(ctx)
	}()

	query := upsertQuestionSQL
	if s.preserveLanguage {
		query = upsertQuestionKeepLangSQL
	}
	var (
		questionID int64
		storedLang string
	)
	err = tx.QueryRow(ctx, query,
		q.QuestionID,
		q.Title,
		nullString(q.Description),
		string(q.Language),
		q.URL,
		q.ViewCount,
		q.VoteCount,
		q.AnswerCount,
		q.HasAcceptedAnswer,
		q.PostedAt,
	).Scan(&questionID, &storedLang)
	if err != nil {
		return "", fmt.Errorf("upsert question: %w", classify(err))
	}

	desired := make([]int64, 0, len(tags))
	for _, name := range tags {
		var tagID int64
		if err := tx.QueryRow(ctx, upsertTagSQL, name).Scan(&tagID); err != nil {
			return "", fmt.Errorf("upsert tag %q: %w", name, classify(err))
		}
		desired = append(desired, tagID)
	}

	if err := s.reconcileTags(ctx, tx, questionID, desired); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", classify(err))
	}

	lang := crawler.Language(storedLang)
	if !s.preserveLanguage {
		lang = q.Language
	}
	return lang, nil
}

// reconcileTags diffs the desired tag id set against the stored one:
// additions = desired − current, removals = current − desired.
func (s *Store) reconcileTags(ctx context.Context, tx pgx.Tx, questionID int64, desired []int64) error {
	rows, err := tx.Query(ctx, selectQuestionTagIDsSQL, questionID)
	if err != nil {
		return fmt.Errorf("load current tags: %w", classify(err))
	}
	current := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan current tag: %w", classify(err))
		}
		current[id] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate current tags: %w", classify(err))
	}

	desiredSet := make(map[int64]struct{}, len(desired))
	for _, id := range desired {
		desiredSet[id] = struct{}{}
	}

	removals := make([]int64, 0)
	for id := range current {
		if _, ok := desiredSet[id]; !ok {
			removals = append(removals, id)
		}
	}
	if len(removals) > 0 {
		if _, err := tx.Exec(ctx, deleteQuestionTagsSQL, questionID, removals); err != nil {
			return fmt.Errorf("remove stale tags: %w", classify(err))
		}
	}

	for _, id := range desired {
		if _, ok := current[id]; ok {
			continue
		}
		if _, err := tx.Exec(ctx, insertQuestionTagSQL, questionID, id); err != nil {
			return fmt.Errorf("link tag %d: %w", id, classify(err))
		}
	}
	return nil
}

// DeleteQuestion removes a question by natural key; association rows cascade.
func (s *Store) DeleteQuestion(ctx context.Context, questionID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM questions WHERE question_id = $1`, questionID)
	if err != nil {
		return 0, fmt.Errorf("delete question: %w", classify(err))
	}
	return tag.RowsAffected(), nil
}

// DeleteQuestionsOlderThan prunes questions whose post time predates the
// retention window.
func (s *Store) DeleteQuestionsOlderThan(ctx context.Context, days int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM questions WHERE posted_at < NOW() - make_interval(days => $1)`, days)
	if err != nil {
		return 0, fmt.Errorf("delete old questions: %w", classify(err))
	}
	return tag.RowsAffected(), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
