package database

import (
	"context"

	"github.com/example/estbot/pkg/models"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// AnswerRepository counts quiz answers per subscriber and word
type AnswerRepository struct {
	db *sqlx.DB
}

// NewAnswerRepository creates a new repository instance
func NewAnswerRepository(db *sqlx.DB) *AnswerRepository {
	return &AnswerRepository{db: db}
}

// RecordAnswer increments the correct or incorrect counter
func (r *AnswerRepository) RecordAnswer(ctx context.Context, subscriberID, wordID int64, correct bool) error {
	correctInc, incorrectInc := 0, 1
	if correct {
		correctInc, incorrectInc = 1, 0
	}
	query := r.db.Rebind(`
		INSERT INTO answer_stats (subscriber_id, word_id, correct, incorrect)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (subscriber_id, word_id) DO UPDATE SET
			correct = answer_stats.correct + EXCLUDED.correct,
			incorrect = answer_stats.incorrect + EXCLUDED.incorrect
	`)
	err := withRetry(ctx, func() error {
		_, err := r.db.ExecContext(ctx, query, subscriberID, wordID, correctInc, incorrectInc)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "failed to record answer for word %d", wordID)
	}
	return nil
}

// Get returns the counters for one word, zero if never answered
func (r *AnswerRepository) Get(ctx context.Context, subscriberID, wordID int64) (models.AnswerStats, error) {
	stats := models.AnswerStats{SubscriberID: subscriberID, WordID: wordID}
	query := r.db.Rebind(`
		SELECT subscriber_id, word_id, correct, incorrect
		FROM answer_stats WHERE subscriber_id = ? AND word_id = ?
	`)
	err := r.db.GetContext(ctx, &stats, query, subscriberID, wordID)
	if err != nil && !errors.Is(notFound(err), ErrNotFound) {
		return stats, errors.Wrapf(err, "failed to get answer stats of word %d", wordID)
	}
	return stats, nil
}

// Totals sums the counters over all words
func (r *AnswerRepository) Totals(ctx context.Context, subscriberID int64) (correct, incorrect int, err error) {
	var row struct {
		Correct   int `db:"correct"`
		Incorrect int `db:"incorrect"`
	}
	query := r.db.Rebind(`
		SELECT COALESCE(SUM(correct), 0) AS correct, COALESCE(SUM(incorrect), 0) AS incorrect
		FROM answer_stats WHERE subscriber_id = ?
	`)
	if err := r.db.GetContext(ctx, &row, query, subscriberID); err != nil {
		return 0, 0, errors.Wrapf(err, "failed to get answer totals for subscriber %d", subscriberID)
	}
	return row.Correct, row.Incorrect, nil
}
