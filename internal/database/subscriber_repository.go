package database

import (
	"context"
	"time"

	"github.com/example/estbot/pkg/models"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const subscriberColumns = `id, words_per_cycle, word_interval_minutes, quizzes_per_cycle, quiz_interval_minutes,
	active_start, active_end, enabled, last_word_cycle_at, last_quiz_cycle_at, created_at, updated_at`

// SubscriberRepository handles subscriber settings and cadence bookkeeping
type SubscriberRepository struct {
	db *sqlx.DB
}

// NewSubscriberRepository creates a new repository instance
func NewSubscriberRepository(db *sqlx.DB) *SubscriberRepository {
	return &SubscriberRepository{db: db}
}

// Get returns a subscriber by chat ID
func (r *SubscriberRepository) Get(ctx context.Context, id int64) (*models.Subscriber, error) {
	var sub models.Subscriber
	query := r.db.Rebind("SELECT " + subscriberColumns + " FROM subscribers WHERE id = ?")
	if err := r.db.GetContext(ctx, &sub, query, id); err != nil {
		return nil, errors.Wrapf(notFound(err), "failed to get subscriber %d", id)
	}
	return &sub, nil
}

// Ensure inserts sub if no subscriber with its ID exists and returns the stored row.
// created reports whether the row was inserted by this call.
func (r *SubscriberRepository) Ensure(ctx context.Context, sub *models.Subscriber) (stored *models.Subscriber, created bool, err error) {
	query := r.db.Rebind(`
		INSERT INTO subscribers (id, words_per_cycle, word_interval_minutes, quizzes_per_cycle,
			quiz_interval_minutes, active_start, active_end, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`)
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, query,
		sub.ID,
		sub.WordsPerCycle,
		sub.WordIntervalMinutes,
		sub.QuizzesPerCycle,
		sub.QuizIntervalMinutes,
		sub.ActiveStart,
		sub.ActiveEnd,
		sub.Enabled,
		now,
		now,
	)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to create subscriber %d", sub.ID)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to get rows affected")
	}

	stored, err = r.Get(ctx, sub.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, rows > 0, nil
}

// ListEnabled returns subscribers with scheduled delivery switched on
func (r *SubscriberRepository) ListEnabled(ctx context.Context) ([]models.Subscriber, error) {
	var subs []models.Subscriber
	query := r.db.Rebind("SELECT " + subscriberColumns + " FROM subscribers WHERE enabled = ? ORDER BY id")
	if err := r.db.SelectContext(ctx, &subs, query, true); err != nil {
		return nil, errors.Wrap(err, "failed to list enabled subscribers")
	}
	return subs, nil
}

// UpdateSettings stores the cadence settings of sub
func (r *SubscriberRepository) UpdateSettings(ctx context.Context, sub *models.Subscriber) error {
	query := r.db.Rebind(`
		UPDATE subscribers SET
			words_per_cycle = ?,
			word_interval_minutes = ?,
			quizzes_per_cycle = ?,
			quiz_interval_minutes = ?,
			active_start = ?,
			active_end = ?,
			updated_at = ?
		WHERE id = ?
	`)
	res, err := r.db.ExecContext(ctx, query,
		sub.WordsPerCycle,
		sub.WordIntervalMinutes,
		sub.QuizzesPerCycle,
		sub.QuizIntervalMinutes,
		sub.ActiveStart,
		sub.ActiveEnd,
		time.Now().UTC(),
		sub.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update subscriber %d", sub.ID)
	}
	return requireRow(res, sub.ID)
}

// SetEnabled switches scheduled delivery on or off
func (r *SubscriberRepository) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	query := r.db.Rebind("UPDATE subscribers SET enabled = ?, updated_at = ? WHERE id = ?")
	res, err := r.db.ExecContext(ctx, query, enabled, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrapf(err, "failed to update subscriber %d", id)
	}
	return requireRow(res, id)
}

// StampWordCycle records the time of the subscriber's latest word cycle
func (r *SubscriberRepository) StampWordCycle(ctx context.Context, id int64, at time.Time) error {
	return r.stamp(ctx, "last_word_cycle_at", id, at)
}

// StampQuizCycle records the time of the subscriber's latest quiz cycle
func (r *SubscriberRepository) StampQuizCycle(ctx context.Context, id int64, at time.Time) error {
	return r.stamp(ctx, "last_quiz_cycle_at", id, at)
}

func (r *SubscriberRepository) stamp(ctx context.Context, column string, id int64, at time.Time) error {
	query := r.db.Rebind("UPDATE subscribers SET " + column + " = ? WHERE id = ?")
	err := withRetry(ctx, func() error {
		_, err := r.db.ExecContext(ctx, query, at.UTC(), id)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "failed to set %s for subscriber %d", column, id)
	}
	return nil
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func requireRow(res rowsAffecter, id int64) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(ErrNotFound, "subscriber %d", id)
	}
	return nil
}
