package models

import (
	"database/sql"
	"time"
)

// Subscriber is a Telegram chat receiving words and quizzes on its own cadence
type Subscriber struct {
	ID                  int64        `json:"id" db:"id"` // Telegram chat ID
	WordsPerCycle       int          `json:"words_per_cycle" db:"words_per_cycle"`
	WordIntervalMinutes int          `json:"word_interval_minutes" db:"word_interval_minutes"`
	QuizzesPerCycle     int          `json:"quizzes_per_cycle" db:"quizzes_per_cycle"`
	QuizIntervalMinutes int          `json:"quiz_interval_minutes" db:"quiz_interval_minutes"`
	ActiveStart         string       `json:"active_start" db:"active_start"` // "HH:MM"
	ActiveEnd           string       `json:"active_end" db:"active_end"`     // "HH:MM"
	Enabled             bool         `json:"enabled" db:"enabled"`
	LastWordCycleAt     sql.NullTime `json:"-" db:"last_word_cycle_at"`
	LastQuizCycleAt     sql.NullTime `json:"-" db:"last_quiz_cycle_at"`
	CreatedAt           time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at" db:"updated_at"`
}
