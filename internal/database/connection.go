package database

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/example/estbot/internal/config"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Connect opens the database selected by the configuration and initializes the schema
func Connect(cfg *config.Config) (*sqlx.DB, error) {
	if cfg.DBType == "postgres" {
		return Open("postgres", cfg.DatabaseURL)
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create data directory")
	}
	return Open("sqlite3", cfg.DBPath+"?_busy_timeout=5000&_foreign_keys=on")
}

// Open connects with an explicit driver and DSN. Used directly by tests with ":memory:".
func Open(driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if driver == "sqlite3" {
		// Enable foreign keys
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "failed to enable foreign keys")
		}
		// SQLite doesn't support multiple writers
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS words (
	id {{serial}},
	word TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	translation TEXT NOT NULL,
	annotation TEXT NOT NULL DEFAULT '',
	UNIQUE(word, category)
);
CREATE INDEX IF NOT EXISTS idx_words_category ON words(category);

CREATE TABLE IF NOT EXISTS subscribers (
	id BIGINT PRIMARY KEY,
	words_per_cycle INTEGER NOT NULL DEFAULT 5,
	word_interval_minutes INTEGER NOT NULL DEFAULT 60,
	quizzes_per_cycle INTEGER NOT NULL DEFAULT 1,
	quiz_interval_minutes INTEGER NOT NULL DEFAULT 90,
	active_start TEXT NOT NULL DEFAULT '09:00',
	active_end TEXT NOT NULL DEFAULT '23:00',
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	last_word_cycle_at {{timestamp}},
	last_quiz_cycle_at {{timestamp}},
	created_at {{timestamp}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at {{timestamp}} NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS deliveries (
	subscriber_id BIGINT NOT NULL REFERENCES subscribers(id) ON DELETE CASCADE,
	word_id BIGINT NOT NULL REFERENCES words(id) ON DELETE CASCADE,
	delivery_count INTEGER NOT NULL DEFAULT 0,
	last_delivered_at {{timestamp}} NOT NULL,
	PRIMARY KEY (subscriber_id, word_id)
);

CREATE TABLE IF NOT EXISTS reinforcement_flags (
	subscriber_id BIGINT NOT NULL REFERENCES subscribers(id) ON DELETE CASCADE,
	word_id BIGINT NOT NULL REFERENCES words(id) ON DELETE CASCADE,
	flagged_at {{timestamp}} NOT NULL,
	PRIMARY KEY (subscriber_id, word_id)
);

CREATE TABLE IF NOT EXISTS answer_stats (
	subscriber_id BIGINT NOT NULL REFERENCES subscribers(id) ON DELETE CASCADE,
	word_id BIGINT NOT NULL REFERENCES words(id) ON DELETE CASCADE,
	correct INTEGER NOT NULL DEFAULT 0,
	incorrect INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (subscriber_id, word_id)
);
`

// initializeSchema creates necessary tables if they don't exist
func initializeSchema(db *sqlx.DB) error {
	replacer := strings.NewReplacer(
		"{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{timestamp}}", "TIMESTAMP",
	)
	if db.DriverName() == "postgres" {
		replacer = strings.NewReplacer(
			"{{serial}}", "BIGSERIAL PRIMARY KEY",
			"{{timestamp}}", "TIMESTAMPTZ",
		)
	}

	for _, stmt := range strings.Split(replacer.Replace(schema), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrapf(err, "failed to initialize schema: %s", firstLine(stmt))
		}
	}
	return nil
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return stmt[:i]
	}
	return stmt
}
