package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TIMEZONE", "Europe/Tallinn")
	t.Setenv("ADMIN_USER_IDS", "1, 2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "token", cfg.TelegramToken)
	assert.Equal(t, "sqlite", cfg.DBType)
	assert.Equal(t, "Europe/Tallinn", cfg.Location.String())
	assert.Equal(t, time.Minute, cfg.TickInterval)
	assert.Equal(t, 24*time.Hour, cfg.ReinforcementCooldown)
	assert.Equal(t, 48*time.Hour, cfg.ChallengeTTL)
	assert.Equal(t, map[string]int{"forward": 40, "reverse": 40, "free_text": 20}, cfg.QuizWeights)
	assert.Equal(t, map[int64]bool{1: true, 2: true}, cfg.AdminUserIDs)
	assert.Equal(t, SubscriberDefaults{
		WordsPerCycle:       5,
		WordIntervalMinutes: 60,
		QuizzesPerCycle:     1,
		QuizIntervalMinutes: 90,
		ActiveStart:         "09:00",
		ActiveEnd:           "23:00",
	}, cfg.Defaults)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_TYPE", "POSTGRES")
	t.Setenv("DATABASE_URL", "postgres://localhost/estbot")
	t.Setenv("TICK_INTERVAL", "30s")
	t.Setenv("REINFORCEMENT_COOLDOWN", "6h")
	t.Setenv("DEFAULT_ACTIVE_START", "22:00")
	t.Setenv("DEFAULT_ACTIVE_END", "02:00")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DBType)
	assert.Equal(t, 30*time.Second, cfg.TickInterval)
	assert.Equal(t, 6*time.Hour, cfg.ReinforcementCooldown)
	assert.Equal(t, "22:00", cfg.Defaults.ActiveStart)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string][2]string{
		"bad timezone":    {"TIMEZONE", "Mars/Olympus"},
		"bad weights":     {"QUIZ_WEIGHTS", "forward=1"},
		"bad admin id":    {"ADMIN_USER_IDS", "abc"},
		"bad db type":     {"DB_TYPE", "mysql"},
		"bad clock":       {"SUMMARY_TIME", "9pm"},
		"zero workers":    {"WORKERS", "0"},
		"postgres no url": {"DB_TYPE", "postgres"},
	}
	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestParseWeights(t *testing.T) {
	w, err := ParseWeights(" forward:3, reverse : 1 ,free_text:0,")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"forward": 3, "reverse": 1, "free_text": 0}, w)

	for _, bad := range []string{"", "forward", "forward:x", "forward:-1"} {
		_, err := ParseWeights(bad)
		assert.Error(t, err, bad)
	}
}

func TestValidateQuizCadence(t *testing.T) {
	cfg := &Config{
		DBType:          "sqlite",
		DBPath:          "data/test.db",
		TickInterval:    time.Minute,
		Workers:         1,
		DeliveryTimeout: time.Second,
		ChallengeTTL:    time.Hour,
		SummaryTime:     "21:00",
		Defaults: SubscriberDefaults{
			WordsPerCycle:       1,
			WordIntervalMinutes: 1,
			QuizIntervalMinutes: 1,
			ActiveStart:         "00:00",
			ActiveEnd:           "23:59",
		},
	}
	assert.NoError(t, cfg.Validate(), "zero quizzes per cycle disables quizzes")

	cfg.Defaults.QuizIntervalMinutes = 0
	assert.Error(t, cfg.Validate())
}
