// Package config loads estbot settings from the environment.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// SubscriberDefaults are applied to a subscriber on first contact
type SubscriberDefaults struct {
	WordsPerCycle       int
	WordIntervalMinutes int
	QuizzesPerCycle     int
	QuizIntervalMinutes int
	ActiveStart         string
	ActiveEnd           string
}

// Config holds all application configuration.
type Config struct {
	TelegramToken string
	DBType        string // "sqlite" or "postgres"
	DBPath        string
	DatabaseURL   string

	Location        *time.Location
	TickInterval    time.Duration
	SummaryTime     string // "HH:MM", daily progress summary
	Workers         int
	DeliveryTimeout time.Duration

	ReinforcementCooldown time.Duration
	QuizWeights           map[string]int
	ChallengeTTL          time.Duration

	Defaults     SubscriberDefaults
	AdminUserIDs map[int64]bool

	OpenAIKey   string
	OpenAIModel string
	HTTPAddr    string
	LogLevel    string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_TYPE", "sqlite")
	v.SetDefault("DB_PATH", "data/estbot.db")
	v.SetDefault("TIMEZONE", "Local")
	v.SetDefault("TICK_INTERVAL", "1m")
	v.SetDefault("SUMMARY_TIME", "21:00")
	v.SetDefault("WORKERS", 8)
	v.SetDefault("DELIVERY_TIMEOUT", "15s")
	v.SetDefault("REINFORCEMENT_COOLDOWN", "24h")
	v.SetDefault("QUIZ_WEIGHTS", "forward:40,reverse:40,free_text:20")
	v.SetDefault("CHALLENGE_TTL", "48h")
	v.SetDefault("DEFAULT_WORDS_PER_CYCLE", 5)
	v.SetDefault("DEFAULT_WORD_INTERVAL", 60)
	v.SetDefault("DEFAULT_QUIZZES_PER_CYCLE", 1)
	v.SetDefault("DEFAULT_QUIZ_INTERVAL", 90)
	v.SetDefault("DEFAULT_ACTIVE_START", "09:00")
	v.SetDefault("DEFAULT_ACTIVE_END", "23:00")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("LOG_LEVEL", "info")
}

// Load reads configuration from environment variables. A .env file, if any,
// must already be loaded into the process environment.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	loc, err := time.LoadLocation(v.GetString("TIMEZONE"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid TIMEZONE")
	}

	weights, err := ParseWeights(v.GetString("QUIZ_WEIGHTS"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid QUIZ_WEIGHTS")
	}

	admins, err := parseIDs(v.GetString("ADMIN_USER_IDS"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid ADMIN_USER_IDS")
	}

	cfg := &Config{
		TelegramToken:         v.GetString("TELEGRAM_BOT_TOKEN"),
		DBType:                strings.ToLower(v.GetString("DB_TYPE")),
		DBPath:                v.GetString("DB_PATH"),
		DatabaseURL:           v.GetString("DATABASE_URL"),
		Location:              loc,
		TickInterval:          v.GetDuration("TICK_INTERVAL"),
		SummaryTime:           v.GetString("SUMMARY_TIME"),
		Workers:               v.GetInt("WORKERS"),
		DeliveryTimeout:       v.GetDuration("DELIVERY_TIMEOUT"),
		ReinforcementCooldown: v.GetDuration("REINFORCEMENT_COOLDOWN"),
		QuizWeights:           weights,
		ChallengeTTL:          v.GetDuration("CHALLENGE_TTL"),
		Defaults: SubscriberDefaults{
			WordsPerCycle:       v.GetInt("DEFAULT_WORDS_PER_CYCLE"),
			WordIntervalMinutes: v.GetInt("DEFAULT_WORD_INTERVAL"),
			QuizzesPerCycle:     v.GetInt("DEFAULT_QUIZZES_PER_CYCLE"),
			QuizIntervalMinutes: v.GetInt("DEFAULT_QUIZ_INTERVAL"),
			ActiveStart:         v.GetString("DEFAULT_ACTIVE_START"),
			ActiveEnd:           v.GetString("DEFAULT_ACTIVE_END"),
		},
		AdminUserIDs: admins,
		OpenAIKey:    v.GetString("OPENAI_API_KEY"),
		OpenAIModel:  v.GetString("OPENAI_MODEL"),
		HTTPAddr:     v.GetString("HTTP_ADDR"),
		LogLevel:     v.GetString("LOG_LEVEL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Validate checks that the loaded values are usable.
func (c *Config) Validate() error {
	switch c.DBType {
	case "sqlite":
		if c.DBPath == "" {
			return errors.New("DB_PATH cannot be empty")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for postgres")
		}
	default:
		return errors.Errorf("unsupported DB_TYPE %q", c.DBType)
	}
	if c.TickInterval <= 0 {
		return errors.New("TICK_INTERVAL must be > 0")
	}
	if c.Workers <= 0 {
		return errors.New("WORKERS must be > 0")
	}
	if c.DeliveryTimeout <= 0 {
		return errors.New("DELIVERY_TIMEOUT must be > 0")
	}
	if c.ReinforcementCooldown < 0 {
		return errors.New("REINFORCEMENT_COOLDOWN cannot be negative")
	}
	if c.ChallengeTTL <= 0 {
		return errors.New("CHALLENGE_TTL must be > 0")
	}
	for name, value := range map[string]string{
		"SUMMARY_TIME":         c.SummaryTime,
		"DEFAULT_ACTIVE_START": c.Defaults.ActiveStart,
		"DEFAULT_ACTIVE_END":   c.Defaults.ActiveEnd,
	} {
		if _, err := time.Parse("15:04", value); err != nil {
			return errors.Errorf("%s must be HH:MM, got %q", name, value)
		}
	}
	if c.Defaults.WordsPerCycle <= 0 || c.Defaults.WordIntervalMinutes <= 0 {
		return errors.New("default word cadence must be positive")
	}
	if c.Defaults.QuizzesPerCycle < 0 || c.Defaults.QuizIntervalMinutes <= 0 {
		return errors.New("default quiz cadence is invalid")
	}
	return nil
}

// ParseWeights parses "kind:weight,kind:weight" pairs.
func ParseWeights(s string) (map[string]int, error) {
	weights := make(map[string]int)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, ":")
		if !ok {
			return nil, errors.Errorf("expected kind:weight, got %q", part)
		}
		w, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || w < 0 {
			return nil, errors.Errorf("invalid weight %q for %s", value, name)
		}
		weights[strings.TrimSpace(name)] = w
	}
	if len(weights) == 0 {
		return nil, errors.New("no weights given")
	}
	return weights, nil
}

func parseIDs(s string) (map[int64]bool, error) {
	ids := make(map[int64]bool)
	for _, idStr := range strings.Split(s, ",") {
		idStr = strings.TrimSpace(idStr)
		if idStr == "" {
			continue
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, errors.Errorf("invalid user ID %q", idStr)
		}
		ids[id] = true
	}
	return ids, nil
}
