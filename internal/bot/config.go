package bot

import (
	"time"

	"github.com/example/estbot/internal/config"
	"golang.org/x/time/rate"
)

// Options represents the configuration for the bot
type Options struct {
	// Number of words sent by /get5words
	ManualBatchSize int
	// Settings given to a subscriber on first contact
	Defaults config.SubscriberDefaults
	// Users allowed to import words
	AdminUserIDs map[int64]bool
	// Telegram allows about one message per second per chat
	ChatRate  rate.Limit
	ChatBurst int
	// and about thirty per second overall
	GlobalRate  rate.Limit
	GlobalBurst int
	// Timeout for downloading an uploaded word list
	DownloadTimeout time.Duration
}

// DefaultOptions returns the default bot configuration
func DefaultOptions() Options {
	return Options{
		ManualBatchSize: 5,
		Defaults: config.SubscriberDefaults{
			WordsPerCycle:       5,
			WordIntervalMinutes: 60,
			QuizzesPerCycle:     1,
			QuizIntervalMinutes: 90,
			ActiveStart:         "09:00",
			ActiveEnd:           "23:00",
		},
		AdminUserIDs:    map[int64]bool{},
		ChatRate:        rate.Every(time.Second),
		ChatBurst:       3,
		GlobalRate:      rate.Limit(30),
		GlobalBurst:     30,
		DownloadTimeout: time.Minute,
	}
}

// OptionsFromConfig derives bot options from the application configuration
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.Defaults = cfg.Defaults
	opts.AdminUserIDs = cfg.AdminUserIDs
	return opts
}
