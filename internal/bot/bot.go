// Package bot is the Telegram front end: it delivers scheduled content and
// handles subscriber commands, quiz answers and word list uploads.
package bot

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/example/estbot/internal/excel"
	"github.com/example/estbot/internal/quiz"
	"github.com/example/estbot/pkg/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"
)

// api is the part of tgbotapi.BotAPI the bot uses
type api interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// SubscriberStore persists subscriber settings
type SubscriberStore interface {
	Get(ctx context.Context, id int64) (*models.Subscriber, error)
	Ensure(ctx context.Context, sub *models.Subscriber) (*models.Subscriber, bool, error)
	UpdateSettings(ctx context.Context, sub *models.Subscriber) error
	SetEnabled(ctx context.Context, id int64, enabled bool) error
}

// WordSource picks random words
type WordSource interface {
	Sample(ctx context.Context, n int, exclude []int64, category string) ([]models.Word, error)
}

// FlagStore keeps reinforcement flags
type FlagStore interface {
	IsFlagged(ctx context.Context, subscriberID, wordID int64) (bool, error)
	Toggle(ctx context.Context, subscriberID, wordID int64, at time.Time) (bool, error)
}

// QuizService verifies quiz answers
type QuizService interface {
	Answer(ctx context.Context, subscriberID int64, challengeID string, position int) (*quiz.Result, error)
	AnswerText(ctx context.Context, subscriberID int64, text string) (*quiz.Result, error)
	HasPending(subscriberID int64) bool
}

// Actions trigger deliveries outside the schedule
type Actions interface {
	SendWordsNow(ctx context.Context, subscriberID int64, k int) (int, error)
	SendQuizNow(ctx context.Context, subscriberID int64) error
	SendProgressNow(ctx context.Context, subscriberID int64) error
}

// Importer loads uploaded word lists
type Importer interface {
	Import(ctx context.Context, r io.Reader, ext string, cfg excel.ImportConfig) (*excel.ImportResult, error)
}

// Deps are the collaborators of a Bot
type Deps struct {
	Subscribers SubscriberStore
	Words       WordSource
	Flags       FlagStore
	Quiz        QuizService
	Importer    Importer
}

// Bot represents the Telegram bot application
type Bot struct {
	botAPI  *tgbotapi.BotAPI
	api     api
	deps    Deps
	actions Actions
	opts    Options
	logger  *slog.Logger
	limiter *sendLimiter
	policy  *bluemonday.Policy
	http    *http.Client
	now     func() time.Time

	mu                 sync.Mutex
	awaitingFileUpload map[int64]bool
}

// New creates a bot authorized with token
func New(token string, opts Options, deps Deps, logger *slog.Logger) (*Bot, error) {
	if token == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN is not set")
	}
	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create bot")
	}
	b := newBot(botAPI, opts, deps, logger)
	b.botAPI = botAPI
	b.logger.Info("Authorized on account", "username", botAPI.Self.UserName)
	return b, nil
}

func newBot(client api, opts Options, deps Deps, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		api:                client,
		deps:               deps,
		opts:               opts,
		logger:             logger,
		limiter:            newSendLimiter(opts),
		policy:             telegramPolicy(),
		http:               &http.Client{Timeout: opts.DownloadTimeout},
		now:                time.Now,
		awaitingFileUpload: make(map[int64]bool),
	}
}

// SetActions connects the scheduler used by manual commands
func (b *Bot) SetActions(actions Actions) {
	b.actions = actions
}

// Start receives updates until ctx is cancelled
func (b *Bot) Start(ctx context.Context) error {
	if b.botAPI == nil {
		return errors.New("bot is not connected to Telegram")
	}
	if b.actions == nil {
		return errors.New("bot actions are not set")
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.botAPI.GetUpdatesChan(updateConfig)

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			b.botAPI.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.handleUpdate(ctx, update)
			}()
		}
	}
}

// isAdmin checks if a user is an admin
func (b *Bot) isAdmin(userID int64) bool {
	return b.opts.AdminUserIDs[userID]
}

// send delivers a message once the rate limit allows it
func (b *Bot) send(ctx context.Context, chatID int64, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := b.limiter.Wait(ctx, chatID); err != nil {
		return tgbotapi.Message{}, errors.Wrap(err, "rate limit wait")
	}
	msg, err := b.api.Send(c)
	if err != nil {
		return msg, errors.Wrapf(err, "failed to send message to chat %d", chatID)
	}
	return msg, nil
}

// reply sends an HTML text message and logs failures
func (b *Bot) reply(ctx context.Context, chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if keyboard != nil {
		msg.ReplyMarkup = *keyboard
	}
	if _, err := b.send(ctx, chatID, msg); err != nil {
		b.logger.Warn("Reply failed", "chat_id", chatID, "error", err)
	}
}

// SendWord implements scheduler.Notifier
func (b *Bot) SendWord(ctx context.Context, subscriberID int64, word models.Word) error {
	flagged, err := b.deps.Flags.IsFlagged(ctx, subscriberID, word.ID)
	if err != nil {
		b.logger.Warn("Failed to read reinforcement flag", "subscriber_id", subscriberID, "word_id", word.ID, "error", err)
	}
	msg := tgbotapi.NewMessage(subscriberID, b.formatWord(word))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = wordKeyboard(word.ID, flagged)
	_, err = b.send(ctx, subscriberID, msg)
	return err
}

// SendChallenge implements scheduler.Notifier
func (b *Bot) SendChallenge(ctx context.Context, subscriberID int64, ch *quiz.Challenge) error {
	msg := tgbotapi.NewMessage(subscriberID, formatChallenge(ch))
	msg.ParseMode = tgbotapi.ModeHTML
	if ch.MultipleChoice() {
		msg.ReplyMarkup = challengeKeyboard(ch)
	}
	_, err := b.send(ctx, subscriberID, msg)
	return err
}

// SendSummary implements scheduler.Notifier
func (b *Bot) SendSummary(ctx context.Context, subscriberID int64, progress models.Progress) error {
	msg := tgbotapi.NewMessage(subscriberID, formatProgress(progress))
	_, err := b.send(ctx, subscriberID, msg)
	return err
}
