package bot

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/example/estbot/internal/excel"
	"github.com/example/estbot/internal/quiz"
	"github.com/example/estbot/internal/scheduler"
	"github.com/example/estbot/pkg/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

const (
	maxWordsPerCycle = 50
	maxQuizzes       = 10
	emptyCatalogText = "База слов пуста!"
	unknownQuizText  = "Этот тест больше не активен."
	failureText      = "Что-то пошло не так, попробуйте позже."
)

// handleUpdate routes an incoming update
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Update handler panicked", "update_id", update.UpdateID, "panic", fmt.Sprint(r))
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.HandleCallback(ctx, update.CallbackQuery)
	case update.Message == nil || update.Message.Chat == nil:
		return
	case update.Message.IsCommand():
		b.HandleCommand(ctx, update.Message)
	case update.Message.Document != nil:
		b.handleDocument(ctx, update.Message)
	default:
		b.handleText(ctx, update.Message)
	}
}

// HandleCommand handles bot commands
func (b *Bot) HandleCommand(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	switch message.Command() {
	case "start", "menu":
		b.handleStart(ctx, chatID)
	case "help":
		b.reply(ctx, chatID, helpText, nil)
	case "startmailing":
		b.handleStartMailing(ctx, chatID)
	case "stopmailing":
		b.handleStopMailing(ctx, chatID)
	case "get5words", "words":
		b.handleWordsNow(ctx, chatID)
	case "random_word":
		b.handleRandomWord(ctx, chatID)
	case "random_test", "quiz":
		b.handleQuizNow(ctx, chatID)
	case "progress":
		b.handleProgress(ctx, chatID)
	case "settings":
		b.handleSettings(ctx, chatID)
	case "setsettings":
		b.handleSetSettings(ctx, chatID, message.CommandArguments())
	case "import":
		b.handleImportCommand(ctx, message)
	default:
		keyboard := createKeyboard(MainMenuButtons())
		b.reply(ctx, chatID, "Неизвестная команда. Используйте /help.", &keyboard)
	}
}

// ensureSubscriber registers the chat on first contact
func (b *Bot) ensureSubscriber(ctx context.Context, chatID int64) (*models.Subscriber, error) {
	d := b.opts.Defaults
	sub, created, err := b.deps.Subscribers.Ensure(ctx, &models.Subscriber{
		ID:                  chatID,
		WordsPerCycle:       d.WordsPerCycle,
		WordIntervalMinutes: d.WordIntervalMinutes,
		QuizzesPerCycle:     d.QuizzesPerCycle,
		QuizIntervalMinutes: d.QuizIntervalMinutes,
		ActiveStart:         d.ActiveStart,
		ActiveEnd:           d.ActiveEnd,
	})
	if err != nil {
		return nil, err
	}
	if created {
		b.logger.Info("New subscriber", "subscriber_id", chatID)
	}
	return sub, nil
}

func (b *Bot) handleStart(ctx context.Context, chatID int64) {
	if _, err := b.ensureSubscriber(ctx, chatID); err != nil {
		b.logger.Error("Failed to register subscriber", "subscriber_id", chatID, "error", err)
		b.reply(ctx, chatID, failureText, nil)
		return
	}
	keyboard := createKeyboard(MainMenuButtons())
	b.reply(ctx, chatID, welcomeText, &keyboard)
}

func (b *Bot) handleStartMailing(ctx context.Context, chatID int64) {
	sub, err := b.ensureSubscriber(ctx, chatID)
	if err == nil {
		err = b.deps.Subscribers.SetEnabled(ctx, chatID, true)
	}
	if err != nil {
		b.logger.Error("Failed to enable mailing", "subscriber_id", chatID, "error", err)
		b.reply(ctx, chatID, failureText, nil)
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("Рассылка запущена: %d слов каждые %d мин. с %s до %s.",
		sub.WordsPerCycle, sub.WordIntervalMinutes, sub.ActiveStart, sub.ActiveEnd), nil)
	b.sendWordsNow(ctx, chatID, sub.WordsPerCycle)
}

func (b *Bot) handleStopMailing(ctx context.Context, chatID int64) {
	if _, err := b.ensureSubscriber(ctx, chatID); err != nil {
		b.logger.Error("Failed to register subscriber", "subscriber_id", chatID, "error", err)
		b.reply(ctx, chatID, failureText, nil)
		return
	}
	if err := b.deps.Subscribers.SetEnabled(ctx, chatID, false); err != nil {
		b.logger.Error("Failed to disable mailing", "subscriber_id", chatID, "error", err)
		b.reply(ctx, chatID, failureText, nil)
		return
	}
	b.reply(ctx, chatID, "Рассылка остановлена. Чтобы возобновить, отправьте /startmailing.", nil)
}

func (b *Bot) handleWordsNow(ctx context.Context, chatID int64) {
	if _, err := b.ensureSubscriber(ctx, chatID); err != nil {
		b.logger.Error("Failed to register subscriber", "subscriber_id", chatID, "error", err)
		b.reply(ctx, chatID, failureText, nil)
		return
	}
	b.sendWordsNow(ctx, chatID, b.opts.ManualBatchSize)
}

func (b *Bot) sendWordsNow(ctx context.Context, chatID int64, k int) {
	n, err := b.actions.SendWordsNow(ctx, chatID, k)
	if err != nil {
		b.logger.Error("Manual word delivery failed", "subscriber_id", chatID, "error", err)
		b.reply(ctx, chatID, failureText, nil)
		return
	}
	if n == 0 {
		b.reply(ctx, chatID, emptyCatalogText, nil)
	}
}

// handleRandomWord shows a random word without recording it as delivered
func (b *Bot) handleRandomWord(ctx context.Context, chatID int64) {
	words, err := b.deps.Words.Sample(ctx, 1, nil, "")
	if err != nil {
		b.logger.Error("Failed to pick random word", "error", err)
		b.reply(ctx, chatID, failureText, nil)
		return
	}
	if len(words) == 0 {
		b.reply(ctx, chatID, emptyCatalogText, nil)
		return
	}
	if err := b.SendWord(ctx, chatID, words[0]); err != nil {
		b.logger.Warn("Random word delivery failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleQuizNow(ctx context.Context, chatID int64) {
	if _, err := b.ensureSubscriber(ctx, chatID); err != nil {
		b.logger.Error("Failed to register subscriber", "subscriber_id", chatID, "error", err)
		b.reply(ctx, chatID, failureText, nil)
		return
	}
	err := b.actions.SendQuizNow(ctx, chatID)
	switch {
	case errors.Is(err, quiz.ErrEmptyCatalog):
		b.reply(ctx, chatID, emptyCatalogText, nil)
	case err != nil:
		b.logger.Error("Manual quiz failed", "subscriber_id", chatID, "error", err)
		b.reply(ctx, chatID, failureText, nil)
	}
}

func (b *Bot) handleProgress(ctx context.Context, chatID int64) {
	if err := b.actions.SendProgressNow(ctx, chatID); err != nil {
		b.logger.Error("Progress delivery failed", "subscriber_id", chatID, "error", err)
		b.reply(ctx, chatID, failureText, nil)
	}
}

func (b *Bot) handleSettings(ctx context.Context, chatID int64) {
	sub, err := b.ensureSubscriber(ctx, chatID)
	if err != nil {
		b.logger.Error("Failed to load settings", "subscriber_id", chatID, "error", err)
		b.reply(ctx, chatID, failureText, nil)
		return
	}
	b.reply(ctx, chatID, formatSettings(sub), nil)
}

func (b *Bot) handleSetSettings(ctx context.Context, chatID int64, args string) {
	sub, err := b.ensureSubscriber(ctx, chatID)
	if err != nil {
		b.logger.Error("Failed to load settings", "subscriber_id", chatID, "error", err)
		b.reply(ctx, chatID, failureText, nil)
		return
	}
	if err := applySettings(sub, strings.Fields(args)); err != nil {
		b.reply(ctx, chatID, "Неверный формат: "+html.EscapeString(err.Error())+"\n\n"+setSettingsHint, nil)
		return
	}
	if err := b.deps.Subscribers.UpdateSettings(ctx, sub); err != nil {
		b.logger.Error("Failed to update settings", "subscriber_id", chatID, "error", err)
		b.reply(ctx, chatID, failureText, nil)
		return
	}
	b.reply(ctx, chatID, "Настройки обновлены!\n\n"+formatSettings(sub), nil)
}

// applySettings parses "<words> <HH:MM> <HH:MM> [word_interval] [quiz_interval] [quizzes]" into sub
func applySettings(sub *models.Subscriber, args []string) error {
	if len(args) < 3 || len(args) > 6 {
		return errors.New("нужно от 3 до 6 параметров")
	}
	words, err := strconv.Atoi(args[0])
	if err != nil || words < 1 || words > maxWordsPerCycle {
		return errors.Errorf("количество слов должно быть от 1 до %d", maxWordsPerCycle)
	}
	for _, clock := range args[1:3] {
		if _, err := scheduler.ParseClock(clock); err != nil {
			return errors.Errorf("время %q должно быть в формате ЧЧ:ММ", clock)
		}
	}

	updated := *sub
	updated.WordsPerCycle = words
	updated.ActiveStart, updated.ActiveEnd = args[1], args[2]

	ints := []*int{&updated.WordIntervalMinutes, &updated.QuizIntervalMinutes, &updated.QuizzesPerCycle}
	for i, raw := range args[3:] {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return errors.Errorf("%q не является числом", raw)
		}
		*ints[i] = v
	}
	if updated.WordIntervalMinutes < 1 || updated.QuizIntervalMinutes < 1 {
		return errors.New("интервал должен быть не меньше минуты")
	}
	if updated.QuizzesPerCycle > maxQuizzes {
		return errors.Errorf("тестов за раз не больше %d", maxQuizzes)
	}
	*sub = updated
	return nil
}

// handleText treats a plain message as the answer to a pending free-text quiz
func (b *Bot) handleText(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	if !b.deps.Quiz.HasPending(chatID) {
		keyboard := createKeyboard(MainMenuButtons())
		b.reply(ctx, chatID, "Я не понимаю. Используйте /help или меню.", &keyboard)
		return
	}
	res, err := b.deps.Quiz.AnswerText(ctx, chatID, message.Text)
	switch {
	case errors.Is(err, quiz.ErrNoPending):
		b.reply(ctx, chatID, "Этот тест уже отвечен.", nil)
	case errors.Is(err, quiz.ErrUnknownChallenge):
		b.reply(ctx, chatID, unknownQuizText, nil)
	case err != nil:
		b.logger.Error("Failed to verify answer", "subscriber_id", chatID, "error", err)
		b.reply(ctx, chatID, failureText, nil)
	default:
		b.reply(ctx, chatID, formatResult(res), nil)
	}
}

// HandleCallback handles inline keyboard presses
func (b *Bot) HandleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.Message == nil || callback.Message.Chat == nil {
		b.answerCallback(callback.ID, "")
		return
	}
	chatID := callback.Message.Chat.ID
	data := callback.Data

	switch {
	case strings.HasPrefix(data, prefixQuiz):
		b.handleQuizAnswer(ctx, callback, strings.TrimPrefix(data, prefixQuiz))
		return
	case strings.HasPrefix(data, prefixRepeat):
		b.handleRepeatToggle(ctx, callback, strings.TrimPrefix(data, prefixRepeat))
		return
	}

	b.answerCallback(callback.ID, "")
	switch data {
	case callbackMenu:
		b.handleStart(ctx, chatID)
	case callbackStartMailing:
		b.handleStartMailing(ctx, chatID)
	case callbackRandomWord:
		b.handleRandomWord(ctx, chatID)
	case callbackRandomTest:
		b.handleQuizNow(ctx, chatID)
	case callbackProgress:
		b.handleProgress(ctx, chatID)
	case callbackSettings:
		b.handleSettings(ctx, chatID)
	case callbackHelp:
		b.reply(ctx, chatID, helpText, nil)
	default:
		b.logger.Debug("Unknown callback", "data", data)
	}
}

// handleQuizAnswer verifies "<challenge id>:<position>"
func (b *Bot) handleQuizAnswer(ctx context.Context, callback *tgbotapi.CallbackQuery, payload string) {
	chatID := callback.Message.Chat.ID
	idx := strings.LastIndex(payload, ":")
	if idx < 0 {
		b.answerCallback(callback.ID, "Некорректные данные теста.")
		return
	}
	position, err := strconv.Atoi(payload[idx+1:])
	if err != nil {
		b.answerCallback(callback.ID, "Некорректные данные теста.")
		return
	}

	res, err := b.deps.Quiz.Answer(ctx, chatID, payload[:idx], position)
	switch {
	case errors.Is(err, quiz.ErrUnknownChallenge), errors.Is(err, quiz.ErrInvalidOption):
		b.answerCallback(callback.ID, unknownQuizText)
	case err != nil:
		b.logger.Error("Failed to verify answer", "subscriber_id", chatID, "error", err)
		b.answerCallback(callback.ID, failureText)
	case res.Repeat:
		if res.Correct {
			b.answerCallback(callback.ID, "✅ Верно! (уже отвечено)")
		} else {
			b.answerCallback(callback.ID, "Правильный ответ: "+res.Expected)
		}
	default:
		b.answerCallback(callback.ID, "")
		b.reply(ctx, chatID, formatResult(res), nil)
	}
}

// handleRepeatToggle flips the reinforcement flag of a word and updates its button
func (b *Bot) handleRepeatToggle(ctx context.Context, callback *tgbotapi.CallbackQuery, payload string) {
	chatID := callback.Message.Chat.ID
	wordID, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		b.answerCallback(callback.ID, "")
		return
	}

	if _, err := b.ensureSubscriber(ctx, chatID); err != nil {
		b.logger.Error("Failed to register subscriber", "subscriber_id", chatID, "error", err)
		b.answerCallback(callback.ID, failureText)
		return
	}
	flagged, err := b.deps.Flags.Toggle(ctx, chatID, wordID, b.now())
	if err != nil {
		b.logger.Error("Failed to toggle reinforcement", "subscriber_id", chatID, "word_id", wordID, "error", err)
		b.answerCallback(callback.ID, failureText)
		return
	}

	text := "Слово убрано из повторения"
	if flagged {
		text = "Слово будет повторяться чаще"
	}
	b.answerCallback(callback.ID, text)

	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, callback.Message.MessageID, wordKeyboard(wordID, flagged))
	if _, err := b.api.Request(edit); err != nil {
		b.logger.Warn("Failed to update keyboard", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.logger.Warn("Failed to answer callback", "error", err)
	}
}

// handleImportCommand asks an admin for a word list file
func (b *Bot) handleImportCommand(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	if message.From == nil || !b.isAdmin(message.From.ID) {
		b.reply(ctx, chatID, "Эта команда доступна только администраторам.", nil)
		return
	}
	b.mu.Lock()
	b.awaitingFileUpload[chatID] = true
	b.mu.Unlock()
	b.reply(ctx, chatID, "Отправьте файл .xlsx или .csv со столбцами: слово, часть речи, перевод, пояснение.", nil)
}

// handleDocument imports an uploaded word list
func (b *Bot) handleDocument(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	b.mu.Lock()
	awaiting := b.awaitingFileUpload[chatID]
	delete(b.awaitingFileUpload, chatID)
	b.mu.Unlock()

	if !awaiting || message.From == nil || !b.isAdmin(message.From.ID) {
		b.reply(ctx, chatID, "Чтобы загрузить слова, сначала отправьте /import.", nil)
		return
	}

	doc := message.Document
	ext := strings.ToLower(filepath.Ext(doc.FileName))
	if ext != ".xlsx" && ext != ".csv" {
		b.reply(ctx, chatID, "Поддерживаются только файлы .xlsx и .csv.", nil)
		return
	}

	res, err := b.importDocument(ctx, doc.FileID, ext)
	if err != nil {
		b.logger.Error("Import failed", "file", doc.FileName, "error", err)
		b.reply(ctx, chatID, "❌ Не удалось импортировать файл.", nil)
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "✅ Импорт завершён:\n- Добавлено: %d\n- Обновлено: %d\n- Без изменений: %d\n",
		res.Created, res.Updated, res.Skipped)
	if len(res.Errors) > 0 {
		fmt.Fprintf(&sb, "\n❌ Ошибки (%d):\n", len(res.Errors))
		for i, msg := range res.Errors {
			if i == 10 {
				fmt.Fprintf(&sb, "…и ещё %d\n", len(res.Errors)-i)
				break
			}
			sb.WriteString("- " + msg + "\n")
		}
	}
	msg := tgbotapi.NewMessage(chatID, sb.String())
	if _, err := b.send(ctx, chatID, msg); err != nil {
		b.logger.Warn("Reply failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) importDocument(ctx context.Context, fileID, ext string) (*excel.ImportResult, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get file URL")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create download request")
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to download file")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("download returned status %d", resp.StatusCode)
	}

	cfg := excel.DefaultImportConfig()
	cfg.Annotate = true
	return b.deps.Importer.Import(ctx, resp.Body, ext, cfg)
}
