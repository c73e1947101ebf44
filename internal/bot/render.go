package bot

import (
	"fmt"
	"html"
	"strings"

	"github.com/example/estbot/internal/quiz"
	"github.com/example/estbot/pkg/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/microcosm-cc/bluemonday"
)

const (
	callbackMenu         = "menu"
	callbackStartMailing = "startmailing"
	callbackRandomWord   = "random_word"
	callbackRandomTest   = "random_test"
	callbackProgress     = "progress"
	callbackSettings     = "settings"
	callbackHelp         = "help"

	prefixQuiz   = "quiz:"
	prefixRepeat = "repeat:"
)

// telegramPolicy keeps the HTML subset Telegram accepts
func telegramPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "strong", "i", "em", "u", "s", "code", "pre")
	p.AllowAttrs("href").OnElements("a")
	p.AllowStandardURLs()
	return p
}

// MenuButton represents a button in the menu
type MenuButton struct {
	Text         string
	CallbackData string
}

// createKeyboard creates a keyboard from menu buttons
func createKeyboard(buttons [][]MenuButton) tgbotapi.InlineKeyboardMarkup {
	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, row := range buttons {
		var keyboardRow []tgbotapi.InlineKeyboardButton
		for _, button := range row {
			keyboardRow = append(keyboardRow, tgbotapi.NewInlineKeyboardButtonData(button.Text, button.CallbackData))
		}
		keyboard = append(keyboard, keyboardRow)
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}

// MainMenuButtons returns the main menu layout
func MainMenuButtons() [][]MenuButton {
	return [][]MenuButton{
		{{"Начать рассылку", callbackStartMailing}, {"Случайное слово", callbackRandomWord}},
		{{"Случайный тест", callbackRandomTest}, {"Прогресс", callbackProgress}},
		{{"Настройки", callbackSettings}, {"Помощь", callbackHelp}},
	}
}

func wordKeyboard(wordID int64, flagged bool) tgbotapi.InlineKeyboardMarkup {
	label := "🔁 Повторять чаще"
	if flagged {
		label = "✅ В повторении (убрать)"
	}
	return createKeyboard([][]MenuButton{
		{{label, fmt.Sprintf("%s%d", prefixRepeat, wordID)}},
		{{"Меню", callbackMenu}},
	})
}

func challengeKeyboard(ch *quiz.Challenge) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]MenuButton, 0, len(ch.Options))
	for i, option := range ch.Options {
		rows = append(rows, []MenuButton{{option, fmt.Sprintf("%s%s:%d", prefixQuiz, ch.ID, i)}})
	}
	return createKeyboard(rows)
}

func (b *Bot) formatWord(word models.Word) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🇪🇪 Sõna: <b>%s</b>\n", html.EscapeString(word.Word))
	fmt.Fprintf(&sb, "🇷🇺 Перевод: <b>%s</b>\n", html.EscapeString(word.Translation))
	if word.Category != "" {
		fmt.Fprintf(&sb, "<i>%s</i>\n", html.EscapeString(word.Category))
	}
	if note := strings.TrimSpace(b.policy.Sanitize(word.Annotation)); note != "" {
		fmt.Fprintf(&sb, "\n📖 Информация:\n%s\n", note)
	}
	return sb.String()
}

func formatChallenge(ch *quiz.Challenge) string {
	prompt := html.EscapeString(ch.Prompt)
	switch ch.Kind {
	case quiz.Reverse:
		return fmt.Sprintf("❓ Какое эстонское слово означает <b>%s</b>?", prompt)
	case quiz.FreeText:
		return fmt.Sprintf("✍️ Напишите перевод слова <b>%s</b> ответным сообщением.", prompt)
	default:
		return fmt.Sprintf("❓ Как переводится слово <b>%s</b>?", prompt)
	}
}

func formatResult(res *quiz.Result) string {
	if res.Correct {
		return "✅ Верно!"
	}
	return fmt.Sprintf("❌ Неверно. Правильный ответ: <b>%s</b>", html.EscapeString(res.Expected))
}

func formatProgress(p models.Progress) string {
	return fmt.Sprintf("📊 Прогресс:\nИзучено %d из %d слов (%.0f%%).\nВ повторении: %d\nОтветы в тестах: ✅ %d / ❌ %d",
		p.Seen, p.Total, p.Percent(), p.Flagged, p.Correct, p.Incorrect)
}

func formatSettings(sub *models.Subscriber) string {
	status := "выключена"
	if sub.Enabled {
		status = "включена"
	}
	return fmt.Sprintf("Ваши настройки рассылки:\n"+
		"Рассылка: <b>%s</b>\n"+
		"Слов за раз: <b>%d</b>, каждые <b>%d</b> мин.\n"+
		"Тестов за раз: <b>%d</b>, каждые <b>%d</b> мин.\n"+
		"Время рассылки: <b>%s</b>–<b>%s</b>\n\n%s",
		status,
		sub.WordsPerCycle, sub.WordIntervalMinutes,
		sub.QuizzesPerCycle, sub.QuizIntervalMinutes,
		html.EscapeString(sub.ActiveStart), html.EscapeString(sub.ActiveEnd),
		setSettingsHint)
}

const setSettingsHint = "Чтобы изменить настройки, отправьте:\n" +
	"<code>/setsettings &lt;слов&gt; &lt;начало&gt; &lt;окончание&gt; [интервал слов] [интервал тестов] [тестов]</code>\n" +
	"Например: <code>/setsettings 5 09:00 23:00 60 90 1</code>"

const helpText = "Список команд:\n" +
	"/start – Запуск и меню\n" +
	"/startmailing – Начать рассылку\n" +
	"/stopmailing – Остановить рассылку\n" +
	"/get5words – Получить 5 слов прямо сейчас\n" +
	"/random_word – Получить случайное слово\n" +
	"/random_test – Получить случайный тест\n" +
	"/progress – Ваш прогресс\n" +
	"/settings – Настройки рассылки\n" +
	"/help – Помощь\n\n" + setSettingsHint

const welcomeText = "Привет! Я бот для изучения эстонского языка на уровнях A1–A2.\n" +
	"Я присылаю новые слова по расписанию, а иногда устраиваю небольшие тесты.\n\n" +
	"Нажмите «Начать рассылку» или выберите команду в меню."
