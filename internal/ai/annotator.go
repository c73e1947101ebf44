// Package ai writes usage notes for catalog words with an OpenAI chat model.
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/estbot/pkg/models"
	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

const systemPrompt = "You help Russian speakers learn Estonian. " +
	"For the given Estonian word write a short note: the basic forms (for verbs ma- and da-infinitive, " +
	"for nouns nominative, genitive and partitive singular), then two short example sentences in Estonian " +
	"each followed by its Russian translation. Plain text, no more than six lines."

// Config holds the annotator settings
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Annotator generates annotations for words
type Annotator struct {
	client *openai.Client
	cfg    Config
}

// NewAnnotator creates an annotator
func NewAnnotator(cfg Config) (*Annotator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 300
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &Annotator{client: openai.NewClientWithConfig(clientConfig), cfg: cfg}, nil
}

// Annotate returns a usage note for word
func (a *Annotator) Annotate(ctx context.Context, word models.Word) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	prompt := fmt.Sprintf("Word: %s\nTranslation: %s", word.Word, word.Translation)
	if word.Category != "" {
		prompt += "\nPart of speech: " + word.Category
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.cfg.Model,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: 0.7,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to annotate %q", word.Word)
	}
	if len(resp.Choices) == 0 {
		return "", errors.Errorf("no completion returned for %q", word.Word)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
