package llmservice

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"pdf-rag/internal/models"
	"pdf-rag/internal/prompt"
)

// Offline answers without a model. It returns the refusal phrase when the
// context holds no information and otherwise quotes the first context document.
type Offline struct{}

var _ Generator = Offline{}

func (Offline) Chat(ctx context.Context, messages []llms.MessageContent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return answer(prompt.ContextOf(messages)), nil
}

func (o Offline) ChatStream(ctx context.Context, messages []llms.MessageContent, onFragment func(string) error) error {
	text, err := o.Chat(ctx, messages)
	if err != nil {
		return err
	}
	for _, word := range strings.SplitAfter(text, " ") {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onFragment(word); err != nil {
			return err
		}
	}
	return nil
}

func answer(block string) string {
	block = strings.TrimSpace(block)
	if block == "" || block == models.NoInformationMarker {
		return models.RefusalPhrase
	}

	first, _, _ := strings.Cut(block, models.ContextSeparator)
	if _, body, ok := strings.Cut(first, "\n"); ok {
		first = body
	}
	first = strings.TrimSpace(first)
	if first == "" {
		return models.RefusalPhrase
	}
	return first
}
