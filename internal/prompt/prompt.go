// Package prompt builds the messages sent to the chat model and cleans what comes back.
package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"pdf-rag/internal/models"
)

var (
	thinkRe = regexp.MustCompile(models.ThinkTag)
	tagRe   = regexp.MustCompile(models.MarkupTag)
)

// StripTags removes every markup tag, leaving the text between tags.
func StripTags(s string) string {
	return tagRe.ReplaceAllString(s, "")
}

// Sanitize removes reasoning blocks and markup from model output and trims it.
func Sanitize(output string) string {
	output = thinkRe.ReplaceAllString(output, "")
	return strings.TrimSpace(StripTags(output))
}

// BuildContext labels the retrieved chunk texts in ranked order. An empty
// result yields NoInformationMarker rather than an empty block.
func BuildContext(result models.RetrievalResult) string {
	if len(result) == 0 {
		return models.NoInformationMarker
	}
	parts := make([]string, 0, len(result))
	for i, m := range result {
		label := fmt.Sprintf(models.DocumentLabel, i+1)
		parts = append(parts, label+"\n"+strings.TrimSpace(StripTags(m.Chunk.Text)))
	}
	return strings.Join(parts, models.ContextSeparator)
}

// SystemPrompt renders the instruction template around a context block.
func SystemPrompt(context string) string {
	return fmt.Sprintf(models.SystemPromptTemplate, context, models.NoInformationMarker, models.RefusalPhrase)
}

// BuildPrompt returns the system instruction, the history in order and the
// query as the final user turn.
func BuildPrompt(query, context string, history []models.Message) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(history)+2)
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, SystemPrompt(context)))
	for _, m := range history {
		role := llms.ChatMessageTypeHuman
		if m.Role == models.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(role, m.Content))
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, query))
}

// ContextOf extracts the context block from a message sequence built by BuildPrompt.
func ContextOf(msgs []llms.MessageContent) string {
	if len(msgs) == 0 || msgs[0].Role != llms.ChatMessageTypeSystem {
		return ""
	}
	system := TextOf(msgs[0])
	if i := strings.LastIndex(system, "CONTEXT:\n"); i >= 0 {
		return strings.TrimSpace(system[i+len("CONTEXT:\n"):])
	}
	return ""
}

// LastUserText returns the text of the final human message.
func LastUserText(msgs []llms.MessageContent) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llms.ChatMessageTypeHuman {
			return TextOf(msgs[i])
		}
	}
	return ""
}

// TextOf concatenates the text parts of a message.
func TextOf(m llms.MessageContent) string {
	var b strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(llms.TextContent); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}
