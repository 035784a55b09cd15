package llmservice

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
	"pdf-rag/internal/prompt"
)

type fakeModel struct {
	fragments []string
	err       error
	got       []llms.MessageContent
}

func (m *fakeModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.got = msgs
	if m.err != nil {
		return nil, m.err
	}
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}
	var full string
	for _, f := range m.fragments {
		if opts.StreamingFunc != nil {
			if err := opts.StreamingFunc(ctx, []byte(f)); err != nil {
				return nil, err
			}
		}
		full += f
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: full}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, p string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, p, options...)
}

func TestClientChat(t *testing.T) {
	model := &fakeModel{fragments: []string{"hello ", "world"}}
	c := NewClient(model, "fake", 0, 0)

	msgs := prompt.BuildPrompt("q", "ctx", nil)
	out, err := c.Chat(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
	assert.Equal(t, msgs, model.got)
}

func TestClientChatError(t *testing.T) {
	c := NewClient(&fakeModel{err: errors.New("502 bad gateway")}, "fake", 0, 0)

	_, err := c.Chat(context.Background(), nil)
	assert.ErrorIs(t, err, models.ErrGeneration)
}

func TestClientChatStream(t *testing.T) {
	c := NewClient(&fakeModel{fragments: []string{"a", "b", "c"}}, "fake", 0.2, 0)

	var got []string
	err := c.ChatStream(context.Background(), nil, func(s string) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestClientChatStreamStopsOnFragmentError(t *testing.T) {
	c := NewClient(&fakeModel{fragments: []string{"a", "b", "c"}}, "fake", 0, 0)
	stop := errors.New("stop")

	var got []string
	err := c.ChatStream(context.Background(), nil, func(s string) error {
		got = append(got, s)
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []string{"a"}, got)
}

func TestNewOffline(t *testing.T) {
	g, err := New(config.LLMConfig{Provider: config.ProviderOffline})
	require.NoError(t, err)
	assert.IsType(t, Offline{}, g)

	_, err = New(config.LLMConfig{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}
