package rag

import (
	"context"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"

	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"
	"pdf-rag/internal/prompt"
)

type fakeEmbedder struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	fallback []float32
	failAt   int
	err      error
	calls    int
	// profile overrides models.DefaultProfile when its Model is set.
	profile models.EmbeddingProfile
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil && (e.failAt == 0 || e.calls == e.failAt) {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return append([]float32(nil), v...), nil
	}
	return append([]float32(nil), e.fallback...), nil
}

func (e *fakeEmbedder) Dimension() int { return len(e.fallback) }

func (e *fakeEmbedder) Profile() models.EmbeddingProfile {
	p := e.profile
	if p.Model == "" {
		p = models.DefaultProfile
	}
	p.Dimension = len(e.fallback)
	return p
}

func (e *fakeEmbedder) Semantic() bool { return true }
func (e *fakeEmbedder) Close() error   { return nil }

type fakeExtractor struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (x *fakeExtractor) ExtractText(_ context.Context, _ []byte) (parser.Extraction, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.calls++
	if x.err != nil {
		return parser.Extraction{}, x.err
	}
	return parser.Extraction{Text: x.text, PageCount: 1}, nil
}

// scriptedGenerator streams fixed fragments and records the prompt it was given.
type scriptedGenerator struct {
	fragments []string
	got       []llms.MessageContent
}

func (g *scriptedGenerator) Chat(_ context.Context, msgs []llms.MessageContent) (string, error) {
	g.got = msgs
	return strings.Join(g.fragments, ""), nil
}

func (g *scriptedGenerator) ChatStream(_ context.Context, msgs []llms.MessageContent, onFragment func(string) error) error {
	g.got = msgs
	for _, f := range g.fragments {
		if err := onFragment(f); err != nil {
			return err
		}
	}
	return nil
}

func (g *scriptedGenerator) context() string {
	return prompt.ContextOf(g.got)
}

func pdfBytes(body string) []byte {
	return []byte("%PDF-1.4\n" + body)
}
