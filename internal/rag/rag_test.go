package rag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-rag/internal/embedding"
	"pdf-rag/internal/llmservice"
	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"
	"pdf-rag/internal/prompt"
	"pdf-rag/internal/store"
)

type fixture struct {
	rag       *RAG
	store     *store.Memory
	embedder  *fakeEmbedder
	extractor *fakeExtractor
}

func newFixture(t *testing.T, gen llmservice.Generator, opts Options) *fixture {
	t.Helper()
	chunker, err := parser.NewChunker(20, 5)
	require.NoError(t, err)

	f := &fixture{
		store:     store.NewMemory(2),
		embedder:  &fakeEmbedder{fallback: []float32{1, 0}},
		extractor: &fakeExtractor{text: "The warranty   lasts two years.\n\n\nReturns are accepted within 30 days."},
	}
	if gen == nil {
		gen = llmservice.Offline{}
	}
	f.rag = NewRAG(f.store, f.embedder, gen, f.extractor, chunker, opts)
	return f
}

func (f *fixture) documents(t *testing.T) []models.UploadedDocument {
	t.Helper()
	docs, err := f.rag.ListDocuments(context.Background())
	require.NoError(t, err)
	return docs
}

func TestIngest(t *testing.T) {
	f := newFixture(t, nil, Options{})

	n, err := f.rag.Ingest(context.Background(), "manual.pdf", pdfBytes("one"))
	require.NoError(t, err)

	cleaned := parser.CleanText(f.extractor.text)
	chunker, _ := parser.NewChunker(20, 5)
	assert.Equal(t, len(chunker.Chunk(cleaned)), n)
	assert.Equal(t, n, f.embedder.calls)

	docs := f.documents(t)
	require.Len(t, docs, 1)
	assert.Equal(t, "manual.pdf", docs[0].FileName)
	assert.Equal(t, n, docs[0].ChunkCount)
	assert.Len(t, docs[0].ContentHash, 64)
}

func TestIngestRejectsDuplicateContentUnderAnotherName(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	_, err := f.rag.Ingest(ctx, "a.pdf", pdfBytes("same"))
	require.NoError(t, err)

	_, err = f.rag.Ingest(ctx, "b.pdf", pdfBytes("same"))
	assert.ErrorIs(t, err, models.ErrDuplicateContent)
	assert.Len(t, f.documents(t), 1)
	assert.Equal(t, 1, f.extractor.calls)
}

func TestIngestFileNamePolicy(t *testing.T) {
	f := newFixture(t, nil, Options{UniqueFileNames: true})
	ctx := context.Background()

	_, err := f.rag.Ingest(ctx, "a.pdf", pdfBytes("v1"))
	require.NoError(t, err)
	_, err = f.rag.Ingest(ctx, "a.pdf", pdfBytes("v2"))
	assert.ErrorIs(t, err, models.ErrDuplicateFileName)
}

func TestIngestValidatesUpload(t *testing.T) {
	f := newFixture(t, nil, Options{MaxUploadBytes: 64})
	ctx := context.Background()

	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"too large", pdfBytes(strings.Repeat("x", 100))},
		{"not a pdf", []byte("PK\x03\x04 zip archive")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.rag.Ingest(ctx, "upload.pdf", tt.raw)
			assert.ErrorIs(t, err, models.ErrUploadRejected)
		})
	}
	assert.Zero(t, f.extractor.calls)
	assert.Empty(t, f.documents(t))
}

func TestIngestExtractionFailureSkipsEmbedding(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.extractor.err = models.ErrExtractionFailed

	_, err := f.rag.Ingest(context.Background(), "broken.pdf", pdfBytes("x"))
	assert.ErrorIs(t, err, models.ErrExtractionFailed)
	assert.Zero(t, f.embedder.calls)
	assert.Empty(t, f.documents(t))
}

func TestIngestEmbeddingFailureCommitsNothing(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.embedder.err = models.ErrInference
	f.embedder.failAt = 2

	_, err := f.rag.Ingest(context.Background(), "manual.pdf", pdfBytes("x"))
	assert.ErrorIs(t, err, models.ErrInference)
	assert.Empty(t, f.documents(t))

	res, err := f.store.NearestNeighbors(context.Background(), []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestIngestWithUnavailableModel(t *testing.T) {
	chunker := parser.DefaultChunker()
	st := store.NewMemory(384)
	unavailable := embedding.NewUnavailable(errors.New("model.onnx not found"), models.DefaultProfile)
	r := NewRAG(st, unavailable, llmservice.Offline{}, &fakeExtractor{text: "some text"}, chunker, Options{})

	_, err := r.Ingest(context.Background(), "a.pdf", pdfBytes("x"))
	assert.ErrorIs(t, err, models.ErrModelUnavailable)
	docs, err := st.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestIngestCancelled(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.rag.Ingest(ctx, "a.pdf", pdfBytes("x"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.documents(t))
}

func TestIngestEmptyText(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.extractor.text = "  \n\n  "

	n, err := f.rag.Ingest(context.Background(), "blank.pdf", pdfBytes("x"))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.documents(t))
}

func TestQueryEmptyIndexRefuses(t *testing.T) {
	f := newFixture(t, nil, Options{})

	res, err := f.rag.Retriever().Retrieve(context.Background(), "anything", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.Equal(t, models.NoInformationMarker, prompt.BuildContext(res))

	resp, err := f.rag.Query(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Equal(t, models.RefusalPhrase, resp.Content)
	assert.Empty(t, resp.Matches)
}

func TestQueryAnswersFromContext(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	_, err := f.rag.Ingest(ctx, "manual.pdf", pdfBytes("x"))
	require.NoError(t, err)

	resp, err := f.rag.Query(ctx, "how long is the warranty?", nil)
	require.NoError(t, err)
	assert.NotEqual(t, models.RefusalPhrase, resp.Content)
	assert.Equal(t, resp.Matches[0].Chunk.Text, resp.Content)
	assert.Len(t, resp.Matches.DocumentIDs(), 1)
}

func TestQuerySanitizesAndKeepsHistory(t *testing.T) {
	gen := &scriptedGenerator{fragments: []string{"<think>hmm</think>", "<b>two</b> years"}}
	f := newFixture(t, gen, Options{})

	history := []models.Message{{Role: models.RoleUser, Content: "hi"}, {Role: models.RoleAssistant, Content: "hello"}}
	resp, err := f.rag.Query(context.Background(), "warranty?", history)
	require.NoError(t, err)
	assert.Equal(t, "two years", resp.Content)

	require.Len(t, gen.got, 4)
	assert.Equal(t, "warranty?", prompt.LastUserText(gen.got))
	assert.Equal(t, models.NoInformationMarker, gen.context())
	assert.Len(t, history, 2)
}

func TestQueryStreamPolicies(t *testing.T) {
	fragments := []string{"<b>two", "</b> ye", "ars"}

	t.Run("final", func(t *testing.T) {
		f := newFixture(t, &scriptedGenerator{fragments: fragments}, Options{StreamPolicy: prompt.PolicyFinal})
		var got []string
		resp, err := f.rag.QueryStream(context.Background(), "q", nil, func(s string) error {
			got = append(got, s)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"two years"}, got)
		assert.Equal(t, "two years", resp.Content)
	})

	t.Run("incremental", func(t *testing.T) {
		f := newFixture(t, &scriptedGenerator{fragments: fragments}, Options{StreamPolicy: prompt.PolicyIncremental})
		var got []string
		resp, err := f.rag.QueryStream(context.Background(), "q", nil, func(s string) error {
			got = append(got, s)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"two", " ye", "ars"}, got)
		assert.Equal(t, "two years", resp.Content)
	})
}

func TestQueryStreamStopsWhenConsumerFails(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{fragments: []string{"a", "b", "c"}}, Options{StreamPolicy: prompt.PolicyIncremental})
	gone := errors.New("client disconnected")

	calls := 0
	_, err := f.rag.QueryStream(context.Background(), "q", nil, func(string) error {
		calls++
		return gone
	})
	assert.ErrorIs(t, err, gone)
	assert.Equal(t, 1, calls)
}

func TestDeleteDocumentAndClear(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	_, err := f.rag.Ingest(ctx, "a.pdf", pdfBytes("a"))
	require.NoError(t, err)
	_, err = f.rag.Ingest(ctx, "b.pdf", pdfBytes("b"))
	require.NoError(t, err)

	n, err := f.rag.DeleteDocument(ctx, "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	docs := f.documents(t)
	require.Len(t, docs, 1)
	assert.Equal(t, "b.pdf", docs[0].FileName)

	n, err = f.rag.DeleteDocument(ctx, "missing.pdf")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, f.rag.Clear(ctx))
	require.NoError(t, f.rag.Clear(ctx))
	assert.Empty(t, f.documents(t))

	_, err = f.rag.Ingest(ctx, "a.pdf", pdfBytes("a"))
	assert.NoError(t, err, "content can be uploaded again after clear")
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil, Options{})
	h := f.rag.Health(context.Background())
	assert.True(t, h.OK())
	assert.True(t, h.Semantic)

	f.embedder.err = models.ErrModelUnavailable
	h = f.rag.Health(context.Background())
	assert.False(t, h.OK())
	assert.ErrorIs(t, h.Embedder, models.ErrModelUnavailable)
}

func TestRetrieveOrderingAndThreshold(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemory(2)
	at := func(d float64) []float32 {
		c := 1 - d
		return []float32{float32(c), float32(math.Sqrt(1 - c*c))}
	}
	chunk := func(doc string, v []float32) models.IndexedChunk {
		return models.IndexedChunk{ID: doc, Chunk: models.Chunk{Text: doc, SourceDocumentID: doc, TotalChunks: 1}, Embedding: v}
	}
	require.NoError(t, idx.Insert(ctx,
		chunk("d1", at(0.1)),
		chunk("d3", at(0.3)),
		chunk("d2", []float32{4, 3}),
	))

	r := NewRetriever(&fakeEmbedder{fallback: []float32{1, 0}}, idx)

	res, err := r.Retrieve(ctx, "query", 3, nil)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, []string{"d1", "d2", "d3"}, res.Texts())
	assert.InDelta(t, 0.1, res[0].Distance, 1e-6)
	assert.InDelta(t, 0.2, res[1].Distance, 1e-6)
	assert.InDelta(t, 0.3, res[2].Distance, 1e-6)

	limit := 0.2
	res, err = r.Retrieve(ctx, "query", 3, &limit)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2"}, res.Texts())
}

func TestProfileMismatchIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Options{})
	_, err := f.rag.Ingest(ctx, "mean.pdf", pdfBytes("mean"))
	require.NoError(t, err)

	cls := models.DefaultProfile
	cls.Model = "other-model"
	cls.Pooling = models.PoolingCLS
	other := &fakeEmbedder{fallback: []float32{1, 0}, profile: cls}
	chunker, err := parser.NewChunker(20, 5)
	require.NoError(t, err)
	mixed := NewRAG(f.store, other, llmservice.Offline{}, &fakeExtractor{text: "other text"}, chunker, Options{})

	_, err = mixed.Ingest(ctx, "cls.pdf", pdfBytes("cls"))
	assert.ErrorIs(t, err, models.ErrProfileMismatch)
	assert.Zero(t, other.calls, "nothing may be embedded under the wrong profile")
	assert.Len(t, f.documents(t), 1)

	_, err = mixed.Query(ctx, "question", nil)
	assert.ErrorIs(t, err, models.ErrProfileMismatch)

	h := mixed.Health(ctx)
	assert.False(t, h.OK())
	assert.ErrorIs(t, h.ProfileMatch, models.ErrProfileMismatch)

	require.NoError(t, mixed.Clear(ctx))
	_, err = mixed.Ingest(ctx, "cls.pdf", pdfBytes("cls"))
	require.NoError(t, err)
	_, err = f.rag.Query(ctx, "question", nil)
	assert.ErrorIs(t, err, models.ErrProfileMismatch)
}

func TestConcurrentIngestOfSameContent(t *testing.T) {
	f := newFixture(t, nil, Options{})
	const n = 8

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.rag.Ingest(context.Background(), fmt.Sprintf("copy-%d.pdf", i), pdfBytes("identical"))
		}(i)
	}
	wg.Wait()

	committed, duplicates := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			committed++
		case errors.Is(err, models.ErrDuplicateContent):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, committed)
	assert.Equal(t, n-1, duplicates)
	assert.Len(t, f.documents(t), 1)
}

func TestRetrieveWhileIngesting(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	const n = 8

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := f.rag.Ingest(ctx, fmt.Sprintf("doc-%d.pdf", i), pdfBytes(fmt.Sprintf("body %d", i)))
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				res, err := f.rag.Retriever().Retrieve(ctx, "warranty", 3, nil)
				if !assert.NoError(t, err) {
					return
				}
				assert.LessOrEqual(t, len(res), 3)
				_, err = f.rag.Query(ctx, "warranty", nil)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, f.documents(t), n)
}
