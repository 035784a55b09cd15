// Package app wires configuration into a ready RAG service.
package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/chromemdb"
	"pdf-rag/internal/config"
	"pdf-rag/internal/db"
	"pdf-rag/internal/embedding"
	"pdf-rag/internal/llmservice"
	"pdf-rag/internal/parser"
	"pdf-rag/internal/rag"
	"pdf-rag/internal/store"
)

// NonSemanticSuffix is appended to the collection name when placeholder
// vectors are in use, keeping them apart from real embeddings.
const NonSemanticSuffix = "_nonsemantic"

type App struct {
	Config    *config.Config
	Embedder  embedding.Embedder
	Store     store.Store
	Generator llmservice.Generator
	RAG       *rag.RAG
	Namespace string

	chromem *chromemdb.Store
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	embedder, err := NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	namespace := Namespace(cfg.VectorStore.Collection, embedder)

	a := &App{Config: cfg, Embedder: embedder, Namespace: namespace}
	if err := a.openStore(ctx); err != nil {
		embedder.Close()
		return nil, err
	}

	a.Generator, err = llmservice.New(cfg.InferenceLLM)
	if err != nil {
		a.Close()
		return nil, err
	}

	chunker, err := parser.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.Overlap())
	if err != nil {
		a.Close()
		return nil, err
	}

	a.RAG = rag.NewRAG(a.Store, embedder, a.Generator, parser.NewPDFExtractor(), chunker, rag.Options{
		TopK:            cfg.RAG.TopK,
		MaxDistance:     cfg.RAG.MaxDistance,
		MaxUploadBytes:  cfg.RAG.MaxUploadBytes,
		UniqueFileNames: cfg.RAG.UniqueFileNames,
		StreamPolicy:    cfg.RAG.StreamPolicy,
	})

	log.Info().
		Str("backend", cfg.VectorStore.Backend).
		Str("namespace", namespace).
		Str("embedder", embedder.Profile().String()).
		Str("generator", cfg.InferenceLLM.Provider).
		Msg("Application ready")
	return a, nil
}

// NewEmbedder selects the single embedder for this process.
func NewEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	switch cfg.Embedding.Provider {
	case config.ProviderONNX:
		return embedding.LoadModel(cfg.Embedding), nil
	case config.ProviderOllama:
		return embedding.NewOllamaEmbedder(cfg.EmbedLLM, cfg.Embedding)
	case config.ProviderOpenAI:
		return embedding.NewOpenAIEmbedder(cfg.EmbedLLM, cfg.Embedding)
	case config.ProviderNonSemantic:
		log.Warn().Msg("Using non-semantic embeddings, retrieval results carry no meaning")
		return embedding.NewNonSemantic(cfg.Embedding.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

// Namespace returns the index namespace for the embedder.
func Namespace(collection string, embedder embedding.Embedder) string {
	if embedder.Semantic() {
		return collection
	}
	return collection + NonSemanticSuffix
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	dim := cfg.Embedding.Dimension

	switch cfg.VectorStore.Backend {
	case config.BackendMemory:
		a.Store = store.NewMemory(dim)

	case config.BackendPGVector:
		sqldb, err := db.ConnectDB(cfg.Database)
		if err != nil {
			return err
		}
		bunDB := db.NewDB(sqldb, cfg.Database.Debug)
		if err := db.InitDB(ctx, bunDB); err != nil {
			bunDB.Close()
			return fmt.Errorf("failed to initialise database: %w", err)
		}
		a.Store = db.NewPGStore(bunDB, a.Namespace, dim)

	case config.BackendChromem:
		registryPath := cfg.VectorStore.RegistryPath
		if cfg.VectorStore.InMemory {
			registryPath = db.MemoryPath
		}
		registry, err := db.OpenSQLiteRegistry(ctx, registryPath, a.Namespace, cfg.Database.Debug)
		if err != nil {
			return err
		}
		cs, err := chromemdb.NewStore(chromemdb.Options{
			Path:          cfg.VectorStore.Path,
			Collection:    a.Namespace,
			InMemory:      cfg.VectorStore.InMemory,
			Compress:      cfg.VectorStore.Compress,
			EncryptionKey: cfg.VectorStore.EncryptionKey,
			Dimension:     dim,
		}, registry)
		if err != nil {
			registry.Close()
			return err
		}
		a.chromem = cs
		a.Store = cs

	default:
		return fmt.Errorf("unknown vector store backend %q", cfg.VectorStore.Backend)
	}
	return nil
}

// Export writes the chromem collection to path, or to its default location when path is empty.
func (a *App) Export(ctx context.Context, path string) (string, error) {
	if a.chromem == nil {
		return "", fmt.Errorf("export needs the %s backend, configured backend is %s", config.BackendChromem, a.Config.VectorStore.Backend)
	}
	if path == "" {
		path = a.chromem.ExportPath()
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, a.chromem.Export(ctx, path)
}

// Import loads a collection written by Export and returns how many documents it holds.
func (a *App) Import(ctx context.Context, path string) (int, error) {
	if a.chromem == nil {
		return 0, fmt.Errorf("import needs the %s backend, configured backend is %s", config.BackendChromem, a.Config.VectorStore.Backend)
	}
	return a.chromem.Import(ctx, path)
}

func (a *App) Close() error {
	var err error
	if a.Store != nil {
		err = a.Store.Close()
	}
	if a.Embedder != nil {
		if cerr := a.Embedder.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
