package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

var (
	envOnce sync.Once
	envErr  error
)

func initEnvironment(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// OnnxSession runs a transformer encoder exported to ONNX. The runtime
// session is not safe for concurrent use, so calls are serialised.
type OnnxSession struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	inputNames []string
	hidden     int
}

var _ Session = (*OnnxSession)(nil)

func NewOnnxSession(cfg config.EmbeddingConfig) (*OnnxSession, error) {
	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialise onnxruntime: %w", err)
	}
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, cfg.InputNames, []string{cfg.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", cfg.ModelPath, err)
	}
	return &OnnxSession{
		session:    session,
		inputNames: cfg.InputNames,
		hidden:     cfg.Dimension,
	}, nil
}

func (s *OnnxSession) Run(ctx context.Context, enc Encoding) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, models.ErrModelUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seqLen := int64(len(enc.IDs))
	shape := ort.NewShape(1, seqLen)

	inputs := make([]ort.Value, 0, len(s.inputNames))
	defer func() {
		for _, in := range inputs {
			in.Destroy()
		}
	}()
	for _, name := range s.inputNames {
		t, err := ort.NewTensor(shape, inputFor(name, enc))
		if err != nil {
			return nil, fmt.Errorf("failed to build input %s: %w", name, err)
		}
		inputs = append(inputs, t)
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, seqLen, int64(s.hidden)))
	if err != nil {
		return nil, fmt.Errorf("failed to allocate output: %w", err)
	}
	defer output.Destroy()

	if err := s.session.Run(inputs, []ort.Value{output}); err != nil {
		return nil, err
	}

	data := output.GetData()
	tokens := make([][]float32, seqLen)
	for i := range tokens {
		row := make([]float32, s.hidden)
		copy(row, data[i*s.hidden:(i+1)*s.hidden])
		tokens[i] = row
	}
	return tokens, nil
}

// inputFor picks the tensor data for a model input by its conventional name.
func inputFor(name string, enc Encoding) []int64 {
	switch {
	case strings.Contains(name, "mask"):
		return enc.AttentionMask
	case strings.Contains(name, "type"):
		return enc.TypeIDs
	default:
		return enc.IDs
	}
}

func (s *OnnxSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}

// LoadModel builds the local ONNX embedder. When the vocabulary or model
// cannot be loaded it logs the cause and returns an Unavailable embedder, so
// the process still starts and every embed call reports the model as missing.
func LoadModel(cfg config.EmbeddingConfig) Embedder {
	profile := cfg.Profile()

	vocab, err := LoadVocab(cfg.TokenizerPath)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.TokenizerPath).Msg("Failed to load tokenizer")
		return NewUnavailable(err, profile)
	}
	tokenizer, err := NewTokenizer(vocab, cfg.MaxTokens)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build tokenizer")
		return NewUnavailable(err, profile)
	}

	session, err := NewOnnxSession(cfg)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.ModelPath).Msg("Failed to load embedding model")
		return NewUnavailable(err, profile)
	}

	log.Info().
		Str("model", profile.Model).
		Int("vocab", tokenizer.VocabSize()).
		Int("dimension", profile.Dimension).
		Str("pooling", string(profile.Pooling)).
		Msg("Embedding model loaded")

	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	return NewModelEmbedder(tokenizer, session, profile, cfg.ShouldNormalize(), timeout)
}
