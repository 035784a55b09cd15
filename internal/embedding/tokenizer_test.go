package embedding

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-rag/internal/models"
)

func testVocab() map[string]int64 {
	return map[string]int64{
		"[PAD]": 0,
		"[UNK]": 1,
		"[CLS]": 2,
		"[SEP]": 3,
		"hello": 4,
		"world": 5,
		"play":  6,
		"##ing": 7,
		",":     8,
		"cafe":  9,
	}
}

func newTestTokenizer(t *testing.T, maxTokens int) *Tokenizer {
	t.Helper()
	tok, err := NewTokenizer(testVocab(), maxTokens)
	require.NoError(t, err)
	return tok
}

func TestNewTokenizerRequiresUnknownToken(t *testing.T) {
	_, err := NewTokenizer(map[string]int64{"hello": 0}, 16)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrModelUnavailable)
}

func TestTokenize(t *testing.T) {
	tok := newTestTokenizer(t, 16)

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"lowercase and punctuation", "Hello, World", []string{"hello", ",", "world"}},
		{"word pieces", "playing", []string{"play", "##ing"}},
		{"accents stripped", "Café", []string{"cafe"}},
		{"unknown word", "xyz", []string{UnknownToken}},
		{"partial match is unknown", "plays", []string{UnknownToken}},
		{"empty", "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tok.Tokenize(tt.in))
		})
	}
}

func TestEncodeAddsSpecialTokens(t *testing.T) {
	tok := newTestTokenizer(t, 16)

	enc := tok.Encode("hello world")
	assert.Equal(t, []string{"[CLS]", "hello", "world", "[SEP]"}, enc.Tokens)
	assert.Equal(t, []int64{2, 4, 5, 3}, enc.IDs)
	assert.Equal(t, []int64{1, 1, 1, 1}, enc.AttentionMask)
	assert.Equal(t, []int64{0, 0, 0, 0}, enc.TypeIDs)
}

func TestEncodeTruncates(t *testing.T) {
	tok := newTestTokenizer(t, 4)

	enc := tok.Encode("hello world hello world")
	assert.Equal(t, []string{"[CLS]", "hello", "world", "[SEP]"}, enc.Tokens)
}

func TestEncodeEmptyWithoutSpecials(t *testing.T) {
	tok, err := NewTokenizer(map[string]int64{"[UNK]": 0}, 8)
	require.NoError(t, err)

	enc := tok.Encode("")
	assert.Equal(t, []int64{0}, enc.IDs)
	assert.Equal(t, []int64{1}, enc.AttentionMask)
}

func TestLoadVocab(t *testing.T) {
	dir := t.TempDir()

	txt := filepath.Join(dir, "vocab.txt")
	require.NoError(t, os.WriteFile(txt, []byte("[PAD]\n[UNK]\nhello\n"), 0o644))
	vocab, err := LoadVocab(txt)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"[PAD]": 0, "[UNK]": 1, "hello": 2}, vocab)

	js := filepath.Join(dir, "tokenizer.json")
	require.NoError(t, os.WriteFile(js, []byte(`{"model":{"type":"WordPiece","vocab":{"[UNK]":0,"world":1}}}`), 0o644))
	vocab, err = LoadVocab(js)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"[UNK]": 0, "world": 1}, vocab)

	_, err = LoadVocab(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}
