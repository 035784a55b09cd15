package embedding

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"pdf-rag/internal/models"
)

const (
	UnknownToken = "[UNK]"
	ClassToken   = "[CLS]"
	SepToken     = "[SEP]"

	continuationPrefix = "##"
	maxWordRunes       = 100
)

// Encoding is a tokenized sequence ready for the model.
type Encoding struct {
	Tokens        []string
	IDs           []int64
	AttentionMask []int64
	TypeIDs       []int64
}

// Tokenizer is a lower-casing WordPiece tokenizer over a fixed vocabulary.
type Tokenizer struct {
	vocab     map[string]int64
	unkID     int64
	clsID     int64
	sepID     int64
	hasCLS    bool
	hasSEP    bool
	maxTokens int
}

// NewTokenizer requires the vocabulary to define [UNK].
func NewTokenizer(vocab map[string]int64, maxTokens int) (*Tokenizer, error) {
	unk, ok := vocab[UnknownToken]
	if !ok {
		return nil, fmt.Errorf("%w: vocabulary has no %s token", models.ErrModelUnavailable, UnknownToken)
	}
	if maxTokens <= 0 {
		maxTokens = models.DefaultMaxTokens
	}
	t := &Tokenizer{vocab: vocab, unkID: unk, maxTokens: maxTokens}
	t.clsID, t.hasCLS = vocab[ClassToken]
	t.sepID, t.hasSEP = vocab[SepToken]
	if t.specials() >= maxTokens {
		return nil, fmt.Errorf("max tokens %d leaves no room for text", maxTokens)
	}
	return t, nil
}

func (t *Tokenizer) VocabSize() int { return len(t.vocab) }

func (t *Tokenizer) specials() int {
	n := 0
	if t.hasCLS {
		n++
	}
	if t.hasSEP {
		n++
	}
	return n
}

// Tokenize splits text into WordPiece tokens without special tokens.
func (t *Tokenizer) Tokenize(text string) []string {
	var pieces []string
	for _, word := range basicTokenize(text) {
		pieces = append(pieces, t.wordPiece(word)...)
	}
	return pieces
}

// Encode tokenizes text, maps tokens to ids, adds [CLS]/[SEP] when the
// vocabulary has them and truncates to the configured maximum length.
// The attention mask is all ones since a single sequence needs no padding.
func (t *Tokenizer) Encode(text string) Encoding {
	tokens := t.Tokenize(text)
	if limit := t.maxTokens - t.specials(); len(tokens) > limit {
		tokens = tokens[:limit]
	}

	seq := make([]string, 0, len(tokens)+2)
	if t.hasCLS {
		seq = append(seq, ClassToken)
	}
	seq = append(seq, tokens...)
	if t.hasSEP {
		seq = append(seq, SepToken)
	}
	if len(seq) == 0 {
		seq = append(seq, UnknownToken)
	}

	enc := Encoding{
		Tokens:        seq,
		IDs:           make([]int64, len(seq)),
		AttentionMask: make([]int64, len(seq)),
		TypeIDs:       make([]int64, len(seq)),
	}
	for i, tok := range seq {
		enc.IDs[i] = t.id(tok)
		enc.AttentionMask[i] = 1
	}
	return enc
}

func (t *Tokenizer) id(token string) int64 {
	if id, ok := t.vocab[token]; ok {
		return id
	}
	return t.unkID
}

// wordPiece splits one word by greedy longest-match-first. A word with any
// unmatched remainder becomes a single [UNK].
func (t *Tokenizer) wordPiece(word string) []string {
	chars := []rune(word)
	if len(chars) > maxWordRunes {
		return []string{UnknownToken}
	}

	var pieces []string
	for start := 0; start < len(chars); {
		end := len(chars)
		var piece string
		for end > start {
			candidate := string(chars[start:end])
			if start > 0 {
				candidate = continuationPrefix + candidate
			}
			if _, ok := t.vocab[candidate]; ok {
				piece = candidate
				break
			}
			end--
		}
		if piece == "" {
			return []string{UnknownToken}
		}
		pieces = append(pieces, piece)
		start = end
	}
	return pieces
}

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// basicTokenize lower-cases, strips accents and splits on whitespace,
// punctuation and CJK ideographs.
func basicTokenize(text string) []string {
	lowered := strings.ToLower(text)
	if stripped, _, err := transform.String(stripAccents, lowered); err == nil {
		lowered = stripped
	}

	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range lowered {
		switch {
		case r == 0 || r == unicode.ReplacementChar || (unicode.IsControl(r) && !unicode.IsSpace(r)):
			continue
		case unicode.IsSpace(r):
			flush()
		case isPunctuation(r) || unicode.Is(unicode.Han, r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

// LoadVocab reads a vocabulary from a HuggingFace tokenizer.json (model.vocab)
// or from a vocab.txt with one token per line.
func LoadVocab(path string) (map[string]int64, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return loadTokenizerJSON(path)
	}
	return loadVocabTxt(path)
}

func loadTokenizerJSON(path string) (map[string]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Model struct {
			Vocab map[string]int64 `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(doc.Model.Vocab) == 0 {
		return nil, fmt.Errorf("%s has no model.vocab", path)
	}
	return doc.Model.Vocab, nil
}

func loadVocabTxt(path string) (map[string]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(f)
	var id int64
	for scanner.Scan() {
		token := strings.TrimRight(scanner.Text(), "\r")
		if token != "" {
			vocab[token] = id
		}
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}
	return vocab, nil
}
