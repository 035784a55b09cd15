package parser

import (
	"fmt"
	"strings"

	"pdf-rag/internal/models"
)

// Chunker splits cleaned text into fixed-size windows that overlap by a fixed number of characters.
// Sizes are counted in runes so a window never splits a UTF-8 sequence.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// DefaultChunker uses 500 character windows with a 50 character overlap.
func DefaultChunker() *Chunker {
	return &Chunker{size: models.DefaultChunkSize, overlap: models.DefaultChunkOverlap}
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }
func (c *Chunker) Stride() int  { return c.size - c.overlap }

// Chunk returns the windows of content in order. Empty input yields no chunks.
func (c *Chunker) Chunk(content string) []string {
	if content == "" {
		return nil
	}

	runes := []rune(content)
	contentLen := len(runes)

	var chunks []string
	for start := 0; start < contentLen; start += c.Stride() {
		end := min(start+c.size, contentLen)

		window := string(runes[start:end])
		if strings.TrimSpace(window) != "" {
			chunks = append(chunks, window)
		}

		if end == contentLen {
			break
		}
	}
	return chunks
}

// Split chunks content and attaches positions for the given document.
func (c *Chunker) Split(documentID, content string) []models.Chunk {
	windows := c.Chunk(content)
	chunks := make([]models.Chunk, len(windows))
	for i, w := range windows {
		chunks[i] = models.Chunk{
			Text:             w,
			SourceDocumentID: documentID,
			ChunkIndex:       i,
			TotalChunks:      len(windows),
		}
	}
	return chunks
}

// Reassemble drops the overlapping prefix of every chunk after the first
// and concatenates the rest, reconstructing the text Chunk was given.
func (c *Chunker) Reassemble(chunks []string) string {
	var content strings.Builder
	for i, chunk := range chunks {
		if i == 0 {
			content.WriteString(chunk)
			continue
		}
		runes := []rune(chunk)
		if len(runes) > c.overlap {
			content.WriteString(string(runes[c.overlap:]))
		}
	}
	return content.String()
}
