package models

import "time"

// Chunk is a contiguous slice of a document's cleaned text.
type Chunk struct {
	Text             string
	SourceDocumentID string
	ChunkIndex       int
	TotalChunks      int
}

// Valid reports whether the chunk position is inside its document.
func (c Chunk) Valid() bool {
	return c.ChunkIndex >= 0 && c.ChunkIndex < c.TotalChunks
}

// IndexedChunk is the persisted unit: a chunk with its embedding and metadata.
type IndexedChunk struct {
	ID        string
	Chunk     Chunk
	Embedding []float32
	Metadata  Metadata
}

// UploadedDocument is one ingested source file.
type UploadedDocument struct {
	ID          string
	FileName    string
	ContentHash string
	UploadedAt  time.Time
	ChunkCount  int
	PageCount   int
}

// Match is a retrieved chunk with its distance from the query vector.
type Match struct {
	Chunk    Chunk
	Distance float64
}

// RetrievalResult is ordered ascending by distance.
type RetrievalResult []Match

// Texts returns the chunk texts in ranked order.
func (r RetrievalResult) Texts() []string {
	out := make([]string, len(r))
	for i, m := range r {
		out[i] = m.Chunk.Text
	}
	return out
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a caller-owned conversation history.
type Message struct {
	Role    Role
	Content string
}

// AppendExchange returns a new history with the user query and the assistant answer appended.
func AppendExchange(history []Message, query, answer string) []Message {
	out := make([]Message, 0, len(history)+2)
	out = append(out, history...)
	return append(out,
		Message{Role: RoleUser, Content: query},
		Message{Role: RoleAssistant, Content: answer},
	)
}

// PromptResponse is the outcome of a query.
type PromptResponse struct {
	Query   string
	Content string
	Matches RetrievalResult
}

// DocumentIDs returns the distinct source documents of the matches in ranked order.
func (r RetrievalResult) DocumentIDs() []string {
	seen := make(map[string]bool, len(r))
	var ids []string
	for _, m := range r {
		if !seen[m.Chunk.SourceDocumentID] {
			seen[m.Chunk.SourceDocumentID] = true
			ids = append(ids, m.Chunk.SourceDocumentID)
		}
	}
	return ids
}
