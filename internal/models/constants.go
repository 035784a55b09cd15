package models

const (
	ThinkTag         = `(?s)<think>.*?</think>`
	MarkupTag        = `<[^>]*>`
	ContextSeparator = "\n\n"
	DocumentLabel    = "Document %d:"

	// RefusalPhrase is emitted verbatim by the model when the context does not hold the answer.
	RefusalPhrase = "I'm sorry, but I couldn't find the answer to that in the uploaded documents."

	// NoInformationMarker replaces the context block when retrieval returned nothing.
	NoInformationMarker = "NO RELEVANT INFORMATION WAS FOUND IN THE UPLOADED DOCUMENTS."

	SchemaVersion = 1
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
	DefaultDimension    = 384
	DefaultTopK         = 5
	DefaultMaxTokens    = 512
)

var (
	SystemPromptTemplate = `You are a helpful assistant that answers questions about the user's uploaded PDF documents.

Rules:
1. Answer ONLY with information found in the CONTEXT below. Do not use prior knowledge.
2. If the CONTEXT does not contain the answer, or it says "%[2]s", reply with exactly this sentence and nothing else:
%[3]s
3. Formatting: use a bulleted or numbered list when the answer enumerates several items or steps; otherwise answer in one or two short paragraphs. Do not use HTML.

CONTEXT:
%[1]s
`
)
