package document

// Document is a source file handed to the retrieval index.
type Document struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// Passage is a chunk of document text plus its vector embedding, the unit of
// retrieval.
type Passage struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	Filename   string    `json:"filename"`
	ChunkIndex int       `json:"chunkIndex"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// ScoredPassage is a passage ranked by the vector index for a query.
type ScoredPassage struct {
	Passage
	Score float64 `json:"score"`
}

// Info summarizes an ingested document for listing endpoints.
type Info struct {
	Filename     string `json:"filename"`
	PassageCount int    `json:"passageCount"`
}
