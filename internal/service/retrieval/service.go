package retrieval

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/esp1745/voicerag/internal/model/document"
	"github.com/google/uuid"
)

// Embedder computes vector embeddings for a batch of texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex stores passages and ranks them against a query vector.
type VectorIndex interface {
	Upsert(ctx context.Context, passages []document.Passage) error
	Search(ctx context.Context, embedding []float32, k int) ([]document.ScoredPassage, error)
	DeleteByFilename(ctx context.Context, filename string) error
	ListDocuments(ctx context.Context) ([]document.Info, error)
}

// Options tune chunking and retrieval depth.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
}

// Service coordinates document ingestion and similarity queries. Retrieval is
// best-effort: query-time upstream failures degrade to an empty passage list
// so the conversation turn can still complete.
type Service struct {
	embedder Embedder
	index    VectorIndex
	opts     Options
}

// NewService wires an embedder and a vector index.
func NewService(embedder Embedder, index VectorIndex, opts Options) *Service {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.ChunkOverlap <= 0 {
		opts.ChunkOverlap = defaultChunkOverlap
	}
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	return &Service{embedder: embedder, index: index, opts: opts}
}

// TopK reports the configured retrieval depth.
func (s *Service) TopK() int {
	return s.opts.TopK
}

// Ingest chunks a document, embeds each chunk, and stores the passages.
// Returns the number of passages added.
func (s *Service) Ingest(ctx context.Context, doc document.Document) (int, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return 0, fmt.Errorf("document %s has no content", doc.Filename)
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	chunks := SplitText(doc.Content, s.opts.ChunkSize, s.opts.ChunkOverlap)
	return s.ingestChunks(ctx, doc.ID, doc.Filename, chunks)
}

// IngestRecords stores pre-split passages (one per record) for a file,
// skipping the chunker. Used for tabular sources where each record already is
// the retrieval unit.
func (s *Service) IngestRecords(ctx context.Context, filename string, records []string) (int, error) {
	kept := make([]string, 0, len(records))
	for _, record := range records {
		if strings.TrimSpace(record) != "" {
			kept = append(kept, record)
		}
	}
	return s.ingestChunks(ctx, uuid.NewString(), filename, kept)
}

func (s *Service) ingestChunks(ctx context.Context, docID, filename string, chunks []string) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	vectors, err := s.embedder.Embed(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embed document %s: %w", filename, err)
	}

	passages := make([]document.Passage, 0, len(chunks))
	for i, chunk := range chunks {
		passages = append(passages, document.Passage{
			ID:         fmt.Sprintf("%s_chunk_%d", docID, i),
			DocumentID: docID,
			Filename:   filename,
			ChunkIndex: i,
			Content:    chunk,
			Embedding:  vectors[i],
		})
	}

	if err := s.index.Upsert(ctx, passages); err != nil {
		return 0, fmt.Errorf("index document %s: %w", filename, err)
	}

	log.Printf("[retrieval] ingested %s: %d passages", filename, len(passages))
	return len(passages), nil
}

// Query returns the top-k passages ranked against the query text. Upstream
// failures are logged and reported as an empty result, never as an error.
func (s *Service) Query(ctx context.Context, text string, k int) ([]document.ScoredPassage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if k <= 0 {
		k = s.opts.TopK
	}

	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		log.Printf("[retrieval] query embedding failed, degrading to empty context: %v", err)
		return nil, nil
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	results, err := s.index.Search(ctx, vectors[0], k)
	if err != nil {
		log.Printf("[retrieval] vector search failed, degrading to empty context: %v", err)
		return nil, nil
	}
	return results, nil
}

// Documents lists ingested documents with passage counts.
func (s *Service) Documents(ctx context.Context) ([]document.Info, error) {
	return s.index.ListDocuments(ctx)
}

// DeleteDocument removes all passages ingested from the named file.
func (s *Service) DeleteDocument(ctx context.Context, filename string) error {
	return s.index.DeleteByFilename(ctx, filename)
}

// Stats summarizes the index contents.
func (s *Service) Stats(ctx context.Context) (map[string]any, error) {
	infos, err := s.index.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	totalPassages := 0
	for _, info := range infos {
		totalPassages += info.PassageCount
	}
	return map[string]any{
		"documents": len(infos),
		"passages":  totalPassages,
		"topK":      s.opts.TopK,
	}, nil
}
