package retrieval

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	client "github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/esp1745/voicerag/internal/model/document"
)

const (
	fieldID         = "id"
	fieldContent    = "content"
	fieldDocumentID = "document_id"
	fieldFilename   = "filename"
	fieldChunkIndex = "chunk_index"
	fieldEmbedding  = "embedding"

	listQueryLimit = 10000
)

// MilvusIndex stores passages in a Milvus collection and delegates similarity
// ranking to the server.
type MilvusIndex struct {
	client     *client.Client
	collection string

	initOnce sync.Once
	initErr  error
}

// NewMilvusIndex wraps an existing Milvus client. The collection is created
// lazily on first upsert, sized to the embedding dimension seen there.
func NewMilvusIndex(c *client.Client, collection string) *MilvusIndex {
	return &MilvusIndex{client: c, collection: collection}
}

func (m *MilvusIndex) ensureCollection(ctx context.Context, dimension int) error {
	m.initOnce.Do(func() {
		m.initErr = m.createCollection(ctx, dimension)
	})
	return m.initErr
}

func (m *MilvusIndex) createCollection(ctx context.Context, dimension int) error {
	hasCollection, err := m.client.HasCollection(ctx, client.NewHasCollectionOption(m.collection))
	if err != nil {
		return fmt.Errorf("check collection existence: %w", err)
	}

	if !hasCollection {
		log.Printf("[retrieval] creating collection %s with dimension %d", m.collection, dimension)

		schema := &entity.Schema{
			CollectionName: m.collection,
			Description:    "voicerag passage embeddings",
			AutoID:         false,
			Fields: []*entity.Field{
				entity.NewField().
					WithName(fieldID).
					WithDataType(entity.FieldTypeVarChar).
					WithIsPrimaryKey(true).
					WithMaxLength(255),
				entity.NewField().
					WithName(fieldEmbedding).
					WithDataType(entity.FieldTypeFloatVector).
					WithDim(int64(dimension)),
				entity.NewField().
					WithName(fieldContent).
					WithDataType(entity.FieldTypeVarChar).
					WithMaxLength(65535),
				entity.NewField().
					WithName(fieldDocumentID).
					WithDataType(entity.FieldTypeVarChar).
					WithMaxLength(255),
				entity.NewField().
					WithName(fieldFilename).
					WithDataType(entity.FieldTypeVarChar).
					WithMaxLength(1024),
				entity.NewField().
					WithName(fieldChunkIndex).
					WithDataType(entity.FieldTypeInt64),
			},
		}

		indexOpts := []client.CreateIndexOption{
			client.NewCreateIndexOption(m.collection, fieldEmbedding, index.NewHNSWIndex(entity.IP, 16, 128)),
			client.NewCreateIndexOption(m.collection, fieldFilename, index.NewAutoIndex(entity.IP)),
			client.NewCreateIndexOption(m.collection, fieldDocumentID, index.NewAutoIndex(entity.IP)),
		}

		if err := m.client.CreateCollection(ctx, client.NewCreateCollectionOption(m.collection, schema).WithIndexOptions(indexOpts...)); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}

	loadTask, err := m.client.LoadCollection(ctx, client.NewLoadCollectionOption(m.collection))
	if err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return fmt.Errorf("await load collection: %w", err)
	}
	return nil
}

// Upsert writes passages (with embeddings) into the collection.
func (m *MilvusIndex) Upsert(ctx context.Context, passages []document.Passage) error {
	if len(passages) == 0 {
		return nil
	}

	dimension := len(passages[0].Embedding)
	if dimension == 0 {
		return fmt.Errorf("empty embedding vector for passage %s", passages[0].ID)
	}
	if err := m.ensureCollection(ctx, dimension); err != nil {
		return err
	}

	ids := make([]string, 0, len(passages))
	embeddings := make([][]float32, 0, len(passages))
	contents := make([]string, 0, len(passages))
	documentIDs := make([]string, 0, len(passages))
	filenames := make([]string, 0, len(passages))
	chunkIndexes := make([]int64, 0, len(passages))

	for _, p := range passages {
		if len(p.Embedding) != dimension {
			return fmt.Errorf("embedding dimension mismatch for passage %s: got %d want %d", p.ID, len(p.Embedding), dimension)
		}
		ids = append(ids, p.ID)
		embeddings = append(embeddings, p.Embedding)
		contents = append(contents, p.Content)
		documentIDs = append(documentIDs, p.DocumentID)
		filenames = append(filenames, p.Filename)
		chunkIndexes = append(chunkIndexes, int64(p.ChunkIndex))
	}

	opt := client.NewColumnBasedInsertOption(m.collection).
		WithVarcharColumn(fieldID, ids).
		WithFloatVectorColumn(fieldEmbedding, dimension, embeddings).
		WithVarcharColumn(fieldContent, contents).
		WithVarcharColumn(fieldDocumentID, documentIDs).
		WithVarcharColumn(fieldFilename, filenames).
		WithInt64Column(fieldChunkIndex, chunkIndexes)

	if _, err := m.client.Upsert(ctx, opt); err != nil {
		return fmt.Errorf("upsert passages: %w", err)
	}
	return nil
}

// Search performs a vector similarity search and returns ranked passages.
// A missing collection yields empty results rather than an error.
func (m *MilvusIndex) Search(ctx context.Context, embedding []float32, k int) ([]document.ScoredPassage, error) {
	hasCollection, err := m.client.HasCollection(ctx, client.NewHasCollectionOption(m.collection))
	if err != nil {
		return nil, fmt.Errorf("check collection: %w", err)
	}
	if !hasCollection {
		return nil, nil
	}

	searchOption := client.NewSearchOption(m.collection, k, []entity.Vector{entity.FloatVector(embedding)})
	searchOption.WithANNSField(fieldEmbedding)
	searchOption.WithOutputFields(fieldID, fieldContent, fieldDocumentID, fieldFilename, fieldChunkIndex)

	resultSet, err := m.client.Search(ctx, searchOption)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(resultSet) == 0 {
		return nil, nil
	}

	set := resultSet[0]
	passages, err := passagesFromResultSet(set)
	if err != nil {
		return nil, err
	}

	results := make([]document.ScoredPassage, 0, len(passages))
	for i, p := range passages {
		scored := document.ScoredPassage{Passage: p}
		if i < len(set.Scores) {
			scored.Score = float64(set.Scores[i])
		}
		results = append(results, scored)
	}
	return results, nil
}

// DeleteByFilename removes every passage ingested from the named file.
func (m *MilvusIndex) DeleteByFilename(ctx context.Context, filename string) error {
	hasCollection, err := m.client.HasCollection(ctx, client.NewHasCollectionOption(m.collection))
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if !hasCollection {
		return nil
	}

	deleteOpt := client.NewDeleteOption(m.collection)
	deleteOpt.WithStringIDs(fieldFilename, []string{filename})
	if _, err := m.client.Delete(ctx, deleteOpt); err != nil {
		return fmt.Errorf("delete passages for %s: %w", filename, err)
	}
	return nil
}

// ListDocuments groups stored passages by source filename.
func (m *MilvusIndex) ListDocuments(ctx context.Context) ([]document.Info, error) {
	hasCollection, err := m.client.HasCollection(ctx, client.NewHasCollectionOption(m.collection))
	if err != nil {
		return nil, fmt.Errorf("check collection: %w", err)
	}
	if !hasCollection {
		return nil, nil
	}

	queryOpt := client.NewQueryOption(m.collection)
	queryOpt.WithOutputFields(fieldFilename)
	queryOpt.WithLimit(listQueryLimit)

	resultSet, err := m.client.Query(ctx, queryOpt)
	if err != nil {
		return nil, fmt.Errorf("query passages: %w", err)
	}

	counts := make(map[string]int)
	order := make([]string, 0)
	if col := resultSet.GetColumn(fieldFilename); col != nil {
		for i := 0; i < col.Len(); i++ {
			name, err := col.GetAsString(i)
			if err != nil {
				return nil, fmt.Errorf("read filename column: %w", err)
			}
			if _, seen := counts[name]; !seen {
				order = append(order, name)
			}
			counts[name]++
		}
	}

	infos := make([]document.Info, 0, len(order))
	for _, name := range order {
		infos = append(infos, document.Info{Filename: name, PassageCount: counts[name]})
	}
	return infos, nil
}

func passagesFromResultSet(set client.ResultSet) ([]document.Passage, error) {
	if len(set.Fields) == 0 {
		return nil, nil
	}

	n := set.Fields[0].Len()
	passages := make([]document.Passage, n)

	stringFields := map[string]func(i int, v string){
		fieldID:         func(i int, v string) { passages[i].ID = v },
		fieldContent:    func(i int, v string) { passages[i].Content = v },
		fieldDocumentID: func(i int, v string) { passages[i].DocumentID = v },
		fieldFilename:   func(i int, v string) { passages[i].Filename = v },
	}

	for field, assign := range stringFields {
		col := set.GetColumn(field)
		if col == nil {
			continue
		}
		for i := 0; i < col.Len() && i < n; i++ {
			val, err := col.GetAsString(i)
			if err != nil {
				return nil, fmt.Errorf("read %s column: %w", field, err)
			}
			assign(i, val)
		}
	}

	if col := set.GetColumn(fieldChunkIndex); col != nil {
		for i := 0; i < col.Len() && i < n; i++ {
			val, err := col.GetAsInt64(i)
			if err != nil {
				return nil, fmt.Errorf("read %s column: %w", fieldChunkIndex, err)
			}
			passages[i].ChunkIndex = int(val)
		}
	}

	return passages, nil
}
