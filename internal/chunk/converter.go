package chunk

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/vmrag/vmrag/internal/errors"
	"github.com/vmrag/vmrag/internal/hash"
	"github.com/vmrag/vmrag/internal/model"
)

// ChunkID returns the deterministic id for chunk i of a document.
func ChunkID(docID string, i int) string {
	return fmt.Sprintf("%s_chunk_%d", docID, i)
}

// Converter translates between a logical document and its chunk
// representation. User metadata passes through verbatim; the system fields
// are injected on the way in and stripped on the way out.
type Converter struct {
	chunker *Chunker
}

// NewConverter creates a converter around the given chunker.
func NewConverter(chunker *Chunker) *Converter {
	return &Converter{chunker: chunker}
}

// Chunker exposes the underlying chunker.
func (cv *Converter) Chunker() *Chunker { return cv.chunker }

// DocumentToChunks produces the chunk ids, texts, and per-chunk metadata for
// a document at the given commit. The chunk id for position i is
// "{doc_id}_chunk_{i}".
func (cv *Converter) DocumentToChunks(doc *model.Document, commitID string) (ids []string, texts []string, metadatas []model.Metadata) {
	texts = cv.chunker.Chunk(doc.Content)
	ids = make([]string, len(texts))
	metadatas = make([]model.Metadata, len(texts))

	contentHash := doc.ContentHash
	if contentHash == "" {
		contentHash = hash.Content(doc.Content)
	}

	for i := range texts {
		ids[i] = ChunkID(doc.DocID, i)

		md := doc.Metadata.Clone()
		md[model.MetaSourceID] = doc.DocID
		md[model.MetaCollection] = doc.Collection
		md[model.MetaContentHash] = contentHash
		md[model.MetaCommitID] = commitID
		md[model.MetaChunkIndex] = i
		md[model.MetaTotalChunks] = len(texts)
		if doc.Title != "" {
			md[model.MetaTitle] = doc.Title
		}
		if doc.DocType != "" {
			md[model.MetaDocType] = doc.DocType
		}
		metadatas[i] = md
	}
	return ids, texts, metadatas
}

// ChunksToDocument rebuilds a document from its ordered chunks.
//
// System fields are extracted from the first chunk's metadata and removed
// from the returned user metadata. The chunk_index sequence must be 0-based
// and contiguous. The content hash is recomputed from the reassembled
// content; the stored hash is never trusted.
func (cv *Converter) ChunksToDocument(chunks []model.ChunkRecord) (*model.Document, error) {
	if len(chunks) == 0 {
		return nil, errors.ValidationError("cannot build a document from zero chunks", nil)
	}

	for i, ch := range chunks {
		idx, ok := metaInt(ch.Metadata, model.MetaChunkIndex)
		if !ok {
			return nil, errors.ValidationError(
				fmt.Sprintf("chunk %s is missing chunk_index", ch.ID), nil)
		}
		if idx != i {
			return nil, errors.ValidationError(
				fmt.Sprintf("chunk_index sequence broken: position %d has index %d", i, idx), nil)
		}
	}

	first := chunks[0].Metadata
	doc := &model.Document{
		DocID:      metaString(first, model.MetaSourceID),
		Collection: metaString(first, model.MetaCollection),
		Title:      metaString(first, model.MetaTitle),
		DocType:    metaString(first, model.MetaDocType),
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	doc.Content = cv.chunker.Reassemble(texts)
	doc.ContentHash = hash.Content(doc.Content)

	user := first.Clone()
	for _, key := range []string{
		model.MetaSourceID, model.MetaCollection, model.MetaContentHash,
		model.MetaCommitID, model.MetaChunkIndex, model.MetaTotalChunks,
		model.MetaTitle, model.MetaDocType, model.MetaIsLocalChange,
	} {
		delete(user, key)
	}
	doc.Metadata = user

	return doc, nil
}

// GroupBySource buckets chunks by their source document and orders each
// bucket by chunk_index. Chunks without a source_id are collected under a
// single synthetic id.
func GroupBySource(chunks []model.ChunkRecord) map[string][]model.ChunkRecord {
	groups := make(map[string][]model.ChunkRecord)
	syntheticID := ""

	for _, ch := range chunks {
		sourceID := metaString(ch.Metadata, model.MetaSourceID)
		if sourceID == "" {
			if syntheticID == "" {
				syntheticID = "doc-" + uuid.NewString()
			}
			sourceID = syntheticID
		}
		groups[sourceID] = append(groups[sourceID], ch)
	}

	for id := range groups {
		g := groups[id]
		sort.SliceStable(g, func(i, j int) bool {
			a, _ := metaInt(g[i].Metadata, model.MetaChunkIndex)
			b, _ := metaInt(g[j].Metadata, model.MetaChunkIndex)
			return a < b
		})
		groups[id] = g
	}
	return groups
}

// metaString reads a string metadata field, tolerating absence.
func metaString(md model.Metadata, key string) string {
	if v, ok := md[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// metaInt reads an integer metadata field. JSON decoding turns numbers into
// float64, so both representations are accepted.
func metaInt(md model.Metadata, key string) (int, bool) {
	switch v := md[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
