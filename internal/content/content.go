// Package content implements the Content Index: a token-based
// inverted index over file contents, chunked line-bounded at ~64KiB, used
// by the query engine's content search. Posting lists are roaring bitmaps
// over dense chunk IDs, so token intersection stays cheap even on large
// repositories.
package content

import (
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"
)

const maxChunkBytes = 64 * 1024

// ChunkID identifies a single (file, byte range) slice.
type ChunkID string

// Chunk is a contiguous text slice of a file.
type Chunk struct {
	ID          ChunkID
	Path        string
	StartByte   int
	EndByte     int
	Text        string
	ContentType string
}

// Index is the Content Index's concurrent state.
type Index struct {
	mu sync.RWMutex

	chunks map[ChunkID]Chunk
	byFile map[string][]ChunkID

	tokens map[string]*roaring.Bitmap
	types  map[string]*roaring.Bitmap

	chunkIntID   map[ChunkID]uint32
	intToChunkID []ChunkID
}

// New returns an empty Content Index.
func New() *Index {
	return &Index{
		chunks:     make(map[ChunkID]Chunk),
		byFile:     make(map[string][]ChunkID),
		tokens:     make(map[string]*roaring.Bitmap),
		types:      make(map[string]*roaring.Bitmap),
		chunkIntID: make(map[ChunkID]uint32),
	}
}

// IndexFile splits content into line-bounded ~64KiB chunks, tokenizes each
// chunk (lowercased, split on non-alphanumeric boundaries) and updates the
// postings. A prior index_file for path is fully replaced.
func (idx *Index) IndexFile(path string, content []byte, contentType string) {
	chunks := chunkText(path, content, contentType)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeFileLocked(path)

	ids := make([]ChunkID, 0, len(chunks))
	for _, c := range chunks {
		idx.chunks[c.ID] = c
		ids = append(ids, c.ID)
		intID := idx.intIDForLocked(c.ID)

		tbm := idx.types[c.ContentType]
		if tbm == nil {
			tbm = roaring.New()
			idx.types[c.ContentType] = tbm
		}
		tbm.Add(intID)

		for token := range tokenize(c.Text) {
			bm := idx.tokens[token]
			if bm == nil {
				bm = roaring.New()
				idx.tokens[token] = bm
			}
			bm.Add(intID)
		}
	}
	idx.byFile[path] = ids
}

func (idx *Index) intIDForLocked(id ChunkID) uint32 {
	if v, ok := idx.chunkIntID[id]; ok {
		return v
	}
	v := uint32(len(idx.intToChunkID))
	idx.chunkIntID[id] = v
	idx.intToChunkID = append(idx.intToChunkID, id)
	return v
}

// RemoveFile deletes all chunks and postings for path.
func (idx *Index) RemoveFile(path string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeFileLocked(path)
}

func (idx *Index) removeFileLocked(path string) {
	ids, ok := idx.byFile[path]
	if !ok {
		return
	}
	for _, id := range ids {
		c := idx.chunks[id]
		intID, ok := idx.chunkIntID[id]
		if !ok {
			continue
		}
		for token := range tokenize(c.Text) {
			if bm := idx.tokens[token]; bm != nil {
				bm.Remove(intID)
				if bm.IsEmpty() {
					delete(idx.tokens, token)
				}
			}
		}
		if tbm := idx.types[c.ContentType]; tbm != nil {
			tbm.Remove(intID)
			if tbm.IsEmpty() {
				delete(idx.types, c.ContentType)
			}
		}
		delete(idx.chunks, id)
	}
	delete(idx.byFile, path)
}

// SearchFilters narrows a search to a file-glob and/or content-type.
type SearchFilters struct {
	PathGlob    string
	ContentType string
}

// Search tokenizes query and intersects posting lists, returning every
// Chunk whose text contains all query tokens. An empty query, or any token
// absent from the postings, returns an empty result immediately.
func (idx *Index) Search(query string, filters SearchFilters) ([]Chunk, error) {
	tokens := make([]string, 0, 4)
	for t := range tokenize(query) {
		tokens = append(tokens, t)
	}
	if len(tokens) == 0 {
		return nil, nil
	}
	if filters.PathGlob != "" {
		if err := rejectGlobTraversal(filters.PathGlob); err != nil {
			return nil, err
		}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var result *roaring.Bitmap
	for _, t := range tokens {
		bm, ok := idx.tokens[t]
		if !ok {
			return nil, nil
		}
		if result == nil {
			result = bm.Clone()
		} else {
			result.And(bm)
		}
	}
	if result == nil || result.IsEmpty() {
		return nil, nil
	}

	if filters.ContentType != "" {
		tbm, ok := idx.types[filters.ContentType]
		if !ok {
			return nil, nil
		}
		result.And(tbm)
	}

	out := make([]Chunk, 0, result.GetCardinality())
	it := result.Iterator()
	for it.HasNext() {
		c := idx.chunks[idx.intToChunkID[it.Next()]]
		if filters.PathGlob != "" {
			matched, err := filepath.Match(filters.PathGlob, c.Path)
			if err != nil || !matched {
				continue
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// Stats reports the chunk and indexed-file counts for repository_stats
//.
func (idx *Index) Stats() (chunkCount, fileCount int) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunks), len(idx.byFile)
}

func rejectGlobTraversal(glob string) error {
	if strings.Contains(glob, "..") {
		return errInvalidGlob{glob}
	}
	return nil
}

type errInvalidGlob struct{ glob string }

func (e errInvalidGlob) Error() string {
	return "file_glob traverses outside the repository root: " + e.glob
}

func chunkText(path string, content []byte, contentType string) []Chunk {
	if len(content) == 0 {
		return nil
	}
	var chunks []Chunk
	start := 0
	lineStart := 0
	for i := 0; i <= len(content); i++ {
		atEnd := i == len(content)
		isNewline := !atEnd && content[i] == '\n'
		if isNewline {
			lineStart = i + 1
		}
		if atEnd || (i-start >= maxChunkBytes && isNewline) {
			end := i
			if atEnd {
				end = len(content)
			} else {
				end = lineStart
			}
			if end > start {
				chunks = append(chunks, Chunk{
					ID:          ChunkID(uuid.NewString()),
					Path:        path,
					StartByte:   start,
					EndByte:     end,
					Text:        string(content[start:end]),
					ContentType: contentType,
				})
				start = end
			}
			if atEnd {
				break
			}
		}
	}
	return chunks
}

func tokenize(text string) map[string]bool {
	out := make(map[string]bool)
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out[b.String()] = true
			b.Reset()
		}
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return out
}
