package memory

import (
	"bytes"
	"context"
	"math"
	"sort"
	"sync"

	"github.com/samber/mo"

	"aqchat/internal/core/indexing"
	"aqchat/internal/core/retrieval"
)

// Store はインメモリのチャンクストア実装です
// テストおよび外部DBなしの動作確認に使用します
type Store struct {
	mu     sync.RWMutex
	repos  map[string]map[string][]*indexing.Chunk // repoKey -> path -> chunks
	states map[string]*indexing.SyncState
	files  map[string]map[string]*indexing.FileRecord // repoKey -> path -> record
}

// NewStore は新しいインメモリストアを作成します
func NewStore() *Store {
	return &Store{
		repos:  make(map[string]map[string][]*indexing.Chunk),
		states: make(map[string]*indexing.SyncState),
		files:  make(map[string]map[string]*indexing.FileRecord),
	}
}

// コンパイル時の型チェック
var _ indexing.IndexStore = (*Store)(nil)
var _ indexing.StateStore = (*Store)(nil)
var _ retrieval.Repository = (*Store)(nil)

// === indexing.IndexStore ===

func (s *Store) ReplaceFileChunks(ctx context.Context, repoKey, path string, chunks []*indexing.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repos[repoKey] == nil {
		s.repos[repoKey] = make(map[string][]*indexing.Chunk)
	}

	copied := make([]*indexing.Chunk, len(chunks))
	for i, chunk := range chunks {
		c := *chunk
		copied[i] = &c
	}
	s.repos[repoKey][path] = copied

	return nil
}

func (s *Store) DeleteByPath(ctx context.Context, repoKey, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if paths := s.repos[repoKey]; paths != nil {
		delete(paths, path)
	}
	return nil
}

func (s *Store) CountChunks(ctx context.Context, repoKey string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, chunks := range s.repos[repoKey] {
		count += len(chunks)
	}
	return count, nil
}

func (s *Store) DropRepository(ctx context.Context, repoKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.repos, repoKey)
	delete(s.states, repoKey)
	delete(s.files, repoKey)
	return nil
}

// === retrieval.Repository ===

// SearchChunks はコサイン距離の線形走査による近傍検索を行います
// 距離が同値の場合はチャンクIDの昇順で並びます
func (s *Store) SearchChunks(ctx context.Context, repoKey string, queryVector []float32, limit int) ([]*retrieval.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		chunk    *indexing.Chunk
		distance float64
	}

	var candidates []scored
	for _, chunks := range s.repos[repoKey] {
		for _, chunk := range chunks {
			candidates = append(candidates, scored{
				chunk:    chunk,
				distance: cosineDistance(queryVector, chunk.Embedding),
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return bytes.Compare(candidates[i].chunk.ID[:], candidates[j].chunk.ID[:]) < 0
	})

	if limit < len(candidates) {
		candidates = candidates[:limit]
	}

	results := make([]*retrieval.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, &retrieval.SearchResult{
			ChunkID:   c.chunk.ID,
			Path:      c.chunk.Path,
			Ordinal:   c.chunk.Ordinal,
			StartLine: c.chunk.StartLine,
			EndLine:   c.chunk.EndLine,
			Content:   c.chunk.Content,
			Score:     1 - c.distance,
		})
	}
	return results, nil
}

// === indexing.StateStore ===

func (s *Store) GetSyncState(ctx context.Context, repoKey string) (mo.Option[*indexing.SyncState], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[repoKey]
	if !ok {
		return mo.None[*indexing.SyncState](), nil
	}
	copied := *state
	return mo.Some(&copied), nil
}

func (s *Store) SaveSyncState(ctx context.Context, state *indexing.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *state
	s.states[state.RepoKey] = &copied
	return nil
}

func (s *Store) GetFileRecords(ctx context.Context, repoKey string) (map[string]*indexing.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make(map[string]*indexing.FileRecord, len(s.files[repoKey]))
	for path, record := range s.files[repoKey] {
		copied := *record
		records[path] = &copied
	}
	return records, nil
}

func (s *Store) SaveFileRecord(ctx context.Context, repoKey string, record *indexing.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.files[repoKey] == nil {
		s.files[repoKey] = make(map[string]*indexing.FileRecord)
	}
	copied := *record
	s.files[repoKey][record.Path] = &copied
	return nil
}

func (s *Store) DeleteFileRecord(ctx context.Context, repoKey, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if records := s.files[repoKey]; records != nil {
		delete(records, path)
	}
	return nil
}

// cosineDistance は 1 - cosine類似度 を返す
// ゼロベクトルとの距離は最大値1として扱う
func cosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := range n {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
