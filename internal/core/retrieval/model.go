package retrieval

import (
	"github.com/google/uuid"

	"aqchat/internal/core/indexing"
)

// QueryParams は検索パラメータを表す
type QueryParams struct {
	Ref   indexing.RepositoryRef
	Query string
	Limit int
}

// SearchResult はベクトル検索の結果1件を表す
// Score はコサイン類似度（1 - コサイン距離）。大きいほど関連が強い
type SearchResult struct {
	ChunkID   uuid.UUID `json:"chunkID"`
	Path      string    `json:"path"`
	Ordinal   int       `json:"ordinal"`
	StartLine int       `json:"startLine"`
	EndLine   int       `json:"endLine"`
	Content   string    `json:"content"`
	Score     float64   `json:"score"`
}

// QueryResult は検索結果の集合を表す
// IndexStale は同期が未完了・進行中・失敗状態のときに真となる。
// 呼び出し側（チャット層）はこれを利用者に開示すること
type QueryResult struct {
	Results    []*SearchResult `json:"results"`
	IndexStale bool            `json:"indexStale"`
}
