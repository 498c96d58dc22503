package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/mo"

	"aqchat/internal/core/indexing"
)

// DefaultLimit は件数未指定時の検索上限
const DefaultLimit = 10

// Embedder はクエリテキストのEmbedding生成インターフェース
// インデックス時と同一モデル・同一次元であること（不一致は設定ミス）
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Repository はベクトル検索のデータアクセスインターフェース
// テスト時のモック用に消費者側で定義
type Repository interface {
	// SearchChunks はコサイン距離の昇順で最大 limit 件を返す
	// 距離が同じ場合はチャンクIDの昇順（決定的な順序）
	SearchChunks(ctx context.Context, repoKey string, queryVector []float32, limit int) ([]*SearchResult, error)
}

// StateReader は同期状態の読み取りインターフェース
type StateReader interface {
	GetSyncState(ctx context.Context, repoKey string) (mo.Option[*indexing.SyncState], error)
}

// Service は検索のユースケースを提供する
// 進行中の同期をブロックせず、Index Store が現在保持している内容を読む
// （有界の古さは IndexStale フラグで開示される）
type Service struct {
	repo     Repository
	embedder Embedder
	states   StateReader
	logger   *slog.Logger
}

type serviceOptions struct {
	logger *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*serviceOptions)

// WithQueryLogger は Service にロガーを設定する
func WithQueryLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// NewService は新しい Service を作成する
func NewService(repo Repository, embedder Embedder, states StateReader, opts ...ServiceOption) *Service {
	options := serviceOptions{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return &Service{
		repo:     repo,
		embedder: embedder,
		states:   states,
		logger:   options.logger,
	}
}

// Query はクエリテキストを埋め込み、関連チャンクを類似度順に返す
func (s *Service) Query(ctx context.Context, params QueryParams) (*QueryResult, error) {
	if params.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	limit := params.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	key := params.Ref.Key()

	queryVector, err := s.embedder.Embed(ctx, params.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := s.repo.SearchChunks(ctx, key, queryVector, limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	stale, err := s.indexStale(ctx, key)
	if err != nil {
		// 状態が読めなくても検索結果は返す。安全側に倒して stale 扱い
		s.logger.Warn("同期状態の取得に失敗", "repo", key, "error", err)
		stale = true
	}

	return &QueryResult{
		Results:    results,
		IndexStale: stale,
	}, nil
}

// indexStale は同期が一度も完了していない、または進行中・失敗状態かを返す
func (s *Service) indexStale(ctx context.Context, repoKey string) (bool, error) {
	stateOpt, err := s.states.GetSyncState(ctx, repoKey)
	if err != nil {
		return true, err
	}
	if stateOpt.IsAbsent() {
		return true, nil
	}

	state := stateOpt.MustGet()
	if state.Status != indexing.StatusIdle {
		return true, nil
	}
	return state.LastSyncedCommit.IsAbsent(), nil
}
