package indexing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

const (
	// DefaultMaxAttempts は一時的障害に対する最大試行回数
	DefaultMaxAttempts = 4
	// DefaultBaseBackoff はExponential Backoffの基底時間
	DefaultBaseBackoff = 1 * time.Second
	// DefaultMaxBackoff はExponential Backoffの最大待機時間
	DefaultMaxBackoff = 30 * time.Second
	// DefaultBatchTimeout は1バッチ呼び出しあたりのタイムアウト
	DefaultBatchTimeout = 60 * time.Second
)

// EmbeddingClient は外部Embeddingサービスのクライアントを抽象化するインターフェース
type EmbeddingClient interface {
	// BatchEmbed はテキスト群を同順のベクトル群に変換する
	// 一時的障害は ErrTransient でラップして返すこと
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension は生成されるベクトルの次元数を返す
	Dimension() int

	// MaxBatchSize は1回に送信できる最大テキスト数を返す
	MaxBatchSize() int
}

// Gateway は外部Embeddingサービスとの境界を受け持つ
// バッチ分割・リトライ/バックオフ・次元検証はすべてここで行い、
// 呼び出し側（Coordinator / Retrieval）には方針を漏らさない
type Gateway struct {
	client       EmbeddingClient
	dimension    int
	maxAttempts  int
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	batchTimeout time.Duration
	logger       *slog.Logger
}

type gatewayOptions struct {
	maxAttempts  int
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	batchTimeout time.Duration
	logger       *slog.Logger
}

// GatewayOption は Gateway のオプション設定
type GatewayOption func(*gatewayOptions)

// WithGatewayLogger は Gateway にロガーを設定する
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(o *gatewayOptions) {
		o.logger = logger
	}
}

// WithGatewayRetry はリトライ回数とバックオフを上書きする
func WithGatewayRetry(maxAttempts int, base, max time.Duration) GatewayOption {
	return func(o *gatewayOptions) {
		o.maxAttempts = maxAttempts
		o.baseBackoff = base
		o.maxBackoff = max
	}
}

// WithGatewayBatchTimeout は1バッチあたりのタイムアウトを上書きする
func WithGatewayBatchTimeout(d time.Duration) GatewayOption {
	return func(o *gatewayOptions) {
		o.batchTimeout = d
	}
}

// NewGateway は新しい Gateway を作成する
// dimension はデプロイ単位で固定のベクトル次元。クライアントが異なる次元を
// 返した場合は ErrDimensionMismatch となる
func NewGateway(client EmbeddingClient, dimension int, opts ...GatewayOption) *Gateway {
	options := gatewayOptions{
		maxAttempts:  DefaultMaxAttempts,
		baseBackoff:  DefaultBaseBackoff,
		maxBackoff:   DefaultMaxBackoff,
		batchTimeout: DefaultBatchTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.maxAttempts < 1 {
		options.maxAttempts = 1
	}

	return &Gateway{
		client:       client,
		dimension:    dimension,
		maxAttempts:  options.maxAttempts,
		baseBackoff:  options.baseBackoff,
		maxBackoff:   options.maxBackoff,
		batchTimeout: options.batchTimeout,
		logger:       options.logger,
	}
}

// Dimension は設定されたベクトル次元を返す
func (g *Gateway) Dimension() int {
	return g.dimension
}

// EmbedTexts はテキスト群をベクトル群に変換する（順序保存）
// クライアントの MaxBatchSize を超える入力は内部でバッチ分割される。
// リトライ後も失敗したバッチは ErrEmbeddingFailed、次元不一致は
// ErrDimensionMismatch を返す
func (g *Gateway) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batchSize := g.client.MaxBatchSize()
	if batchSize <= 0 {
		batchSize = 1
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))

		batch, err := g.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

// Embed は単一テキストをベクトルに変換する（クエリ埋め込み用）
// インデックス時と同一モデル・同一次元で埋め込まれる
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: expected 1 vector, got %d", ErrEmbeddingFailed, len(vectors))
	}
	return vectors[0], nil
}

func (g *Gateway) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * g.baseBackoff
			if backoff > g.maxBackoff {
				backoff = g.maxBackoff
			}
			g.logger.Debug("Embeddingバッチをリトライ",
				"attempt", attempt+1,
				"backoff", backoff,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		vectors, err := g.callOnce(ctx, texts)
		if err == nil {
			return vectors, nil
		}

		// 次元不一致は設定ミスなのでリトライしない
		if errors.Is(err, ErrDimensionMismatch) {
			return nil, err
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// バッチタイムアウトは一時的障害として扱う
		if !IsRetryable(err) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %d attempts exhausted: %v", ErrEmbeddingFailed, g.maxAttempts, lastErr)
}

func (g *Gateway) callOnce(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, g.batchTimeout)
	defer cancel()

	vectors, err := g.client.BatchEmbed(ctx, texts)
	if err != nil {
		return nil, err
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: %d texts but %d vectors returned", ErrEmbeddingFailed, len(texts), len(vectors))
	}
	for _, v := range vectors {
		if len(v) != g.dimension {
			return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, g.dimension, len(v))
		}
	}

	return vectors, nil
}
