package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"aqchat/internal/core/indexing"
)

const (
	// DefaultEmbeddingModel はモデル未指定時のデフォルトモデル
	DefaultEmbeddingModel = "text-embedding-3-small"
	// DefaultEmbeddingDimension はOpenAI推奨のデフォルト次元
	DefaultEmbeddingDimension = 1536
	// maxBatchSize はOpenAI Embeddings APIの1リクエスト上限
	maxBatchSize = 100
)

// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
var ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY environment variable")

// Embedder は OpenAI API を使用してテキストをベクトルに変換する
type Embedder struct {
	client    openai.Client
	model     string
	dimension int
}

type embedderOptions struct {
	model     string
	dimension int
}

// EmbedderOption は Embedder のオプション設定
type EmbedderOption func(*embedderOptions)

// WithEmbeddingModel はモデル名を上書きする
func WithEmbeddingModel(model string) EmbedderOption {
	return func(o *embedderOptions) {
		o.model = model
	}
}

// WithEmbeddingDimension はベクトル次元を上書きする
func WithEmbeddingDimension(dimension int) EmbedderOption {
	return func(o *embedderOptions) {
		o.dimension = dimension
	}
}

// NewEmbedder は新しい Embedder を作成する
func NewEmbedder(apiKey string, opts ...EmbedderOption) (*Embedder, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	options := embedderOptions{
		model:     DefaultEmbeddingModel,
		dimension: DefaultEmbeddingDimension,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Embedder{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(0), // リトライは呼び出し側の Gateway が制御する
		),
		model:     options.model,
		dimension: options.dimension,
	}, nil
}

// BatchEmbed はバッチで Embedding を生成する（最大100件）
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}

	if len(texts) > maxBatchSize {
		return nil, fmt.Errorf("batch size %d exceeds maximum of %d", len(texts), maxBatchSize)
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
	}

	if len(texts) == 1 {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(texts[0]),
		}
	} else {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		}
	}

	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, classifyAPIError(err)
	}

	embeddings := make([][]float32, len(resp.Data))
	for _, data := range resp.Data {
		vector := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vector[i] = float32(v)
		}
		if data.Index < 0 || int(data.Index) >= len(embeddings) {
			return nil, fmt.Errorf("unexpected embedding index %d in response", data.Index)
		}
		embeddings[data.Index] = vector
	}

	return embeddings, nil
}

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string {
	return e.model
}

// Dimension はベクトル次元数を返す
func (e *Embedder) Dimension() int {
	return e.dimension
}

// MaxBatchSize はバッチ処理の最大サイズを返す（OpenAI APIは最大100件）
func (e *Embedder) MaxBatchSize() int {
	return maxBatchSize
}

// classifyAPIError はレート制限やサーバエラーをリトライ可能として分類する
func classifyAPIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return fmt.Errorf("%w: embedding request failed with status %d: %v", indexing.ErrTransient, apiErr.StatusCode, err)
		}
		return fmt.Errorf("embedding request failed with status %d: %w", apiErr.StatusCode, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: embedding request timed out: %v", indexing.ErrTransient, err)
	}

	return fmt.Errorf("failed to generate embeddings: %w", err)
}

// インターフェース実装の確認
var _ indexing.EmbeddingClient = (*Embedder)(nil)
