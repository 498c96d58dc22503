package chunk

import (
	"context"
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Chunk は分割後のテキスト片を表す
type Chunk struct {
	Content   string
	StartLine int // 1始まり
	EndLine   int
	Tokens    int
}

// Chunker はテキストを埋め込みに適した単位へ分割するインターフェース
// 同一入力に対して常に同一のチャンク列を返すこと（内容アドレスIDの前提）
type Chunker interface {
	Chunk(ctx context.Context, path, content string) ([]*Chunk, error)
}

// TokenCounter はテキストのトークン数を数えるインターフェース
type TokenCounter interface {
	Count(text string) int
}

// Config はチャンク分割の設定
type Config struct {
	// ChunkTokens は1チャンクの目標トークン数
	ChunkTokens int
	// OverlapTokens は隣接チャンク間で重複させるトークン数
	// 境界をまたぐ文脈を保持するために使う
	OverlapTokens int
}

// DefaultConfig はデフォルトのチャンク設定を返す
func DefaultConfig() *Config {
	return &Config{
		ChunkTokens:   800,
		OverlapTokens: 120,
	}
}

// TiktokenCounter は tiktoken によるトークンカウンタ
type TiktokenCounter struct {
	encoder *tiktoken.Tiktoken
}

// NewTiktokenCounter は cl100k_base エンコーダのトークンカウンタを作成する
// （text-embedding-3 系と互換）
func NewTiktokenCounter() (*TiktokenCounter, error) {
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoder: %w", err)
	}
	return &TiktokenCounter{encoder: encoder}, nil
}

// Count はテキストのトークン数を返す
func (c *TiktokenCounter) Count(text string) int {
	return len(c.encoder.Encode(text, nil, nil))
}

var _ TokenCounter = (*TiktokenCounter)(nil)
