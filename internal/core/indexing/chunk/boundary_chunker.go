package chunk

import (
	"context"
	"strings"
)

// BoundaryChunker はコード境界（関数・クラス等）を尊重して分割するチャンカー
// 境界で区切ったブロックを目標トークン数まで貪欲にまとめ、
// 目標を超える単一ブロックは行単位で再分割する。
// 境界をまたがないため隣接チャンク間のオーバーラップは行わない
type BoundaryChunker struct {
	detector    BoundaryDetector
	counter     TokenCounter
	chunkTokens int
	fallback    *LineChunker
}

// NewBoundaryChunker は新しい BoundaryChunker を作成する
func NewBoundaryChunker(detector BoundaryDetector, counter TokenCounter, cfg *Config) *BoundaryChunker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &BoundaryChunker{
		detector:    detector,
		counter:     counter,
		chunkTokens: cfg.ChunkTokens,
		fallback:    NewLineChunker(counter, cfg),
	}
}

// block は境界で区切られた連続行の範囲（end は排他的）
type block struct {
	start, end int
}

// Chunk はテキストを境界単位でチャンク化する
func (c *BoundaryChunker) Chunk(ctx context.Context, path, content string) ([]*Chunk, error) {
	if content == "" {
		return nil, nil
	}

	lines := strings.Split(content, "\n")
	boundaries := c.detector.BoundaryLines(lines)

	// 境界が見つからないファイルは行単位分割にフォールバック
	if len(boundaries) == 0 {
		return c.fallback.Chunk(ctx, path, content)
	}

	// 境界でファイル全体をブロックに分割（先頭の前置部も1ブロック）
	var blocks []block
	prev := 0
	for _, b := range boundaries {
		if b > prev {
			blocks = append(blocks, block{start: prev, end: b})
		}
		prev = b
	}
	blocks = append(blocks, block{start: prev, end: len(lines)})

	// 小さなブロックを目標トークン数まで貪欲にまとめる
	var chunks []*Chunk
	accStart := blocks[0].start
	accTokens := 0
	flush := func(end int) {
		if end <= accStart {
			return
		}
		text := strings.Join(lines[accStart:end], "\n")
		if strings.TrimSpace(text) == "" {
			accStart = end
			accTokens = 0
			return
		}
		if accTokens > c.chunkTokens {
			// 単一ブロックが大きすぎる場合は行単位で再分割
			sub, _ := c.fallback.Chunk(context.Background(), "", text)
			for _, s := range sub {
				chunks = append(chunks, &Chunk{
					Content:   s.Content,
					StartLine: accStart + s.StartLine,
					EndLine:   accStart + s.EndLine,
					Tokens:    s.Tokens,
				})
			}
		} else {
			chunks = append(chunks, &Chunk{
				Content:   text,
				StartLine: accStart + 1,
				EndLine:   end,
				Tokens:    accTokens,
			})
		}
		accStart = end
		accTokens = 0
	}

	for _, b := range blocks {
		tokens := c.blockTokens(lines, b)
		if accTokens > 0 && accTokens+tokens > c.chunkTokens {
			flush(b.start)
		}
		accTokens += tokens
	}
	flush(len(lines))

	return chunks, nil
}

func (c *BoundaryChunker) blockTokens(lines []string, b block) int {
	total := 0
	for i := b.start; i < b.end; i++ {
		total += c.counter.Count(lines[i] + "\n")
	}
	return total
}

var _ Chunker = (*BoundaryChunker)(nil)
