package chunk

import (
	"context"
	"strings"
)

// LineChunker は行単位の固定サイズ・オーバーラップ分割を行うデフォルトの
// チャンカー。言語固有の境界検出が使えないファイル種別のフォールバック。
// 行の途中では分割しない
type LineChunker struct {
	counter       TokenCounter
	chunkTokens   int
	overlapTokens int
}

// NewLineChunker は新しい LineChunker を作成する
func NewLineChunker(counter TokenCounter, cfg *Config) *LineChunker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &LineChunker{
		counter:       counter,
		chunkTokens:   cfg.ChunkTokens,
		overlapTokens: cfg.OverlapTokens,
	}
}

// Chunk はテキストを行単位でチャンク化する
// 空ファイルはチャンクを生成しない。隣接チャンクは overlapTokens 分重複する
func (c *LineChunker) Chunk(ctx context.Context, path, content string) ([]*Chunk, error) {
	if content == "" {
		return nil, nil
	}

	lines := strings.Split(content, "\n")
	lineTokens := make([]int, len(lines))
	for i, line := range lines {
		lineTokens[i] = c.counter.Count(line + "\n")
	}

	var chunks []*Chunk
	start := 0
	for start < len(lines) {
		tokens := 0
		end := start
		for end < len(lines) && (end == start || tokens+lineTokens[end] <= c.chunkTokens) {
			tokens += lineTokens[end]
			end++
		}

		text := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, &Chunk{
				Content:   text,
				StartLine: start + 1,
				EndLine:   end,
				Tokens:    tokens,
			})
		}

		if end >= len(lines) {
			break
		}

		// オーバーラップ分だけ巻き戻して次チャンクの開始行を決める
		// 巻き戻しすぎて前進しなくなることは newStart > start+1 で防ぐ
		newStart := end
		overlap := 0
		for newStart > start+1 && overlap+lineTokens[newStart-1] <= c.overlapTokens {
			newStart--
			overlap += lineTokens[newStart]
		}
		start = newStart
	}

	return chunks, nil
}

var _ Chunker = (*LineChunker)(nil)
