package chunk

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unitCounter は1行=1トークンとして数えるテスト用カウンタ
// トークン数を行数に一致させることで分割位置を予測可能にする
type unitCounter struct{}

func (unitCounter) Count(string) int { return 1 }

func numberedLines(n int) string {
	lines := make([]string, n)
	for i := range n {
		lines[i] = fmt.Sprintf("line %d", i+1)
	}
	return strings.Join(lines, "\n")
}

func TestLineChunker_EmptyContent(t *testing.T) {
	chunker := NewLineChunker(unitCounter{}, nil)

	chunks, err := chunker.Chunk(t.Context(), "empty.txt", "")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestLineChunker_WhitespaceOnlyContent(t *testing.T) {
	chunker := NewLineChunker(unitCounter{}, &Config{ChunkTokens: 10, OverlapTokens: 0})

	chunks, err := chunker.Chunk(t.Context(), "blank.txt", "\n\n  \n\t\n")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestLineChunker_SingleChunkWhenSmall(t *testing.T) {
	chunker := NewLineChunker(unitCounter{}, &Config{ChunkTokens: 100, OverlapTokens: 10})

	content := numberedLines(5)
	chunks, err := chunker.Chunk(t.Context(), "small.txt", content)
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	assert.Equal(t, content, chunks[0].Content)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 5, chunks[0].EndLine)
}

func TestLineChunker_SplitsWithOverlap(t *testing.T) {
	chunker := NewLineChunker(unitCounter{}, &Config{ChunkTokens: 3, OverlapTokens: 1})

	chunks, err := chunker.Chunk(t.Context(), "big.txt", numberedLines(7))
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 3, chunks[0].EndLine)
	// 次チャンクは前チャンクの末尾1行から始まる
	assert.Equal(t, 3, chunks[1].StartLine)
	assert.Equal(t, 5, chunks[1].EndLine)
	assert.Equal(t, 5, chunks[2].StartLine)
	assert.Equal(t, 7, chunks[2].EndLine)
}

func TestLineChunker_NoOverlapConfigured(t *testing.T) {
	chunker := NewLineChunker(unitCounter{}, &Config{ChunkTokens: 2, OverlapTokens: 0})

	chunks, err := chunker.Chunk(t.Context(), "big.txt", numberedLines(6))
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	for i, chunk := range chunks {
		assert.Equal(t, i*2+1, chunk.StartLine)
		assert.Equal(t, i*2+2, chunk.EndLine)
	}
}

func TestLineChunker_Deterministic(t *testing.T) {
	chunker := NewLineChunker(unitCounter{}, &Config{ChunkTokens: 3, OverlapTokens: 1})
	content := numberedLines(20)

	first, err := chunker.Chunk(t.Context(), "a.txt", content)
	require.NoError(t, err)
	second, err := chunker.Chunk(t.Context(), "a.txt", content)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestLineChunker_OversizedSingleLineStillProgresses(t *testing.T) {
	// 1行がチャンク上限を超えてもその行だけのチャンクとして前進する
	counter := lengthCounter{}
	chunker := NewLineChunker(counter, &Config{ChunkTokens: 5, OverlapTokens: 0})

	content := "short\n" + strings.Repeat("x", 100) + "\nshort"
	chunks, err := chunker.Chunk(t.Context(), "long-line.txt", content)
	require.NoError(t, err)

	require.NotEmpty(t, chunks)
	assert.Equal(t, 3, chunks[len(chunks)-1].EndLine)
}

// lengthCounter は文字数をトークン数として数えるテスト用カウンタ
type lengthCounter struct{}

func (lengthCounter) Count(text string) int { return len(text) }

const goSource = `package x

func a() {
}

func b() {
}`

func TestBoundaryChunker_SplitsAtBoundaries(t *testing.T) {
	chunker := NewBoundaryChunker(NewGoDetector(), unitCounter{}, &Config{ChunkTokens: 4, OverlapTokens: 0})

	chunks, err := chunker.Chunk(t.Context(), "x.go", goSource)
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	// 各チャンクは宣言境界から始まる（先頭の前置部を除く）
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 3, chunks[1].StartLine)
	assert.True(t, strings.HasPrefix(chunks[1].Content, "func a()"))
	assert.Equal(t, 6, chunks[2].StartLine)
	assert.True(t, strings.HasPrefix(chunks[2].Content, "func b()"))

	// 境界をまたぐオーバーラップは行わない
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].EndLine+1, chunks[i].StartLine)
	}
}

func TestBoundaryChunker_MergesSmallBlocks(t *testing.T) {
	chunker := NewBoundaryChunker(NewGoDetector(), unitCounter{}, &Config{ChunkTokens: 100, OverlapTokens: 0})

	chunks, err := chunker.Chunk(t.Context(), "x.go", goSource)
	require.NoError(t, err)

	// すべて目標トークン数に収まるので1チャンクにまとまる
	require.Len(t, chunks, 1)
	assert.Equal(t, goSource, chunks[0].Content)
}

func TestBoundaryChunker_ResplitsOversizedBlock(t *testing.T) {
	var b strings.Builder
	b.WriteString("func big() {\n")
	for i := range 10 {
		fmt.Fprintf(&b, "\tstep%d()\n", i)
	}
	b.WriteString("}")

	chunker := NewBoundaryChunker(NewGoDetector(), unitCounter{}, &Config{ChunkTokens: 4, OverlapTokens: 0})

	chunks, err := chunker.Chunk(t.Context(), "big.go", b.String())
	require.NoError(t, err)

	require.Greater(t, len(chunks), 1)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 12, chunks[len(chunks)-1].EndLine)
}

func TestBoundaryChunker_FallsBackWithoutBoundaries(t *testing.T) {
	chunker := NewBoundaryChunker(NewMarkdownDetector(), unitCounter{}, &Config{ChunkTokens: 3, OverlapTokens: 0})

	// 見出しのないテキストは行単位分割にフォールバック
	chunks, err := chunker.Chunk(t.Context(), "notes.md", numberedLines(6))
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestBoundaryChunker_Deterministic(t *testing.T) {
	chunker := NewBoundaryChunker(NewGoDetector(), unitCounter{}, &Config{ChunkTokens: 4, OverlapTokens: 0})

	first, err := chunker.Chunk(t.Context(), "x.go", goSource)
	require.NoError(t, err)
	second, err := chunker.Chunk(t.Context(), "x.go", goSource)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestBoundaryDetectors(t *testing.T) {
	tests := []struct {
		name     string
		detector BoundaryDetector
		lines    []string
		want     []int
	}{
		{
			name:     "Pythonのdef/class/デコレータ",
			detector: NewPythonDetector(),
			lines:    []string{"import os", "", "def foo():", "    pass", "@cached", "class Bar:", "    def method(self):", "async def baz():"},
			want:     []int{2, 4, 5, 7},
		},
		{
			name:     "Rustのトップレベル宣言",
			detector: NewRustDetector(),
			lines:    []string{"use std::io;", "pub fn a() {}", "fn b() {}", "impl Foo {", "    fn inner() {}", "struct S;", "unsafe fn c() {}", "let x = 1;"},
			want:     []int{1, 2, 3, 5, 6},
		},
		{
			name:     "Goのトップレベル宣言",
			detector: NewGoDetector(),
			lines:    []string{"package x", "", "func a() {}", "type T struct{}", "var v int", "const c = 1", "\tfunc indented() {}"},
			want:     []int{2, 3, 4, 5},
		},
		{
			name:     "Markdownの見出し",
			detector: NewMarkdownDetector(),
			lines:    []string{"# title", "text", "## section", "###### deep", "#notaheading", "####### toomany"},
			want:     []int{0, 2, 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.detector.BoundaryLines(tt.lines))
		})
	}
}

func TestFactory_ChunkerSelection(t *testing.T) {
	factory := NewFactory(unitCounter{}, nil)

	assert.IsType(t, &BoundaryChunker{}, factory.ChunkerFor("Python"))
	assert.IsType(t, &BoundaryChunker{}, factory.ChunkerFor("Rust"))
	assert.IsType(t, &BoundaryChunker{}, factory.ChunkerFor("Go"))
	assert.IsType(t, &BoundaryChunker{}, factory.ChunkerFor("Markdown"))
	assert.IsType(t, &LineChunker{}, factory.ChunkerFor("JSON"))
	assert.IsType(t, &LineChunker{}, factory.ChunkerFor("unknown"))
}

func TestFactory_DetectLanguage(t *testing.T) {
	factory := NewFactory(unitCounter{}, nil)

	assert.Equal(t, "Python", factory.DetectLanguage("main.py", []byte("def main():\n    pass\n")))
	assert.Equal(t, "Go", factory.DetectLanguage("main.go", []byte("package main\n")))
	assert.Equal(t, "unknown", factory.DetectLanguage("data.bin", nil))
}

func TestFactory_IsBinary(t *testing.T) {
	factory := NewFactory(unitCounter{}, nil)

	assert.True(t, factory.IsBinary([]byte{0x00, 0x01, 0x02, 0xff}))
	assert.False(t, factory.IsBinary([]byte("plain text\n")))
}
