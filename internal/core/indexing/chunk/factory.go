package chunk

import (
	"github.com/go-enry/go-enry/v2"
)

// Factory はファイルの言語に応じたチャンカーを選択する
// 対応言語には境界検出チャンカー、それ以外には行単位チャンカーを返す
type Factory struct {
	cfg       *Config
	counter   TokenCounter
	detectors map[string]BoundaryDetector
	fallback  *LineChunker
}

// NewFactory は新しい Factory を作成する
func NewFactory(counter TokenCounter, cfg *Config) *Factory {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Factory{
		cfg:     cfg,
		counter: counter,
		detectors: map[string]BoundaryDetector{
			"Python":   NewPythonDetector(),
			"Rust":     NewRustDetector(),
			"Go":       NewGoDetector(),
			"Markdown": NewMarkdownDetector(),
		},
		fallback: NewLineChunker(counter, cfg),
	}
}

// DetectLanguage はパスと内容から言語名を判定する
func (f *Factory) DetectLanguage(path string, content []byte) string {
	lang := enry.GetLanguage(path, content)
	if lang == "" {
		return "unknown"
	}
	return lang
}

// IsBinary は内容がバイナリかどうかを判定する
// バイナリファイルはチャンク化せずスキップ対象として報告される
func (f *Factory) IsBinary(content []byte) bool {
	return enry.IsBinary(content)
}

// ChunkerFor は言語に対応するチャンカーを返す
func (f *Factory) ChunkerFor(language string) Chunker {
	if detector, ok := f.detectors[language]; ok {
		return NewBoundaryChunker(detector, f.counter, f.cfg)
	}
	return f.fallback
}
