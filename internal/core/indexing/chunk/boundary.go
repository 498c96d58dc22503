package chunk

import "regexp"

// BoundaryDetector は言語固有のコード境界（関数・クラス等の開始行）を
// 検出するインターフェース
type BoundaryDetector interface {
	// BoundaryLines は境界となる行番号（0始まり）を昇順で返す
	BoundaryLines(lines []string) []int
}

// regexpDetector は行頭パターンで境界を検出する汎用実装
// トップレベル宣言のみを対象とするため、インデントされた行は境界にしない
type regexpDetector struct {
	pattern *regexp.Regexp
}

func (d *regexpDetector) BoundaryLines(lines []string) []int {
	var boundaries []int
	for i, line := range lines {
		if d.pattern.MatchString(line) {
			boundaries = append(boundaries, i)
		}
	}
	return boundaries
}

var (
	pythonBoundary = regexp.MustCompile(`^(def |class |async def |@\w)`)
	rustBoundary   = regexp.MustCompile(`^(pub(\(.+\))?\s+)?(fn|struct|enum|impl|trait|mod|macro_rules!|unsafe\s+(fn|impl))\b`)
	goBoundary     = regexp.MustCompile(`^(func|type|var|const)\b`)
	mdBoundary     = regexp.MustCompile(`^#{1,6} `)
)

// NewPythonDetector は Python のトップレベル境界検出器を返す
// def / class / デコレータ行を境界とする
func NewPythonDetector() BoundaryDetector {
	return &regexpDetector{pattern: pythonBoundary}
}

// NewRustDetector は Rust のトップレベル境界検出器を返す
func NewRustDetector() BoundaryDetector {
	return &regexpDetector{pattern: rustBoundary}
}

// NewGoDetector は Go のトップレベル境界検出器を返す
func NewGoDetector() BoundaryDetector {
	return &regexpDetector{pattern: goBoundary}
}

// NewMarkdownDetector は Markdown の見出し境界検出器を返す
func NewMarkdownDetector() BoundaryDetector {
	return &regexpDetector{pattern: mdBoundary}
}
