package filter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFilter は .gitignore と .aqchatignore のパターンマッチングを提供する
// インデックス化の対象外にしたいパスをリポジトリ側で制御できる
type IgnoreFilter struct {
	patterns *gitignore.GitIgnore
}

// NewIgnoreFilter は repoPath 配下の ignore ファイルを読み込んで作成する
func NewIgnoreFilter(repoPath string) (*IgnoreFilter, error) {
	var patterns []string

	for _, name := range []string{".gitignore", ".aqchatignore"} {
		path := filepath.Join(repoPath, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		lines, err := readIgnoreFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		patterns = append(patterns, lines...)
	}

	patterns = append(patterns, defaultIgnorePatterns()...)

	return &IgnoreFilter{
		patterns: gitignore.CompileIgnoreLines(patterns...),
	}, nil
}

// ShouldIgnore はパスが除外対象かどうかを判定する
func (f *IgnoreFilter) ShouldIgnore(path string) bool {
	if f.patterns == nil {
		return false
	}
	return f.patterns.MatchesPath(path)
}

func readIgnoreFile(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// defaultIgnorePatterns は ignore ファイルがなくても適用される除外パターン
func defaultIgnorePatterns() []string {
	return []string{
		".git/",
		".idea/",
		".vscode/",
		".venv/",
		"__pycache__/",
		"node_modules/",
		"vendor/",
		"dist/",
		"build/",
		"target/",
		"*.lock",
		"*.min.js",
		"*.map",
	}
}
