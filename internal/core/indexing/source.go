package indexing

import (
	"context"

	"github.com/samber/mo"
)

// Source はリモートリポジトリへのアクセスを抽象化するインターフェース
// Git 以外のソース（ローカルディレクトリ等）にも対応するための拡張ポイント
type Source interface {
	// Diff はブランチ先頭を具体的なリビジョンに解決し、since 時点からの
	// パスレベル差分を返す。since が None の場合は全追跡ファイルを Added
	// として報告する。未変更ファイルの内容は列挙しない。
	//
	// リモートへ到達できない場合は ErrSourceUnavailable、認証失敗は
	// ErrAuthenticationFailed、ブランチが存在しない場合は
	// ErrRevisionNotFound を返す。
	Diff(ctx context.Context, ref RepositoryRef, since mo.Option[string]) (*ChangeSet, error)

	// ReadFile は指定コミット時点のファイル内容を読み込む
	ReadFile(ctx context.Context, ref RepositoryRef, commit, path string) ([]byte, error)
}
