package indexing

import (
	"context"

	"github.com/samber/mo"
)

// IndexStore はチャンクとベクトルの永続化を抽象化するインターフェース
// テスト時のモック用に消費者側で定義
//
// 書き込み中の同時読み取りは許容される。読み手が「旧チャンク削除済み・
// 新チャンク未挿入」の中間状態を観測する可能性があるのは、1ファイル分の
// 置き換え（ReplaceFileChunks）の間だけに限定される。
type IndexStore interface {
	// ReplaceFileChunks は1ファイル分のチャンクを原子的に置き換える
	// （ファイル単位トランザクション）。旧チャンクの削除と新チャンクの
	// 挿入を1つの論理単位として実行する。同一IDの再挿入はno-op。
	ReplaceFileChunks(ctx context.Context, repoKey, path string, chunks []*Chunk) error

	// DeleteByPath は指定パスに属する全チャンクを削除する
	DeleteByPath(ctx context.Context, repoKey, path string) error

	// CountChunks はリポジトリ内のチャンク総数を返す
	CountChunks(ctx context.Context, repoKey string) (int, error)

	// DropRepository はリポジトリのインデックスを完全に破棄する
	// Coordinator とは独立して呼び出せる管理操作
	DropRepository(ctx context.Context, repoKey string) error
}

// StateStore は同期状態とファイルレコードの永続化を抽象化するインターフェース
type StateStore interface {
	// GetSyncState は同期状態を取得する（一度も同期していない場合 None）
	GetSyncState(ctx context.Context, repoKey string) (mo.Option[*SyncState], error)

	// SaveSyncState は同期状態を保存する
	SaveSyncState(ctx context.Context, state *SyncState) error

	// GetFileRecords は path -> FileRecord のマップを返す（差分判定用）
	GetFileRecords(ctx context.Context, repoKey string) (map[string]*FileRecord, error)

	// SaveFileRecord はファイルレコードを保存する
	SaveFileRecord(ctx context.Context, repoKey string, record *FileRecord) error

	// DeleteFileRecord はファイルレコードを削除する
	DeleteFileRecord(ctx context.Context, repoKey, path string) error

	// DropRepository はリポジトリの同期状態とファイルレコードを破棄する
	DropRepository(ctx context.Context, repoKey string) error
}
