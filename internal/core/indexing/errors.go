package indexing

import "errors"

// 同期時エラー（呼び出し元へ伝播し、変更前に同期を中断する）
var (
	// ErrSourceUnavailable はリモートリポジトリへ到達できない場合のエラー
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrAuthenticationFailed はリモートリポジトリの認証失敗エラー
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrRevisionNotFound は指定ブランチ・リビジョンが存在しない場合のエラー
	ErrRevisionNotFound = errors.New("revision not found")

	// ErrAlreadySyncing は同一リポジトリの同期が既に進行中の場合のエラー
	// 即座に拒否され、状態は変化しない
	ErrAlreadySyncing = errors.New("sync already in progress")
)

// チャンク・ファイル単位のエラー
var (
	// ErrEmbeddingFailed はリトライ後もEmbedding生成に失敗した場合のエラー
	// ファイル単位の失敗に格下げされ、同期全体は中断しない
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrDimensionMismatch はEmbeddingサービスが設定と異なる次元のベクトルを
	// 返した場合のエラー。設定ミスを示すため致命的であり、リトライせず
	// 同期を即座に中断する
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// ErrTransient は一時的な上流障害（タイムアウト、5xx相当、レート制限）を表す
// マーカー。インフラ層がこのエラーでラップしたものだけがリトライ対象となる
var ErrTransient = errors.New("transient upstream failure")

// IsRetryable はエラーがリトライ対象かどうかを判定する
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
