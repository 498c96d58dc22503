package indexing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// chunkNamespace はチャンクIDの生成に使用する固定のUUID名前空間。
// 変更するとインデックス済みチャンクのIDが一致しなくなる。
var chunkNamespace = uuid.MustParse("2f1a7b4e-9c1d-4f55-8a33-6d0e4b6a7c10")

// Metric はベクトル距離の種別を表す
type Metric string

const (
	// MetricCosine はコサイン距離。エンジン全体でこの距離に固定される。
	// 稼働中のインデックスに対する距離種別の変更は未定義動作であり、
	// ストア層で拒否される。
	MetricCosine Metric = "cosine"
)

// === RepositoryRef ===

// Credential はリモートリポジトリの認証情報を表す
// HTTPSの場合は Username + Token、SSHの場合は鍵ファイルを使用する
type Credential struct {
	Username    string
	Token       string
	SSHKeyPath  string
	SSHPassword string
}

// RepositoryRef は同期・検索対象のリポジトリを識別する
// すべての操作は RepositoryRef を明示的な引数として受け取る
// （プロセス共有のグローバル状態からは読まない）
type RepositoryRef struct {
	URL        string
	Branch     string
	Credential *Credential
}

// Key はリポジトリの同期状態・インデックスを引くための識別キーを返す
// URL とブランチの組で一意。URL またはブランチが変われば別リポジトリ扱いとなり、
// 既存の同期状態は引き継がれない
func (r RepositoryRef) Key() string {
	return fmt.Sprintf("%s#%s", r.URL, r.Branch)
}

// === SyncState ===

// SyncStatus は同期の状態を表す
type SyncStatus string

const (
	StatusIdle    SyncStatus = "idle"
	StatusSyncing SyncStatus = "syncing"
	StatusFailed  SyncStatus = "failed"
)

// SyncState はリポジトリごとの同期状態を表す
// Coordinator のみが書き込む（リポジトリごとに同時書き込みは常に1つ）
type SyncState struct {
	RepoKey          string
	LastSyncedCommit mo.Option[string] // None = 一度も同期されていない
	LastSyncAt       time.Time
	Status           SyncStatus
}

// === FileRecord ===

// FileRecord はインデックス済みファイル1件の記録を表す
// ChunkIDs は Index Store に現存するチャンクと正確に一致しなければならない
// （完了した同期をまたいで孤児チャンク・欠落チャンクが残ってはならない）
type FileRecord struct {
	Path        string
	ContentHash string
	ChunkIDs    []uuid.UUID
}

// === Chunk ===

// Chunk はファイルを分割した埋め込み・検索の最小単位を表す
// 一度書き込まれたチャンクは不変であり、内容が変わった場合は
// 旧IDの削除と新IDの挿入で置き換えられる（更新はしない）
type Chunk struct {
	ID          uuid.UUID
	Path        string
	Ordinal     int
	StartLine   int
	EndLine     int
	Content     string
	ContentHash string // チャンク化時点の所属ファイルのハッシュ
	TokenCount  int
	Embedding   []float32
}

// ChunkID は path + contentHash + ordinal から決定的にチャンクIDを導出する
// 同一内容を再チャンク化しても同じIDになる
func ChunkID(path, contentHash string, ordinal int) uuid.UUID {
	key := fmt.Sprintf("%s\x00%s\x00%d", path, contentHash, ordinal)
	return uuid.NewSHA1(chunkNamespace, []byte(key))
}

// === ChangeSet ===

// FileChange は差分中の1ファイルを表す
// ContentHash はソースが提供する内容アドレス（Gitの場合はblobハッシュ）
type FileChange struct {
	Path        string
	ContentHash string
}

// ChangeSet は前回同期時点からの差分を表す
// 初回同期（前回コミットなし）の場合は全追跡ファイルが Added に入る
// リネームは remove + add として報告される
type ChangeSet struct {
	Added     []FileChange
	Modified  []FileChange
	Removed   []string
	NewCommit string

	// Full は Added が全追跡ファイルの列挙であることを示す
	// （初回同期、または前回コミットが履歴書き換えで辿れなくなった場合）。
	// このとき Removed の算出は呼び出し側が手元の記録と突き合わせて行う
	Full bool
}

// Empty は差分が空かどうかを返す
func (c *ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0
}

// === SyncResult ===

// FileFailure は同期中に失敗したファイル1件を表す
type FileFailure struct {
	Path string
	Err  error
}

// SkippedFile はチャンク化対象外として報告されたファイルを表す
type SkippedFile struct {
	Path   string
	Reason string
}

// SyncResult は1回の同期パスの結果を表す
// Failures が空でない場合 Status は StatusFailed となり、
// コミットポインタは前回値のまま据え置かれる
type SyncResult struct {
	RepoKey        string
	Commit         string
	Status         SyncStatus
	SyncedFiles    int
	DeletedFiles   int
	UpsertedChunks int
	Skipped        []SkippedFile
	Failures       []FileFailure
	Duration       time.Duration
}
