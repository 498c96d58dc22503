package indexing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/samber/mo"
	"golang.org/x/sync/errgroup"

	"aqchat/internal/core/indexing/chunk"
)

const (
	// DefaultFileWorkers は1回の同期パス内でファイルを並行処理するワーカー数
	// 外部Embeddingサービスのレート制限に収まるように設定する
	DefaultFileWorkers = 8

	// storageMaxAttempts はストア書き込みの最大試行回数
	storageMaxAttempts = 3
	// storageBackoff はストア書き込みリトライの待機時間
	storageBackoff = 500 * time.Millisecond
)

// errSkipped はバイナリ等チャンク化対象外のファイルを表す内部マーカー
type errSkipped struct {
	reason string
}

func (e *errSkipped) Error() string { return "file skipped: " + e.reason }

// Coordinator は差分検出・チャンク化・Embedding生成・インデックス更新を
// 1回の同期パスとして編成する
//
// リポジトリごとの状態機械: Idle → Syncing → {Idle(成功), Failed}
// 同一リポジトリの同期は常に高々1つ（異なるリポジトリ同士は並行可）
type Coordinator struct {
	source      Source
	store       IndexStore
	states      StateStore
	gateway     *Gateway
	chunkers    *chunk.Factory
	fileWorkers int
	logger      *slog.Logger

	mu      sync.Mutex
	syncing map[string]bool
}

type coordinatorOptions struct {
	fileWorkers int
	logger      *slog.Logger
}

// CoordinatorOption は Coordinator のオプション設定
type CoordinatorOption func(*coordinatorOptions)

// WithSyncLogger は Coordinator にロガーを設定する
func WithSyncLogger(logger *slog.Logger) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.logger = logger
	}
}

// WithFileWorkers はファイル並行処理のワーカー数を上書きする
func WithFileWorkers(n int) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.fileWorkers = n
	}
}

// NewCoordinator は新しい Coordinator を作成する
func NewCoordinator(
	source Source,
	store IndexStore,
	states StateStore,
	gateway *Gateway,
	chunkers *chunk.Factory,
	opts ...CoordinatorOption,
) *Coordinator {
	options := coordinatorOptions{
		fileWorkers: DefaultFileWorkers,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.fileWorkers < 1 {
		options.fileWorkers = 1
	}

	return &Coordinator{
		source:      source,
		store:       store,
		states:      states,
		gateway:     gateway,
		chunkers:    chunkers,
		fileWorkers: options.fileWorkers,
		logger:      options.logger,
		syncing:     make(map[string]bool),
	}
}

// Sync はリポジトリを1回同期する
//
// 同じリポジトリの同期が進行中の場合は ErrAlreadySyncing で即座に拒否する。
// ファイル単位の失敗は Failures に集約され同期全体は中断しない（この場合
// コミットポインタは据え置かれ、次回の同期で失敗ファイルが再試行される）。
// ErrDimensionMismatch は設定ミスのため即座に同期を中断する
func (c *Coordinator) Sync(ctx context.Context, ref RepositoryRef) (*SyncResult, error) {
	key := ref.Key()

	c.mu.Lock()
	if c.syncing[key] {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadySyncing, key)
	}
	c.syncing[key] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.syncing, key)
		c.mu.Unlock()
	}()

	startTime := time.Now()

	stateOpt, err := c.states.GetSyncState(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("同期状態の取得に失敗: %w", err)
	}

	since := mo.None[string]()
	priorStatus := StatusIdle
	if stateOpt.IsPresent() {
		prior := stateOpt.MustGet()
		since = prior.LastSyncedCommit
		priorStatus = prior.Status
		if priorStatus == StatusSyncing {
			// 前回のプロセスが後始末できずに残した状態。今回が唯一の
			// 書き手であることはメモリ上の排他で保証済み
			priorStatus = StatusIdle
		}
	}

	state := &SyncState{
		RepoKey:          key,
		LastSyncedCommit: since,
		LastSyncAt:       time.Now(),
		Status:           StatusSyncing,
	}
	if err := c.states.SaveSyncState(ctx, state); err != nil {
		return nil, fmt.Errorf("同期状態の保存に失敗: %w", err)
	}

	c.logger.Info("同期を開始",
		"repo", key,
		"sinceCommit", since.OrElse("(初回)"),
	)

	result, err := c.runSync(ctx, ref, key, since, state)
	if err != nil {
		// 変更をコミットできなかった同期は前回ポインタのまま終了する。
		// キャンセル時は Idle へ、それ以外は原因に応じた状態へ戻す
		finalStatus := StatusFailed
		if errors.Is(err, context.Canceled) {
			finalStatus = StatusIdle
		}
		c.restoreState(ctx, key, since, priorStatus, finalStatus)
		return nil, err
	}

	result.Duration = time.Since(startTime)
	c.logger.Info("同期が完了",
		"repo", key,
		"status", result.Status,
		"commit", result.Commit,
		"syncedFiles", result.SyncedFiles,
		"deletedFiles", result.DeletedFiles,
		"upsertedChunks", result.UpsertedChunks,
		"skipped", len(result.Skipped),
		"failures", len(result.Failures),
		"duration", result.Duration,
	)

	return result, nil
}

func (c *Coordinator) runSync(
	ctx context.Context,
	ref RepositoryRef,
	key string,
	since mo.Option[string],
	state *SyncState,
) (*SyncResult, error) {
	diff, err := c.source.Diff(ctx, ref, since)
	if err != nil {
		return nil, fmt.Errorf("差分の取得に失敗: %w", err)
	}

	records, err := c.states.GetFileRecords(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("ファイルレコードの取得に失敗: %w", err)
	}

	result := &SyncResult{
		RepoKey: key,
		Commit:  diff.NewCommit,
	}

	// 全ファイル列挙の場合、スナップショットに存在しない記録済みファイルは
	// 削除扱いにする（スナップショット外のチャンクを残さないための保全）
	removed := diff.Removed
	if diff.Full {
		present := make(map[string]bool, len(diff.Added))
		for _, fc := range diff.Added {
			present[fc.Path] = true
		}
		for path := range records {
			if !present[path] {
				removed = append(removed, path)
			}
		}
	}

	// 削除ファイル: チャンクとレコードを取り除く
	for _, path := range removed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.removeIndexedFile(ctx, key, path); err != nil {
			result.Failures = append(result.Failures, FileFailure{Path: path, Err: err})
			continue
		}
		result.DeletedFiles++
	}

	// 追加・変更ファイル: ファイル単位トランザクションで置き換える
	changes := make([]FileChange, 0, len(diff.Added)+len(diff.Modified))
	changes = append(changes, diff.Added...)
	changes = append(changes, diff.Modified...)

	var resultMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fileWorkers)

	for _, fc := range changes {
		g.Go(func() error {
			// 内容が前回と同一なら何もしない（冪等な再同期・リネーム誤検知対策）
			if rec, ok := records[fc.Path]; ok && rec.ContentHash == fc.ContentHash {
				return nil
			}

			chunkCount, err := c.syncFile(gctx, ref, key, diff.NewCommit, fc)

			// チャンク化対象外になったファイルは旧内容がインデックスに
			// 残らないよう、記録があればチャンクとレコードを取り除く
			// （テキスト→バイナリへの変化など）
			var skipped *errSkipped
			if errors.As(err, &skipped) {
				if _, indexed := records[fc.Path]; indexed {
					if derr := c.removeIndexedFile(gctx, key, fc.Path); derr != nil {
						err = derr
						skipped = nil
					}
				}
			}

			resultMu.Lock()
			defer resultMu.Unlock()

			switch {
			case skipped != nil:
				result.Skipped = append(result.Skipped, SkippedFile{Path: fc.Path, Reason: skipped.reason})
				return nil
			case err == nil:
				result.SyncedFiles++
				result.UpsertedChunks += chunkCount
				return nil
			case errors.Is(err, ErrDimensionMismatch):
				// 設定ミス: 同期全体を即座に中断する
				return err
			default:
				if gctx.Err() != nil {
					// キャンセル済み: 未コミットのファイルは放棄する
					return gctx.Err()
				}
				c.logger.Warn("ファイルの同期に失敗",
					"repo", key,
					"path", fc.Path,
					"error", err,
				)
				result.Failures = append(result.Failures, FileFailure{Path: fc.Path, Err: err})
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// コミットポインタは全ファイル成功時のみ前進させる
	// （失敗があった場合、次回の同期で失敗ファイルが差分として再検出される）
	state.LastSyncAt = time.Now()
	if len(result.Failures) == 0 {
		state.LastSyncedCommit = mo.Some(diff.NewCommit)
		state.Status = StatusIdle
	} else {
		state.Status = StatusFailed
	}
	if err := c.states.SaveSyncState(ctx, state); err != nil {
		return nil, fmt.Errorf("同期状態の保存に失敗: %w", err)
	}

	result.Status = state.Status
	return result, nil
}

// syncFile は1ファイルをチャンク化・埋め込み・置き換えする
// 全チャンクの埋め込みが成功した場合に限り旧チャンクを削除して新チャンクを
// 挿入する。途中で失敗した場合、旧チャンクは一切触れられない
func (c *Coordinator) syncFile(ctx context.Context, ref RepositoryRef, key, commit string, fc FileChange) (int, error) {
	content, err := c.source.ReadFile(ctx, ref, commit, fc.Path)
	if err != nil {
		return 0, fmt.Errorf("ファイルの読み込みに失敗: %w", err)
	}

	if c.chunkers.IsBinary(content) {
		return 0, &errSkipped{reason: "binary"}
	}
	if !utf8.Valid(content) {
		return 0, &errSkipped{reason: "undecodable"}
	}

	language := c.chunkers.DetectLanguage(fc.Path, content)
	chunker := c.chunkers.ChunkerFor(language)

	pieces, err := chunker.Chunk(ctx, fc.Path, string(content))
	if err != nil {
		return 0, fmt.Errorf("チャンク化に失敗: %w", err)
	}

	chunks := make([]*Chunk, 0, len(pieces))
	texts := make([]string, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, &Chunk{
			ID:          ChunkID(fc.Path, fc.ContentHash, i),
			Path:        fc.Path,
			Ordinal:     i,
			StartLine:   piece.StartLine,
			EndLine:     piece.EndLine,
			Content:     piece.Content,
			ContentHash: fc.ContentHash,
			TokenCount:  piece.Tokens,
		})
		texts = append(texts, piece.Content)
	}

	// 空ファイルはチャンクゼロ。旧チャンクの削除とレコード更新だけ行う
	if len(chunks) > 0 {
		vectors, err := c.gateway.EmbedTexts(ctx, texts)
		if err != nil {
			return 0, err
		}
		for i, v := range vectors {
			chunks[i].Embedding = v
		}
	}

	if err := c.withStorageRetry(ctx, func(ctx context.Context) error {
		return c.store.ReplaceFileChunks(ctx, key, fc.Path, chunks)
	}); err != nil {
		return 0, fmt.Errorf("チャンクの置き換えに失敗: %w", err)
	}

	record := &FileRecord{
		Path:        fc.Path,
		ContentHash: fc.ContentHash,
	}
	for _, ch := range chunks {
		record.ChunkIDs = append(record.ChunkIDs, ch.ID)
	}
	if err := c.withStorageRetry(ctx, func(ctx context.Context) error {
		return c.states.SaveFileRecord(ctx, key, record)
	}); err != nil {
		return 0, fmt.Errorf("ファイルレコードの保存に失敗: %w", err)
	}

	return len(chunks), nil
}

// removeIndexedFile は1ファイルのチャンクとレコードをインデックスから取り除く
func (c *Coordinator) removeIndexedFile(ctx context.Context, key, path string) error {
	if err := c.withStorageRetry(ctx, func(ctx context.Context) error {
		return c.store.DeleteByPath(ctx, key, path)
	}); err != nil {
		return err
	}
	return c.states.DeleteFileRecord(ctx, key, path)
}

// Drop はリポジトリのインデックス・同期状態を完全に破棄する管理操作
// 同期が進行中の場合は拒否する
func (c *Coordinator) Drop(ctx context.Context, ref RepositoryRef) error {
	key := ref.Key()

	c.mu.Lock()
	if c.syncing[key] {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadySyncing, key)
	}
	c.syncing[key] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.syncing, key)
		c.mu.Unlock()
	}()

	if err := c.store.DropRepository(ctx, key); err != nil {
		return fmt.Errorf("インデックスの破棄に失敗: %w", err)
	}
	if err := c.states.DropRepository(ctx, key); err != nil {
		return fmt.Errorf("同期状態の破棄に失敗: %w", err)
	}

	c.logger.Info("リポジトリのインデックスを破棄", "repo", key)
	return nil
}

// State は現在の同期状態を返す（CLIのstatus表示用）
func (c *Coordinator) State(ctx context.Context, ref RepositoryRef) (mo.Option[*SyncState], error) {
	return c.states.GetSyncState(ctx, ref.Key())
}

// restoreState は中断した同期の状態を巻き戻す
// 親コンテキストがキャンセル済みでも保存できるよう切り離したコンテキストを使う
func (c *Coordinator) restoreState(ctx context.Context, key string, since mo.Option[string], priorStatus, status SyncStatus) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if status == StatusIdle && priorStatus == StatusFailed {
		status = StatusFailed
	}

	err := c.states.SaveSyncState(saveCtx, &SyncState{
		RepoKey:          key,
		LastSyncedCommit: since,
		LastSyncAt:       time.Now(),
		Status:           status,
	})
	if err != nil {
		c.logger.Error("同期状態の巻き戻しに失敗",
			"repo", key,
			"error", err,
		)
	}
}

// withStorageRetry はストア書き込みを一時的障害に対してリトライする
// リトライ後も失敗した場合は呼び出し元でファイル単位の失敗に格下げされる
func (c *Coordinator) withStorageRetry(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < storageMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(storageBackoff * time.Duration(attempt)):
			}
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err
	}
	return lastErr
}
