package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/mo"

	"aqchat/internal/core/indexing"
	"aqchat/pkg/db"
)

// StateStore は indexing.StateStore を実装する PostgreSQL リポジトリです
// 同期状態とファイル記録を保持します
type StateStore struct {
	db *db.DB
}

// NewStateStore は新しい StateStore を作成します
func NewStateStore(database *db.DB) *StateStore {
	return &StateStore{db: database}
}

// コンパイル時の型チェック
var _ indexing.StateStore = (*StateStore)(nil)

func (s *StateStore) GetSyncState(ctx context.Context, repoKey string) (mo.Option[*indexing.SyncState], error) {
	var (
		lastCommit pgtype.Text
		lastSyncAt pgtype.Timestamptz
		status     string
	)
	err := s.db.Pool.QueryRow(ctx,
		`SELECT last_synced_commit, last_sync_at, status FROM sync_states WHERE repo_key = $1`,
		repoKey,
	).Scan(&lastCommit, &lastSyncAt, &status)
	if err == pgx.ErrNoRows {
		return mo.None[*indexing.SyncState](), nil
	}
	if err != nil {
		return mo.None[*indexing.SyncState](), fmt.Errorf("failed to get sync state: %w", err)
	}

	return mo.Some(&indexing.SyncState{
		RepoKey:          repoKey,
		LastSyncedCommit: PgtextToOption(lastCommit),
		LastSyncAt:       PgtypeToTime(lastSyncAt),
		Status:           indexing.SyncStatus(status),
	}), nil
}

func (s *StateStore) SaveSyncState(ctx context.Context, state *indexing.SyncState) error {
	if _, err := s.db.Pool.Exec(ctx,
		`INSERT INTO sync_states (repo_key, last_synced_commit, last_sync_at, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (repo_key) DO UPDATE SET
			last_synced_commit = EXCLUDED.last_synced_commit,
			last_sync_at = EXCLUDED.last_sync_at,
			status = EXCLUDED.status`,
		state.RepoKey,
		OptionToPgtext(state.LastSyncedCommit),
		TimeToPgtype(state.LastSyncAt),
		string(state.Status),
	); err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}

func (s *StateStore) GetFileRecords(ctx context.Context, repoKey string) (map[string]*indexing.FileRecord, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT path, content_hash, chunk_ids FROM file_records WHERE repo_key = $1`,
		repoKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list file records: %w", err)
	}
	defer rows.Close()

	records := make(map[string]*indexing.FileRecord)
	for rows.Next() {
		var (
			record   indexing.FileRecord
			chunkIDs []pgtype.UUID
		)
		if err := rows.Scan(&record.Path, &record.ContentHash, &chunkIDs); err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		record.ChunkIDs = PgtypeToUUIDs(chunkIDs)
		records[record.Path] = &record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate file records: %w", err)
	}

	return records, nil
}

func (s *StateStore) SaveFileRecord(ctx context.Context, repoKey string, record *indexing.FileRecord) error {
	if _, err := s.db.Pool.Exec(ctx,
		`INSERT INTO file_records (repo_key, path, content_hash, chunk_ids)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (repo_key, path) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			chunk_ids = EXCLUDED.chunk_ids`,
		repoKey,
		record.Path,
		record.ContentHash,
		UUIDsToPgtype(record.ChunkIDs),
	); err != nil {
		return fmt.Errorf("failed to save file record: %w", err)
	}
	return nil
}

func (s *StateStore) DeleteFileRecord(ctx context.Context, repoKey, path string) error {
	if _, err := s.db.Pool.Exec(ctx,
		`DELETE FROM file_records WHERE repo_key = $1 AND path = $2`,
		repoKey, path,
	); err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	return nil
}

// DropRepository は同期状態とファイル記録をすべて削除します
func (s *StateStore) DropRepository(ctx context.Context, repoKey string) error {
	if _, err := s.db.Pool.Exec(ctx,
		`DELETE FROM file_records WHERE repo_key = $1`,
		repoKey,
	); err != nil {
		return fmt.Errorf("failed to drop file records: %w", err)
	}
	if _, err := s.db.Pool.Exec(ctx,
		`DELETE FROM sync_states WHERE repo_key = $1`,
		repoKey,
	); err != nil {
		return fmt.Errorf("failed to drop sync state: %w", err)
	}
	return nil
}
