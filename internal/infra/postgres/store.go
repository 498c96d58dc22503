package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	pgvector "github.com/pgvector/pgvector-go"

	"aqchat/internal/core/indexing"
	"aqchat/internal/core/retrieval"
	"aqchat/pkg/db"
	"aqchat/pkg/lock"
)

// Store は indexing.IndexStore と retrieval.Repository を実装する
// PostgreSQL + pgvector のチャンクストアです
type Store struct {
	db *db.DB
}

// NewStore は新しい Store を作成します
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// コンパイル時の型チェック
var _ indexing.IndexStore = (*Store)(nil)
var _ retrieval.Repository = (*Store)(nil)

// ReplaceFileChunks はファイル1件分のチャンクを単一トランザクションで入れ替えます
// 旧チャンクの削除と新チャンクの挿入が不可分に行われるため、
// 途中失敗してもファイルの新旧が混在した状態は観測されません
func (s *Store) ReplaceFileChunks(ctx context.Context, repoKey, path string, chunks []*indexing.Chunk) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lock.AcquireTx(ctx, tx, repoKey, path); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM chunks WHERE repo_key = $1 AND path = $2`,
		repoKey, path,
	); err != nil {
		return fmt.Errorf("failed to delete old chunks: %w", err)
	}

	for _, chunk := range chunks {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chunks (repo_key, id, path, ordinal, start_line, end_line, content, content_hash, token_count, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (repo_key, id) DO UPDATE SET
				path = EXCLUDED.path,
				ordinal = EXCLUDED.ordinal,
				start_line = EXCLUDED.start_line,
				end_line = EXCLUDED.end_line,
				content = EXCLUDED.content,
				content_hash = EXCLUDED.content_hash,
				token_count = EXCLUDED.token_count,
				embedding = EXCLUDED.embedding`,
			repoKey,
			UUIDToPgtype(chunk.ID),
			chunk.Path,
			chunk.Ordinal,
			chunk.StartLine,
			chunk.EndLine,
			chunk.Content,
			chunk.ContentHash,
			chunk.TokenCount,
			pgvector.NewVector(chunk.Embedding),
		); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", chunk.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit chunk replacement: %w", err)
	}

	return nil
}

// DeleteByPath は指定パスのチャンクをすべて削除します
// 存在しないパスの削除は成功として扱います
func (s *Store) DeleteByPath(ctx context.Context, repoKey, path string) error {
	if _, err := s.db.Pool.Exec(ctx,
		`DELETE FROM chunks WHERE repo_key = $1 AND path = $2`,
		repoKey, path,
	); err != nil {
		return fmt.Errorf("failed to delete chunks for path %s: %w", path, err)
	}
	return nil
}

// CountChunks はリポジトリのチャンク総数を返します
func (s *Store) CountChunks(ctx context.Context, repoKey string) (int, error) {
	var count int
	err := s.db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM chunks WHERE repo_key = $1`,
		repoKey,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// DropRepository はリポジトリのチャンクをすべて削除します
func (s *Store) DropRepository(ctx context.Context, repoKey string) error {
	if _, err := s.db.Pool.Exec(ctx,
		`DELETE FROM chunks WHERE repo_key = $1`,
		repoKey,
	); err != nil {
		return fmt.Errorf("failed to drop repository chunks: %w", err)
	}
	return nil
}

// SearchChunks はコサイン距離の近い順に上位limit件のチャンクを返します
// 距離が同値の場合はチャンクIDの昇順で決定的に並びます
func (s *Store) SearchChunks(ctx context.Context, repoKey string, queryVector []float32, limit int) ([]*retrieval.SearchResult, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT id, path, ordinal, start_line, end_line, content, 1 - (embedding <=> $2) AS score
		 FROM chunks
		 WHERE repo_key = $1
		 ORDER BY embedding <=> $2, id
		 LIMIT $3`,
		repoKey, pgvector.NewVector(queryVector), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	var results []*retrieval.SearchResult
	for rows.Next() {
		var (
			id     pgtype.UUID
			result retrieval.SearchResult
		)
		if err := rows.Scan(&id, &result.Path, &result.Ordinal, &result.StartLine, &result.EndLine, &result.Content, &result.Score); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		result.ChunkID = PgtypeToUUID(id)
		results = append(results, &result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search results: %w", err)
	}

	return results, nil
}
