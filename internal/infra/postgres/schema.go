package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"aqchat/internal/core/indexing"
	"aqchat/pkg/db"
)

// schemaDDL はベクトル次元以外のスキーマ定義
// chunks の主キーは (repo_key, id): チャンクIDは path + 内容 + 序数から
// 決定的に導出されるため、同一ファイルを持つ別リポジトリ間で衝突しうる
const schemaDDL = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS index_meta (
	singleton    boolean PRIMARY KEY DEFAULT true CHECK (singleton),
	metric       text    NOT NULL,
	dimension    integer NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	repo_key     text    NOT NULL,
	id           uuid    NOT NULL,
	path         text    NOT NULL,
	ordinal      integer NOT NULL,
	start_line   integer NOT NULL,
	end_line     integer NOT NULL,
	content      text    NOT NULL,
	content_hash text    NOT NULL,
	token_count  integer NOT NULL,
	embedding    vector(%d) NOT NULL,
	PRIMARY KEY (repo_key, id)
);

CREATE INDEX IF NOT EXISTS idx_chunks_repo_path ON chunks (repo_key, path);

CREATE TABLE IF NOT EXISTS sync_states (
	repo_key           text PRIMARY KEY,
	last_synced_commit text,
	last_sync_at       timestamptz NOT NULL,
	status             text NOT NULL
);

CREATE TABLE IF NOT EXISTS file_records (
	repo_key     text NOT NULL,
	path         text NOT NULL,
	content_hash text NOT NULL,
	chunk_ids    uuid[] NOT NULL,
	PRIMARY KEY (repo_key, path)
);
`

// EnsureSchema はスキーマを作成し、距離メトリックと次元の整合性を検証する
// 既存インデックスと異なる次元・メトリックでの接続は拒否する
func EnsureSchema(ctx context.Context, database *db.DB, metric indexing.Metric, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid embedding dimension: %d", dimension)
	}

	if _, err := database.Pool.Exec(ctx, fmt.Sprintf(schemaDDL, dimension)); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	if _, err := database.Pool.Exec(ctx,
		`INSERT INTO index_meta (metric, dimension) VALUES ($1, $2) ON CONFLICT (singleton) DO NOTHING`,
		string(metric), dimension,
	); err != nil {
		return fmt.Errorf("failed to record index metadata: %w", err)
	}

	var storedMetric string
	var storedDimension int
	err := database.Pool.QueryRow(ctx, `SELECT metric, dimension FROM index_meta`).Scan(&storedMetric, &storedDimension)
	if err != nil && err != pgx.ErrNoRows {
		return fmt.Errorf("failed to read index metadata: %w", err)
	}

	if storedDimension != dimension {
		return fmt.Errorf("%w: index has dimension %d, embedder produces %d",
			indexing.ErrDimensionMismatch, storedDimension, dimension)
	}
	if storedMetric != string(metric) {
		return fmt.Errorf("index uses metric %q, requested %q", storedMetric, metric)
	}

	return nil
}
