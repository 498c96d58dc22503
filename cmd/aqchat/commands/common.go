package commands

import (
	"context"
	"fmt"
	"log/slog"

	"aqchat/internal/core/indexing"
	"aqchat/internal/core/indexing/chunk"
	"aqchat/internal/core/retrieval"
	"aqchat/internal/infra/git"
	"aqchat/internal/infra/memory"
	"aqchat/internal/infra/openai"
	"aqchat/internal/infra/postgres"
	"aqchat/internal/platform/logger"
	"aqchat/pkg/config"
	"aqchat/pkg/db"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config   *config.Config
	Logger   *slog.Logger
	Database *db.DB // nil の場合はインメモリストアで動作する

	store  indexing.IndexStore
	states indexing.StateStore
	search retrieval.Repository
}

// NewAppContext は設定ファイルを読み込み、ストアを初期化して AppContext を作成する
// AQCHAT_DATABASE_URL が未設定の場合はインメモリストアにフォールバックする
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	appLogger := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})

	appCtx := &AppContext{
		Config: cfg,
		Logger: appLogger,
	}

	if cfg.Database.DSN == "" {
		appLogger.Warn("AQCHAT_DATABASE_URL が未設定のためインメモリストアで動作します（プロセス終了でインデックスは失われます）")
		store := memory.NewStore()
		appCtx.store = store
		appCtx.states = store
		appCtx.search = store
		return appCtx, nil
	}

	database, err := db.New(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := postgres.EnsureSchema(ctx, database, indexing.MetricCosine, cfg.OpenAI.EmbeddingDimension); err != nil {
		database.Close()
		return nil, fmt.Errorf("スキーマの初期化に失敗: %w", err)
	}

	appCtx.Database = database
	appCtx.store = postgres.NewStore(database)
	appCtx.states = postgres.NewStateStore(database)
	appCtx.search = postgres.NewStore(database)

	return appCtx, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Database != nil {
		ac.Database.Close()
	}
}

// newGateway はOpenAI Embedderを組み立てる
func (ac *AppContext) newGateway() (*indexing.Gateway, error) {
	embedder, err := openai.NewEmbedder(ac.Config.OpenAI.APIKey,
		openai.WithEmbeddingModel(ac.Config.OpenAI.EmbeddingModel),
		openai.WithEmbeddingDimension(ac.Config.OpenAI.EmbeddingDimension),
	)
	if err != nil {
		return nil, err
	}

	return indexing.NewGateway(embedder, ac.Config.OpenAI.EmbeddingDimension,
		indexing.WithGatewayLogger(ac.Logger),
	), nil
}

// newCoordinator は同期コーディネータを組み立てる
func (ac *AppContext) newCoordinator() (*indexing.Coordinator, error) {
	gateway, err := ac.newGateway()
	if err != nil {
		return nil, err
	}

	counter, err := chunk.NewTiktokenCounter()
	if err != nil {
		return nil, fmt.Errorf("トークンカウンタの初期化に失敗: %w", err)
	}

	factory := chunk.NewFactory(counter, &chunk.Config{
		ChunkTokens:   ac.Config.Chunking.ChunkTokens,
		OverlapTokens: ac.Config.Chunking.OverlapTokens,
	})

	client := git.NewClient(ac.Config.Git.CloneDir)
	source := git.NewSource(client, git.WithSourceLogger(ac.Logger))

	return indexing.NewCoordinator(source, ac.store, ac.states, gateway, factory,
		indexing.WithSyncLogger(ac.Logger),
		indexing.WithFileWorkers(ac.Config.Sync.FileWorkers),
	), nil
}

// newAdminCoordinator は Drop / State 専用の Coordinator を組み立てる
// これらの操作は Embedder やチャンカーに触れないため OpenAI の設定を要求しない
func (ac *AppContext) newAdminCoordinator() *indexing.Coordinator {
	client := git.NewClient(ac.Config.Git.CloneDir)
	source := git.NewSource(client, git.WithSourceLogger(ac.Logger))

	return indexing.NewCoordinator(source, ac.store, ac.states, nil, nil,
		indexing.WithSyncLogger(ac.Logger),
	)
}

// newRetrievalService は検索サービスを組み立てる
func (ac *AppContext) newRetrievalService() (*retrieval.Service, error) {
	gateway, err := ac.newGateway()
	if err != nil {
		return nil, err
	}

	return retrieval.NewService(ac.search, gateway, ac.states,
		retrieval.WithQueryLogger(ac.Logger),
	), nil
}

// repositoryRef はフラグと設定から RepositoryRef を組み立てる
func (ac *AppContext) repositoryRef(url, branch string) indexing.RepositoryRef {
	return indexing.RepositoryRef{
		URL:    url,
		Branch: branch,
		Credential: &indexing.Credential{
			Username:    ac.Config.Git.Username,
			Token:       ac.Config.Git.Token,
			SSHKeyPath:  ac.Config.Git.SSHKeyPath,
			SSHPassword: ac.Config.Git.SSHPassword,
		},
	}
}
