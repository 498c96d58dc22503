package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"aqchat/internal/core/retrieval"
)

// QueryAction はインデックスを検索するコマンドのアクション
func QueryAction(ctx context.Context, cmd *cli.Command) error {
	url := cmd.String("url")
	branch := cmd.String("branch")
	query := cmd.String("query")
	limit := cmd.Int("limit")
	asJSON := cmd.Bool("json")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	service, err := appCtx.newRetrievalService()
	if err != nil {
		return err
	}

	result, err := service.Query(ctx, retrieval.QueryParams{
		Ref:   appCtx.repositoryRef(url, branch),
		Query: query,
		Limit: limit,
	})
	if err != nil {
		return fmt.Errorf("検索に失敗しました: %w", err)
	}

	if asJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	if result.IndexStale {
		fmt.Println("warning: インデックスは最新ではありません（同期が未完了・進行中・または失敗しています）")
	}

	if len(result.Results) == 0 {
		fmt.Println("該当するチャンクはありませんでした")
		return nil
	}

	for i, r := range result.Results {
		fmt.Printf("--- [%d] %s:%d-%d (score=%.4f)\n", i+1, r.Path, r.StartLine, r.EndLine, r.Score)
		fmt.Println(r.Content)
	}

	return nil
}
