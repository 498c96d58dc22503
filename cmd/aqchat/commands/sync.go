package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"aqchat/internal/core/indexing"
)

// SyncAction はリポジトリを1回同期するコマンドのアクション
func SyncAction(ctx context.Context, cmd *cli.Command) error {
	url := cmd.String("url")
	branch := cmd.String("branch")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	coordinator, err := appCtx.newCoordinator()
	if err != nil {
		return err
	}

	ref := appCtx.repositoryRef(url, branch)

	appCtx.Logger.Info("同期を開始します", "repository", ref.Key())

	result, err := coordinator.Sync(ctx, ref)
	if err != nil {
		return fmt.Errorf("同期に失敗しました: %w", err)
	}

	printSyncResult(result)

	if result.Status == indexing.StatusFailed {
		return fmt.Errorf("%d 件のファイルが失敗しました（コミットポインタは据え置き）", len(result.Failures))
	}

	return nil
}

func printSyncResult(result *indexing.SyncResult) {
	fmt.Printf("repository:      %s\n", result.RepoKey)
	fmt.Printf("commit:          %s\n", result.Commit)
	fmt.Printf("status:          %s\n", result.Status)
	fmt.Printf("synced files:    %d\n", result.SyncedFiles)
	fmt.Printf("deleted files:   %d\n", result.DeletedFiles)
	fmt.Printf("upserted chunks: %d\n", result.UpsertedChunks)
	fmt.Printf("duration:        %s\n", result.Duration)

	if len(result.Skipped) > 0 {
		fmt.Printf("skipped files:   %d\n", len(result.Skipped))
		for _, s := range result.Skipped {
			fmt.Printf("  - %s (%s)\n", s.Path, s.Reason)
		}
	}
	if len(result.Failures) > 0 {
		fmt.Printf("failed files:    %d\n", len(result.Failures))
		for _, f := range result.Failures {
			fmt.Printf("  - %s: %v\n", f.Path, f.Err)
		}
	}
}
