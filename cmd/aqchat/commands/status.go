package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// StatusAction はリポジトリの同期状態を表示するコマンドのアクション
func StatusAction(ctx context.Context, cmd *cli.Command) error {
	url := cmd.String("url")
	branch := cmd.String("branch")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	ref := appCtx.repositoryRef(url, branch)

	coordinator := appCtx.newAdminCoordinator()

	state, err := coordinator.State(ctx, ref)
	if err != nil {
		return fmt.Errorf("同期状態の取得に失敗しました: %w", err)
	}

	fmt.Printf("repository: %s\n", ref.Key())

	s, ok := state.Get()
	if !ok {
		fmt.Println("status:     not synced")
		return nil
	}

	fmt.Printf("status:     %s\n", s.Status)
	if commit, ok := s.LastSyncedCommit.Get(); ok {
		fmt.Printf("commit:     %s\n", commit)
	} else {
		fmt.Println("commit:     (none)")
	}
	if !s.LastSyncAt.IsZero() {
		fmt.Printf("last sync:  %s\n", s.LastSyncAt.Format("2006-01-02 15:04:05 MST"))
	}

	count, err := appCtx.store.CountChunks(ctx, ref.Key())
	if err != nil {
		return fmt.Errorf("チャンク数の取得に失敗しました: %w", err)
	}
	fmt.Printf("chunks:     %d\n", count)

	return nil
}
