package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// DropAction はリポジトリのインデックスを完全に削除するコマンドのアクション
func DropAction(ctx context.Context, cmd *cli.Command) error {
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

	if err := coordinator.Drop(ctx, ref); err != nil {
		return fmt.Errorf("インデックスの削除に失敗しました: %w", err)
	}

	fmt.Printf("dropped: %s\n", ref.Key())
	return nil
}
