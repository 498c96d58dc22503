package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"aqchat/cmd/aqchat/commands"
	"aqchat/internal/core/retrieval"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repoFlags := []cli.Flag{
		&cli.StringFlag{
			Name:  "env",
			Usage: "環境変数ファイルパス",
			Value: ".env",
		},
		&cli.StringFlag{
			Name:     "url",
			Usage:    "リポジトリURL（https:// または git@）",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "branch",
			Usage: "対象ブランチ",
			Value: "main",
		},
	}

	app := &cli.Command{
		Name:  "aqchat",
		Usage: "リポジトリのインクリメンタルなインデックス化とコード検索",
		Commands: []*cli.Command{
			{
				Name:   "sync",
				Usage:  "リポジトリをインデックスに同期する",
				Flags:  repoFlags,
				Action: commands.SyncAction,
			},
			{
				Name:  "query",
				Usage: "インデックスを自然言語で検索する",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     "query",
						Aliases:  []string{"q"},
						Usage:    "検索クエリ",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "返却するチャンク数の上限",
						Value: retrieval.DefaultLimit,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "結果をJSONで出力する",
					},
				}, repoFlags...),
				Action: commands.QueryAction,
			},
			{
				Name:   "status",
				Usage:  "リポジトリの同期状態を表示する",
				Flags:  repoFlags,
				Action: commands.StatusAction,
			},
			{
				Name:   "drop",
				Usage:  "リポジトリのインデックスと同期状態を完全に削除する",
				Flags:  repoFlags,
				Action: commands.DropAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
