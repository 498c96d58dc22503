package git

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/mo"

	"aqchat/internal/core/indexing"
	"aqchat/internal/infra/git/filter"
)

var _ indexing.Source = (*Source)(nil)

// Source は go-git によるリポジトリ差分取得を indexing.Source として提供する
type Source struct {
	client *Client
	logger *slog.Logger
}

type SourceOption func(*Source)

func WithSourceLogger(logger *slog.Logger) SourceOption {
	return func(s *Source) {
		s.logger = logger
	}
}

func NewSource(client *Client, opts ...SourceOption) *Source {
	s := &Source{
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Diff はリモートの最新コミットと前回同期コミットの間の変更集合を返す
// 前回コミットが無い場合やローカルに存在しない場合は全ファイル列挙にフォールバックする
func (s *Source) Diff(ctx context.Context, ref indexing.RepositoryRef, since mo.Option[string]) (*indexing.ChangeSet, error) {
	repoPath, err := s.client.RepoDir(ref.URL)
	if err != nil {
		return nil, fmt.Errorf("リポジトリパスの解決に失敗しました: %w", err)
	}

	if err := s.client.CloneOrFetch(ctx, ref, repoPath); err != nil {
		return nil, fmt.Errorf("リポジトリの取得に失敗しました: %w", err)
	}

	newCommit, err := s.client.ResolveRemoteHead(repoPath, ref.Branch)
	if err != nil {
		return nil, fmt.Errorf("ブランチの解決に失敗しました: %w", err)
	}

	ignore, err := filter.NewIgnoreFilter(repoPath)
	if err != nil {
		return nil, fmt.Errorf("除外設定の読み込みに失敗しました: %w", err)
	}

	oldCommit, hasOld := since.Get()
	if hasOld && oldCommit == newCommit {
		return &indexing.ChangeSet{NewCommit: newCommit}, nil
	}

	if !hasOld || !s.client.HasCommit(repoPath, oldCommit) {
		if hasOld {
			s.logger.Warn("前回の同期コミットが見つからないため全ファイルを再列挙します",
				slog.String("repository", ref.Key()),
				slog.String("last_synced_commit", oldCommit),
			)
		}

		files, err := s.client.ListTree(repoPath, newCommit)
		if err != nil {
			return nil, fmt.Errorf("ツリーの列挙に失敗しました: %w", err)
		}

		cs := &indexing.ChangeSet{NewCommit: newCommit, Full: true}
		for _, fc := range files {
			if ignore.ShouldIgnore(fc.Path) {
				continue
			}
			cs.Added = append(cs.Added, fc)
		}
		return cs, nil
	}

	diff, err := s.client.DiffCommits(repoPath, oldCommit, newCommit)
	if err != nil {
		return nil, fmt.Errorf("コミット間の差分取得に失敗しました: %w", err)
	}

	return filterChangeSet(diff, ignore), nil
}

// ReadFile は指定コミット時点のファイル内容を返す
func (s *Source) ReadFile(ctx context.Context, ref indexing.RepositoryRef, commit, path string) ([]byte, error) {
	repoPath, err := s.client.RepoDir(ref.URL)
	if err != nil {
		return nil, fmt.Errorf("リポジトリパスの解決に失敗しました: %w", err)
	}
	return s.client.ReadFileAt(repoPath, commit, path)
}

func filterChangeSet(cs *indexing.ChangeSet, ignore *filter.IgnoreFilter) *indexing.ChangeSet {
	filtered := &indexing.ChangeSet{
		NewCommit: cs.NewCommit,
		Full:      cs.Full,
	}
	for _, fc := range cs.Added {
		if !ignore.ShouldIgnore(fc.Path) {
			filtered.Added = append(filtered.Added, fc)
		}
	}
	for _, fc := range cs.Modified {
		if !ignore.ShouldIgnore(fc.Path) {
			filtered.Modified = append(filtered.Modified, fc)
		}
	}
	for _, path := range cs.Removed {
		if !ignore.ShouldIgnore(path) {
			filtered.Removed = append(filtered.Removed, path)
		}
	}
	return filtered
}
