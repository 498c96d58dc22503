package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/go-git/go-git/v5/utils/merkletrie"
	giturls "github.com/whilp/git-urls"

	"aqchat/internal/core/indexing"
)

// DefaultRemoteTimeout はリモート操作（clone/fetch）のタイムアウト
const DefaultRemoteTimeout = 120 * time.Second

// Client は go-git によるGitリポジトリ操作を提供する
// リモートはベアではないローカルクローンとして cloneBaseDir 配下に保持される
type Client struct {
	cloneBaseDir  string
	remoteTimeout time.Duration
}

// NewClient は新しい Client を作成する
func NewClient(cloneBaseDir string) *Client {
	return &Client{
		cloneBaseDir:  cloneBaseDir,
		remoteTimeout: DefaultRemoteTimeout,
	}
}

// RepoDir はリポジトリURLからクローン先ディレクトリを決定する
// 例: git@github.com:user/repo.git -> <base>/github.com/user/repo
func (c *Client) RepoDir(url string) (string, error) {
	u, err := giturls.Parse(url)
	if err != nil {
		return "", fmt.Errorf("failed to parse git URL: %w", err)
	}

	hostname := u.Hostname()
	if hostname == "" {
		hostname = u.Host
	}

	path := strings.TrimPrefix(u.Path, "/")
	path = strings.TrimSuffix(path, ".git")

	return filepath.Join(c.cloneBaseDir, hostname, path), nil
}

// CloneOrFetch はリポジトリが存在しない場合はクローン、存在する場合は
// origin を fetch する。チェックアウトは行わない（読み取りはコミット単位）
func (c *Client) CloneOrFetch(ctx context.Context, ref indexing.RepositoryRef, repoPath string) error {
	ctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()

	auth, err := c.authMethod(ref)
	if err != nil {
		return err
	}

	gitDir := filepath.Join(repoPath, ".git")
	if _, err := os.Stat(gitDir); os.IsNotExist(err) {
		_, err := gogit.PlainCloneContext(ctx, repoPath, false, &gogit.CloneOptions{
			URL:  ref.URL,
			Auth: auth,
		})
		if err != nil {
			return mapTransportError(err)
		}
		return nil
	}

	repo, err := gogit.PlainOpen(repoPath)
	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}

	err = repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: "origin",
		Auth:       auth,
		Force:      true,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return mapTransportError(err)
	}

	return nil
}

// ResolveRemoteHead はブランチ先頭のコミットハッシュを解決する
// ブランチがリモートに存在しない場合は ErrRevisionNotFound を返す
func (c *Client) ResolveRemoteHead(repoPath, branch string) (string, error) {
	repo, err := gogit.PlainOpen(repoPath)
	if err != nil {
		return "", fmt.Errorf("failed to open repository: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true)
	if err == nil {
		return ref.Hash().String(), nil
	}

	// ローカル専用リポジトリ（テスト・file://）向けのフォールバック
	localRef, localErr := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if localErr == nil {
		return localRef.Hash().String(), nil
	}

	return "", fmt.Errorf("%w: branch %s", indexing.ErrRevisionNotFound, branch)
}

// ListTree は指定コミットの全追跡ファイルを列挙する
// ContentHash には Git の blob ハッシュを使う（内容アドレスとして決定的）
func (c *Client) ListTree(repoPath, commit string) ([]indexing.FileChange, error) {
	tree, err := c.treeAt(repoPath, commit)
	if err != nil {
		return nil, err
	}

	var files []indexing.FileChange
	err = tree.Files().ForEach(func(f *object.File) error {
		files = append(files, indexing.FileChange{
			Path:        f.Name,
			ContentHash: f.Hash.String(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate files: %w", err)
	}

	return files, nil
}

// DiffCommits は2つのコミット間のパスレベル差分を計算する
// リネームは remove + add として報告される。blob ハッシュが同一の変更
// （パーミッション変更等）は差分に現れない
func (c *Client) DiffCommits(repoPath, oldCommit, newCommit string) (*indexing.ChangeSet, error) {
	oldTree, err := c.treeAt(repoPath, oldCommit)
	if err != nil {
		return nil, err
	}
	newTree, err := c.treeAt(repoPath, newCommit)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTree(oldTree, newTree)
	if err != nil {
		return nil, fmt.Errorf("failed to diff trees: %w", err)
	}

	cs := &indexing.ChangeSet{NewCommit: newCommit}
	for _, change := range changes {
		action, err := change.Action()
		if err != nil {
			return nil, fmt.Errorf("failed to get change action: %w", err)
		}

		switch action {
		case merkletrie.Insert:
			cs.Added = append(cs.Added, indexing.FileChange{
				Path:        change.To.Name,
				ContentHash: change.To.TreeEntry.Hash.String(),
			})
		case merkletrie.Delete:
			cs.Removed = append(cs.Removed, change.From.Name)
		case merkletrie.Modify:
			// blob ハッシュが同一なら内容は変わっていない（誤検知をスキップ）
			if change.From.TreeEntry.Hash == change.To.TreeEntry.Hash {
				continue
			}
			cs.Modified = append(cs.Modified, indexing.FileChange{
				Path:        change.To.Name,
				ContentHash: change.To.TreeEntry.Hash.String(),
			})
		}
	}

	return cs, nil
}

// HasCommit はコミットがローカルクローンに存在するかを返す
func (c *Client) HasCommit(repoPath, commit string) bool {
	repo, err := gogit.PlainOpen(repoPath)
	if err != nil {
		return false
	}
	_, err = repo.CommitObject(plumbing.NewHash(commit))
	return err == nil
}

// ReadFileAt は指定コミット時点のファイル内容を読み込む
func (c *Client) ReadFileAt(repoPath, commit, path string) ([]byte, error) {
	tree, err := c.treeAt(repoPath, commit)
	if err != nil {
		return nil, err
	}

	file, err := tree.File(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %w", path, err)
	}

	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

func (c *Client) treeAt(repoPath, commit string) (*object.Tree, error) {
	repo, err := gogit.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	commitObj, err := repo.CommitObject(plumbing.NewHash(commit))
	if err != nil {
		return nil, fmt.Errorf("failed to get commit %s: %w", commit, err)
	}

	tree, err := commitObj.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}

	return tree, nil
}

// authMethod は RepositoryRef の認証情報から transport.AuthMethod を組み立てる
// HTTPS は Username + トークン（PAT）、SSH は鍵ファイルを使う
func (c *Client) authMethod(ref indexing.RepositoryRef) (transport.AuthMethod, error) {
	cred := ref.Credential
	if cred == nil {
		return nil, nil
	}

	if strings.HasPrefix(ref.URL, "http://") || strings.HasPrefix(ref.URL, "https://") {
		if cred.Token == "" {
			return nil, nil
		}
		username := cred.Username
		if username == "" {
			// トークン認証では任意のユーザー名で通るホストが多い
			username = "git"
		}
		return &githttp.BasicAuth{
			Username: username,
			Password: cred.Token,
		}, nil
	}

	if cred.SSHKeyPath == "" {
		return nil, nil
	}
	if _, err := os.Stat(cred.SSHKeyPath); os.IsNotExist(err) {
		return nil, nil
	}
	auth, err := gitssh.NewPublicKeysFromFile("git", cred.SSHKeyPath, cred.SSHPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH key: %w", err)
	}
	return auth, nil
}

// mapTransportError はリモート操作のエラーをドメインエラーへ写像する
func mapTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, transport.ErrAuthenticationRequired) || errors.Is(err, transport.ErrAuthorizationFailed) {
		return fmt.Errorf("%w: %v", indexing.ErrAuthenticationFailed, err)
	}
	if errors.Is(err, transport.ErrRepositoryNotFound) {
		return fmt.Errorf("%w: %v", indexing.ErrSourceUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %v", indexing.ErrSourceUnavailable, indexing.ErrTransient, err)
	}
	return fmt.Errorf("%w: %v", indexing.ErrSourceUnavailable, err)
}
