package git

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aqchat/internal/core/indexing"
)

// fixtureRepo はテスト用のローカルリポジトリを生成するヘルパー
type fixtureRepo struct {
	t    *testing.T
	path string
	repo *gogit.Repository
}

func newFixtureRepo(t *testing.T) *fixtureRepo {
	t.Helper()

	path := t.TempDir()
	repo, err := gogit.PlainInit(path, false)
	require.NoError(t, err)

	return &fixtureRepo{t: t, path: path, repo: repo}
}

func (f *fixtureRepo) url() string {
	return "file://" + f.path
}

func (f *fixtureRepo) writeFile(name, content string) {
	f.t.Helper()

	full := filepath.Join(f.path, name)
	require.NoError(f.t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(f.t, os.WriteFile(full, []byte(content), 0o644))

	wt, err := f.repo.Worktree()
	require.NoError(f.t, err)
	_, err = wt.Add(name)
	require.NoError(f.t, err)
}

func (f *fixtureRepo) removeFile(name string) {
	f.t.Helper()

	wt, err := f.repo.Worktree()
	require.NoError(f.t, err)
	_, err = wt.Remove(name)
	require.NoError(f.t, err)
}

func (f *fixtureRepo) commit(msg string) string {
	f.t.Helper()

	wt, err := f.repo.Worktree()
	require.NoError(f.t, err)

	hash, err := wt.Commit(msg, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  "tester",
			Email: "tester@example.com",
			When:  time.Now(),
		},
	})
	require.NoError(f.t, err)

	return hash.String()
}

func changedPaths(changes []indexing.FileChange) []string {
	paths := make([]string, 0, len(changes))
	for _, fc := range changes {
		paths = append(paths, fc.Path)
	}
	return paths
}

func TestClient_DiffCommits(t *testing.T) {
	fixture := newFixtureRepo(t)
	fixture.writeFile("a.txt", "alpha\n")
	fixture.writeFile("b.txt", "beta\n")
	first := fixture.commit("first")

	fixture.writeFile("a.txt", "alpha v2\n")
	fixture.removeFile("b.txt")
	fixture.writeFile("sub/c.txt", "gamma\n")
	second := fixture.commit("second")

	client := NewClient(t.TempDir())

	diff, err := client.DiffCommits(fixture.path, first, second)
	require.NoError(t, err)

	assert.Equal(t, second, diff.NewCommit)
	assert.False(t, diff.Full)
	assert.Equal(t, []string{"sub/c.txt"}, changedPaths(diff.Added))
	assert.Equal(t, []string{"a.txt"}, changedPaths(diff.Modified))
	assert.Equal(t, []string{"b.txt"}, diff.Removed)
}

func TestClient_ListTreeAndReadFileAt(t *testing.T) {
	fixture := newFixtureRepo(t)
	fixture.writeFile("main.go", "package main\n")
	fixture.writeFile("docs/readme.md", "# readme\n")
	commit := fixture.commit("initial")

	client := NewClient(t.TempDir())

	files, err := client.ListTree(fixture.path, commit)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"main.go", "docs/readme.md"}, changedPaths(files))
	for _, fc := range files {
		assert.NotEmpty(t, fc.ContentHash)
	}

	content, err := client.ReadFileAt(fixture.path, commit, "main.go")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(content))

	_, err = client.ReadFileAt(fixture.path, commit, "missing.go")
	assert.Error(t, err)
}

func TestClient_HasCommit(t *testing.T) {
	fixture := newFixtureRepo(t)
	fixture.writeFile("a.txt", "alpha\n")
	commit := fixture.commit("first")

	client := NewClient(t.TempDir())

	assert.True(t, client.HasCommit(fixture.path, commit))
	assert.False(t, client.HasCommit(fixture.path, "0000000000000000000000000000000000000000"))
}

func TestSource_Diff_InitialSyncListsFullTree(t *testing.T) {
	fixture := newFixtureRepo(t)
	fixture.writeFile("main.go", "package main\n")
	fixture.writeFile(".aqchatignore", "ignored/\n")
	fixture.writeFile("ignored/tmp.txt", "scratch\n")
	commit := fixture.commit("initial")

	source := NewSource(NewClient(t.TempDir()))
	ref := indexing.RepositoryRef{URL: fixture.url(), Branch: "master"}

	diff, err := source.Diff(t.Context(), ref, mo.None[string]())
	require.NoError(t, err)

	assert.Equal(t, commit, diff.NewCommit)
	assert.True(t, diff.Full)
	assert.ElementsMatch(t, []string{"main.go", ".aqchatignore"}, changedPaths(diff.Added))
	assert.Empty(t, diff.Modified)
	assert.Empty(t, diff.Removed)
}

func TestSource_Diff_NoChangeReturnsEmptySet(t *testing.T) {
	fixture := newFixtureRepo(t)
	fixture.writeFile("main.go", "package main\n")
	commit := fixture.commit("initial")

	source := NewSource(NewClient(t.TempDir()))
	ref := indexing.RepositoryRef{URL: fixture.url(), Branch: "master"}

	diff, err := source.Diff(t.Context(), ref, mo.Some(commit))
	require.NoError(t, err)

	assert.Equal(t, commit, diff.NewCommit)
	assert.True(t, diff.Empty())
}

func TestSource_Diff_IncrementalChanges(t *testing.T) {
	fixture := newFixtureRepo(t)
	fixture.writeFile("a.txt", "alpha\n")
	fixture.writeFile("b.txt", "beta\n")
	first := fixture.commit("first")

	source := NewSource(NewClient(t.TempDir()))
	ref := indexing.RepositoryRef{URL: fixture.url(), Branch: "master"}

	// 初回同期でクローンさせておく
	_, err := source.Diff(t.Context(), ref, mo.None[string]())
	require.NoError(t, err)

	fixture.writeFile("a.txt", "alpha v2\n")
	fixture.removeFile("b.txt")
	fixture.writeFile("c.txt", "gamma\n")
	second := fixture.commit("second")

	diff, err := source.Diff(t.Context(), ref, mo.Some(first))
	require.NoError(t, err)

	assert.Equal(t, second, diff.NewCommit)
	assert.False(t, diff.Full)
	assert.Equal(t, []string{"c.txt"}, changedPaths(diff.Added))
	assert.Equal(t, []string{"a.txt"}, changedPaths(diff.Modified))
	assert.Equal(t, []string{"b.txt"}, diff.Removed)
}

func TestSource_Diff_UnknownSinceFallsBackToFullTree(t *testing.T) {
	fixture := newFixtureRepo(t)
	fixture.writeFile("main.go", "package main\n")
	commit := fixture.commit("initial")

	source := NewSource(NewClient(t.TempDir()))
	ref := indexing.RepositoryRef{URL: fixture.url(), Branch: "master"}

	diff, err := source.Diff(t.Context(), ref, mo.Some("0000000000000000000000000000000000000000"))
	require.NoError(t, err)

	assert.Equal(t, commit, diff.NewCommit)
	assert.True(t, diff.Full)
	assert.Equal(t, []string{"main.go"}, changedPaths(diff.Added))
}
