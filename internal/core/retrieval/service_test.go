package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aqchat/internal/core/indexing"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

type fakeRepository struct {
	results   []*SearchResult
	err       error
	gotKey    string
	gotVector []float32
	gotLimit  int
}

func (f *fakeRepository) SearchChunks(ctx context.Context, repoKey string, queryVector []float32, limit int) ([]*SearchResult, error) {
	f.gotKey = repoKey
	f.gotVector = queryVector
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeStateReader struct {
	state mo.Option[*indexing.SyncState]
	err   error
}

func (f *fakeStateReader) GetSyncState(ctx context.Context, repoKey string) (mo.Option[*indexing.SyncState], error) {
	if f.err != nil {
		return mo.None[*indexing.SyncState](), f.err
	}
	return f.state, nil
}

func idleState(commit string) mo.Option[*indexing.SyncState] {
	return mo.Some(&indexing.SyncState{
		RepoKey:          "repo#main",
		LastSyncedCommit: mo.Some(commit),
		Status:           indexing.StatusIdle,
	})
}

func testParams() QueryParams {
	return QueryParams{
		Ref:   indexing.RepositoryRef{URL: "https://example.com/repo.git", Branch: "main"},
		Query: "how does sync work",
	}
}

func TestService_QueryReturnsResultsInStoreOrder(t *testing.T) {
	results := []*SearchResult{
		{Path: "a.go", Score: 0.9},
		{Path: "b.go", Score: 0.5},
	}
	repo := &fakeRepository{results: results}
	service := NewService(repo, &fakeEmbedder{vector: []float32{1, 0}}, &fakeStateReader{state: idleState("c1")})

	got, err := service.Query(t.Context(), testParams())
	require.NoError(t, err)

	assert.Equal(t, results, got.Results)
	assert.False(t, got.IndexStale)
	assert.Equal(t, testParams().Ref.Key(), repo.gotKey)
	assert.Equal(t, []float32{1, 0}, repo.gotVector)
	assert.Equal(t, DefaultLimit, repo.gotLimit)
}

func TestService_QueryRejectsEmptyQuery(t *testing.T) {
	service := NewService(&fakeRepository{}, &fakeEmbedder{}, &fakeStateReader{})

	params := testParams()
	params.Query = ""
	_, err := service.Query(t.Context(), params)
	assert.Error(t, err)
}

func TestService_QueryHonorsLimit(t *testing.T) {
	repo := &fakeRepository{}
	service := NewService(repo, &fakeEmbedder{vector: []float32{1}}, &fakeStateReader{state: idleState("c1")})

	params := testParams()
	params.Limit = 3
	_, err := service.Query(t.Context(), params)
	require.NoError(t, err)
	assert.Equal(t, 3, repo.gotLimit)
}

func TestService_QueryEmbedFailure(t *testing.T) {
	service := NewService(&fakeRepository{}, &fakeEmbedder{err: errors.New("api down")}, &fakeStateReader{})

	_, err := service.Query(t.Context(), testParams())
	assert.Error(t, err)
}

func TestService_IndexStaleFlag(t *testing.T) {
	syncing := mo.Some(&indexing.SyncState{
		RepoKey:          "repo#main",
		LastSyncedCommit: mo.Some("c1"),
		Status:           indexing.StatusSyncing,
	})
	failed := mo.Some(&indexing.SyncState{
		RepoKey:          "repo#main",
		LastSyncedCommit: mo.Some("c1"),
		Status:           indexing.StatusFailed,
	})
	neverCompleted := mo.Some(&indexing.SyncState{
		RepoKey: "repo#main",
		Status:  indexing.StatusIdle,
	})

	tests := []struct {
		name  string
		state mo.Option[*indexing.SyncState]
		want  bool
	}{
		{name: "同期完了済みなら最新", state: idleState("c1"), want: false},
		{name: "状態がなければstale", state: mo.None[*indexing.SyncState](), want: true},
		{name: "同期中はstale", state: syncing, want: true},
		{name: "失敗状態はstale", state: failed, want: true},
		{name: "一度も完了していなければstale", state: neverCompleted, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := NewService(&fakeRepository{}, &fakeEmbedder{vector: []float32{1}}, &fakeStateReader{state: tt.state})

			got, err := service.Query(t.Context(), testParams())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.IndexStale)
		})
	}
}

func TestService_StateReadErrorStillReturnsResults(t *testing.T) {
	results := []*SearchResult{{Path: "a.go", Score: 0.9}}
	repo := &fakeRepository{results: results}
	states := &fakeStateReader{err: errors.New("db unavailable")}
	service := NewService(repo, &fakeEmbedder{vector: []float32{1}}, states)

	got, err := service.Query(t.Context(), testParams())
	require.NoError(t, err)

	// 状態が読めなくても結果は返り、安全側に倒して stale 扱いになる
	assert.Equal(t, results, got.Results)
	assert.True(t, got.IndexStale)
}
