package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aqchat/internal/core/indexing"
)

func TestNewEmbedderOptionsOverrideDefaults(t *testing.T) {
	embedder, err := NewEmbedder("dummy-key",
		WithEmbeddingModel("custom-model"),
		WithEmbeddingDimension(42),
	)
	require.NoError(t, err)

	assert.Equal(t, "custom-model", embedder.ModelName())
	assert.Equal(t, 42, embedder.Dimension())
	assert.Equal(t, maxBatchSize, embedder.MaxBatchSize())
}

func TestNewEmbedderRejectsEmptyAPIKey(t *testing.T) {
	_, err := NewEmbedder("")
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}

func TestClassifyAPIError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{
			name:      "レート制限はリトライ可能",
			err:       &openai.Error{StatusCode: 429},
			retryable: true,
		},
		{
			name:      "サーバエラーはリトライ可能",
			err:       &openai.Error{StatusCode: 503},
			retryable: true,
		},
		{
			name:      "タイムアウトはリトライ可能",
			err:       context.DeadlineExceeded,
			retryable: true,
		},
		{
			name:      "認証エラーはリトライ不可",
			err:       &openai.Error{StatusCode: 401},
			retryable: false,
		},
		{
			name:      "不明なエラーはリトライ不可",
			err:       errors.New("connection refused"),
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifyAPIError(tt.err)
			assert.Equal(t, tt.retryable, indexing.IsRetryable(classified))
		})
	}
}
