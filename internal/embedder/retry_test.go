package embedder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchWithRetryRecovers(t *testing.T) {
	calls := 0
	vectors, err := fetchWithRetry(context.Background(), func() ([][]float32, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return [][]float32{{1}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, vectors, 1)
}

func TestFetchWithRetryExhaustsBudget(t *testing.T) {
	calls := 0
	wantErr := errors.New("down")
	_, err := fetchWithRetry(context.Background(), func() ([][]float32, error) {
		calls++
		return nil, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, apiAttempts, calls)
}

func TestFetchWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := fetchWithRetry(ctx, func() ([][]float32, error) {
		calls++
		return nil, errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
