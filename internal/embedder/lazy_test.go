package embedder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_InitializesOnce(t *testing.T) {
	var calls atomic.Int32
	svc := NewService(func() (Embedder, error) {
		calls.Add(1)
		return NewLocalProvider(nil)
	})

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			emb, err := svc.Get(ctx)
			assert.NoError(t, err)
			assert.NotNil(t, emb)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestService_FailureThenRetry(t *testing.T) {
	boom := errors.New("model load failed")
	var calls atomic.Int32
	svc := NewService(func() (Embedder, error) {
		if calls.Add(1) == 1 {
			return nil, boom
		}
		return NewLocalProvider(nil)
	})

	ctx := context.Background()

	_, err := svc.Get(ctx)
	require.ErrorIs(t, err, boom)

	// The failed attempt leaves the handle empty; the next call retries.
	emb, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.NotNil(t, emb)
	assert.Equal(t, int32(2), calls.Load())
}

func TestService_CloseResets(t *testing.T) {
	var calls atomic.Int32
	svc := NewService(func() (Embedder, error) {
		calls.Add(1)
		return NewLocalProvider(nil)
	})

	ctx := context.Background()
	_, err := svc.Get(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	_, err = svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestService_ContextCancelled(t *testing.T) {
	svc := NewService(func() (Embedder, error) {
		return NewLocalProvider(nil)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Get(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
