package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	err := store.Create(ctx, &Record{JobID: "job-1", Filename: "a.pdf"})
	require.NoError(t, err)

	record, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, record.Status)

	claimed, err := store.Claim(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, claimed.Status)

	require.NoError(t, store.MarkSucceeded(ctx, "job-1"))

	record, err = store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, record.Status)
	assert.NotNil(t, record.CompletedAt)
	assert.True(t, record.Status.Terminal())
}

func TestMemoryStoreCreateConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	require.NoError(t, store.Create(ctx, &Record{JobID: "job-1"}))
	err := store.Create(ctx, &Record{JobID: "job-1"})
	assert.ErrorIs(t, err, ErrConflictingJob)
}

func TestMemoryStoreGetUnknown(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	_, err := store.Get(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreClaimExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	require.NoError(t, store.Create(ctx, &Record{JobID: "job-1"}))

	const workers = 16
	var wg sync.WaitGroup
	successes := make(chan struct{}, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Claim(ctx, "job-1"); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	assert.Equal(t, 1, count, "exactly one claim must succeed")
}

func TestMemoryStoreInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	require.NoError(t, store.Create(ctx, &Record{JobID: "job-1"}))

	// queued のままの完了要求は拒否される
	err := store.MarkSucceeded(ctx, "job-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	err = store.MarkFailed(ctx, "job-1", &ErrorInfo{Code: "X", Message: "x"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = store.Claim(ctx, "job-1")
	require.NoError(t, err)

	// 二重 claim は拒否される
	_, err = store.Claim(ctx, "job-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, store.MarkFailed(ctx, "job-1", &ErrorInfo{Code: "X", Message: "x"}))

	// 終端状態からは戻れない
	_, err = store.Claim(ctx, "job-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	err = store.MarkSucceeded(ctx, "job-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMemoryStoreUpdateProgressIgnoredAfterTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	require.NoError(t, store.Create(ctx, &Record{JobID: "job-1"}))
	_, err := store.Claim(ctx, "job-1")
	require.NoError(t, err)
	require.NoError(t, store.MarkSucceeded(ctx, "job-1"))

	// 終端後の進捗更新は無視され、状態は変わらない
	require.NoError(t, store.UpdateProgress(ctx, "job-1", ProgressInfo{Percent: 10, Stage: "late"}))
	record, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, record.Status)
	assert.Equal(t, 100, record.Progress.Percent)
}

func TestMemoryStoreFailStale(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	current := time.Now()
	store.SetClock(func() time.Time { return current })

	require.NoError(t, store.Create(ctx, &Record{JobID: "stuck"}))
	require.NoError(t, store.Create(ctx, &Record{JobID: "fresh"}))
	_, err := store.Claim(ctx, "stuck")
	require.NoError(t, err)

	current = current.Add(10 * time.Minute)
	_, err = store.Claim(ctx, "fresh")
	require.NoError(t, err)

	count, err := store.FailStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	record, err := store.Get(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, record.Status)
	require.NotNil(t, record.Error)
	assert.Equal(t, "CONVERSION_TIMEOUT", record.Error.Code)

	record, err = store.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, record.Status)
}

func TestMemoryStoreRecordExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)

	current := time.Now()
	store.SetClock(func() time.Time { return current })

	require.NoError(t, store.Create(ctx, &Record{JobID: "job-1"}))

	current = current.Add(2 * time.Minute)
	_, err := store.Get(ctx, "job-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
