package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/interfaces"
)

func TestKVStorage_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	kv := NewKVStorage(newTestDB(t), arbor.NewLogger())

	_, err := kv.Get(ctx, "cancel_job_1")
	assert.True(t, errors.Is(err, interfaces.ErrKeyNotFound))

	require.NoError(t, kv.Set(ctx, "cancel_job_1", "Canceled", 48*time.Hour))
	value, err := kv.Get(ctx, "cancel_job_1")
	require.NoError(t, err)
	assert.Equal(t, "Canceled", value)

	// Idempotent overwrite
	require.NoError(t, kv.Set(ctx, "cancel_job_1", "Canceled", 48*time.Hour))

	require.NoError(t, kv.Delete(ctx, "cancel_job_1"))
	require.NoError(t, kv.Delete(ctx, "cancel_job_1"), "deleting a missing key is not an error")

	_, err = kv.Get(ctx, "cancel_job_1")
	assert.True(t, errors.Is(err, interfaces.ErrKeyNotFound))
}

func TestKVStorage_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	kv := NewKVStorage(newTestDB(t), arbor.NewLogger())

	// Badger TTL has one second granularity
	require.NoError(t, kv.Set(ctx, "short", "v", time.Second))
	require.NoError(t, kv.Set(ctx, "forever", "v", 0))

	require.Eventually(t, func() bool {
		_, err := kv.Get(ctx, "short")
		return errors.Is(err, interfaces.ErrKeyNotFound)
	}, 5*time.Second, 100*time.Millisecond)

	value, err := kv.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, "v", value)
}

func TestKVStorage_ListByPrefix(t *testing.T) {
	ctx := context.Background()
	kv := NewKVStorage(newTestDB(t), arbor.NewLogger())

	require.NoError(t, kv.Set(ctx, "cancel_job_a", "Canceled", time.Hour))
	require.NoError(t, kv.Set(ctx, "cancel_job_b", "Canceled", time.Hour))
	require.NoError(t, kv.Set(ctx, "other", "x", time.Hour))

	entries, err := kv.ListByPrefix(ctx, "cancel_job_")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"cancel_job_a": "Canceled", "cancel_job_b": "Canceled"}, entries)
}
