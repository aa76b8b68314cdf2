package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/terminalpay-backend/pkg/instance"
)

type recordingStore struct {
	values  map[string]any
	ttls    map[string]time.Duration
	setErr  error
	deleted []string
}

func newRecordingStore() *recordingStore {
	return &recordingStore{values: map[string]any{}, ttls: map[string]time.Duration{}}
}

func (r *recordingStore) Get(context.Context, string) (string, error) { return "", nil }

func (r *recordingStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if r.setErr != nil {
		return false, r.setErr
	}
	if _, ok := r.values[key]; ok {
		return false, nil
	}
	r.values[key] = value
	r.ttls[key] = ttl
	return true, nil
}

func (r *recordingStore) IdempotencyKey(scope, id string) string {
	return "tp:idempotency:" + scope + ":" + id
}

func (r *recordingStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(r.values, key)
		r.deleted = append(r.deleted, key)
	}
	return nil
}

const outcomeKey = "tp:idempotency:msg:payment-outcomes:4242"

func TestClaimOnlyOnce(t *testing.T) {
	t.Setenv(instance.EnvInstanceID, "worker-1")
	store := newRecordingStore()
	guard, err := NewGuard(store, "payment-outcomes", 24*time.Hour)
	require.NoError(t, err)
	guard.now = func() time.Time { return time.Unix(1700000000, 0) }

	claimed, err := guard.Claim(context.Background(), "4242")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "worker-1@1700000000", store.values[outcomeKey])
	assert.Equal(t, 24*time.Hour, store.ttls[outcomeKey])

	claimed, err = guard.Claim(context.Background(), " 4242 ")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestForgetAllowsReclaim(t *testing.T) {
	store := newRecordingStore()
	guard, err := NewGuard(store, "payment-outcomes", time.Hour)
	require.NoError(t, err)

	_, err = guard.Claim(context.Background(), "4242")
	require.NoError(t, err)
	require.NoError(t, guard.Forget(context.Background(), "4242"))
	assert.Equal(t, []string{outcomeKey}, store.deleted)

	claimed, err := guard.Claim(context.Background(), "4242")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestClaimErrors(t *testing.T) {
	store := newRecordingStore()
	store.setErr = errors.New("redis down")
	guard, err := NewGuard(store, "payment-outcomes", time.Hour)
	require.NoError(t, err)

	_, err = guard.Claim(context.Background(), "4242")
	assert.ErrorContains(t, err, "redis down")
	_, err = guard.Claim(context.Background(), " ")
	assert.Error(t, err)
	assert.Error(t, guard.Forget(context.Background(), ""))
}

func TestNewGuardValidation(t *testing.T) {
	_, err := NewGuard(nil, "payment-outcomes", time.Hour)
	assert.Error(t, err)
	_, err = NewGuard(newRecordingStore(), " ", time.Hour)
	assert.Error(t, err)
	_, err = NewGuard(newRecordingStore(), "payment-outcomes", -time.Second)
	assert.Error(t, err)
}
