package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBotID = "7f3c2e1a-9d4b-4c5e-8f6a-1b2c3d4e5f60"

func TestNormalizeTTL(t *testing.T) {
	assert.Equal(t, DefaultTTL, NormalizeTTL(0))
	assert.Equal(t, DefaultTTL, NormalizeTTL(-5))
	assert.Equal(t, MinTTL, NormalizeTTL(30))
	assert.Equal(t, 2*time.Hour, NormalizeTTL(7200))
}

func TestStoreLoadAbsent(t *testing.T) {
	store := NewStore(getRedis(t))

	st, err := store.Load(context.Background(), testBotID, 100)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestStoreSaveLoadDelete(t *testing.T) {
	store := NewStore(getRedis(t))
	ctx := context.Background()

	st := New("/order")
	st.Vars["service"] = "massage"
	require.NoError(t, store.Save(ctx, testBotID, 100, st, time.Minute))
	assert.Equal(t, int64(1), st.Rev)

	loaded, err := store.Load(ctx, testBotID, 100)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, FormatV1, loaded.Format)
	assert.Equal(t, "/order", loaded.Cmd)
	assert.Equal(t, 0, loaded.Step)
	assert.Equal(t, "massage", loaded.Vars["service"])
	assert.Equal(t, int64(1), loaded.Rev)

	loaded.Step = 1
	loaded.Vars["slot"] = "2024-01-15 14:00"
	require.NoError(t, store.Save(ctx, testBotID, 100, loaded, time.Minute))
	assert.Equal(t, int64(2), loaded.Rev)

	require.NoError(t, store.Delete(ctx, testBotID, 100))
	gone, err := store.Load(ctx, testBotID, 100)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestStoreTenantIsolation(t *testing.T) {
	store := NewStore(getRedis(t))
	ctx := context.Background()

	a := New("/order")
	a.Vars["service"] = "spa"
	require.NoError(t, store.Save(ctx, testBotID, 100, a, time.Minute))

	other, err := store.Load(ctx, "00000000-0000-0000-0000-000000000001", 100)
	require.NoError(t, err)
	assert.Nil(t, other)

	otherUser, err := store.Load(ctx, testBotID, 200)
	require.NoError(t, err)
	assert.Nil(t, otherUser)
}

func TestStoreConcurrentSaveSingleWinner(t *testing.T) {
	store := NewStore(getRedis(t))
	ctx := context.Background()

	st := New("/order")
	require.NoError(t, store.Save(ctx, testBotID, 100, st, time.Minute))

	first, err := store.Load(ctx, testBotID, 100)
	require.NoError(t, err)
	second, err := store.Load(ctx, testBotID, 100)
	require.NoError(t, err)

	first.Step = 1
	require.NoError(t, store.Save(ctx, testBotID, 100, first, time.Minute))

	second.Step = 1
	err = store.Save(ctx, testBotID, 100, second, time.Minute)
	assert.ErrorIs(t, err, ErrConflict)

	// The loser observes the winner's record.
	current, err := store.Load(ctx, testBotID, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, current.Step)
	assert.Equal(t, first.Rev, current.Rev)
}

func TestStoreFreshSaveLosesToExisting(t *testing.T) {
	store := NewStore(getRedis(t))
	ctx := context.Background()

	st := New("/order")
	require.NoError(t, store.Save(ctx, testBotID, 100, st, time.Minute))

	stale := New("/order")
	err := store.Save(ctx, testBotID, 100, stale, time.Minute)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestStoreCorruptRecordDiscarded(t *testing.T) {
	rdb := getRedis(t)
	store := NewStore(rdb)
	ctx := context.Background()

	key := Key(testBotID, 100)
	require.NoError(t, rdb.Set(ctx, key, "{not json", time.Minute).Err())

	_, err := store.Load(ctx, testBotID, 100)
	assert.ErrorIs(t, err, ErrCorrupt)

	// Key is gone; the next load starts fresh.
	exists, err := rdb.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)

	st, err := store.Load(ctx, testBotID, 100)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestStoreUnknownFormatDiscarded(t *testing.T) {
	rdb := getRedis(t)
	store := NewStore(rdb)
	ctx := context.Background()

	require.NoError(t, rdb.Set(ctx, Key(testBotID, 100), `{"step": 2}`, time.Minute).Err())

	_, err := store.Load(ctx, testBotID, 100)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStoreLegacyRecordUpgraded(t *testing.T) {
	rdb := getRedis(t)
	store := NewStore(rdb)
	ctx := context.Background()

	legacy := `{"flow": "booking", "step": 2, "vars": {"service": "spa"}}`
	require.NoError(t, rdb.Set(ctx, Key(testBotID, 100), legacy, time.Minute).Err())

	st, err := store.Load(ctx, testBotID, 100)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, FormatV1, st.Format)
	assert.Equal(t, "booking", st.Cmd)
	assert.Equal(t, 2, st.Step)
	assert.Equal(t, "spa", st.Vars["service"])
	assert.Equal(t, int64(0), st.Rev)

	// Saving writes the upgraded record.
	require.NoError(t, store.Save(ctx, testBotID, 100, st, time.Minute))
	reloaded, err := store.Load(ctx, testBotID, 100)
	require.NoError(t, err)
	assert.Equal(t, FormatV1, reloaded.Format)
	assert.Empty(t, reloaded.Flow)
	assert.Equal(t, int64(1), reloaded.Rev)
}

func TestStoreTTLApplied(t *testing.T) {
	rdb := getRedis(t)
	store := NewStore(rdb)
	ctx := context.Background()

	st := New("/order")
	require.NoError(t, store.Save(ctx, testBotID, 100, st, MinTTL))

	ttl, err := rdb.TTL(ctx, Key(testBotID, 100)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, MinTTL)
}
