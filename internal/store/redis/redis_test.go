package redis

import (
	"context"
	"log"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/demostore/storegate/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	rStore *Redis
	rdis   *miniredis.Miniredis
)

func init() {
	rd, err := miniredis.Run()
	if err != nil {
		log.Println(err)
	}
	rdis = rd

	port, _ := strconv.Atoi(rd.Port())
	rStore = New(Conf{
		Host: rd.Host(),
		Port: port,
	})
}

func setup(t *testing.T) *Redis {
	rdis.FlushDB()
	t.Cleanup(func() {
		rdis.FlushDB()
	})
	return rStore
}

func TestStoreSetGet(t *testing.T) {
	rStore := setup(t)
	ctx := context.Background()

	err := rStore.Set(ctx, "otp:01700000001", []byte(`{"code":"123456"}`), 5*time.Minute)
	require.NoError(t, err, "Error setting value")

	out, err := rStore.Get(ctx, "otp:01700000001")
	assert.NoError(t, err, "Error getting value")
	assert.Equal(t, []byte(`{"code":"123456"}`), out, "Returned value doesn't match")
}

func TestStoreGetAbsent(t *testing.T) {
	rStore := setup(t)

	_, err := rStore.Get(context.Background(), "otp:nosuchphone")
	assert.Equal(t, store.ErrNotExist, err, "Absent key should return ErrNotExist")
}

func TestStoreTTL(t *testing.T) {
	rStore := setup(t)
	ctx := context.Background()

	err := rStore.Set(ctx, "reset:token:abc", []byte("01700000001"), 15*time.Minute)
	require.NoError(t, err, "Error setting value")

	ttl, err := rStore.TTL(ctx, "reset:token:abc")
	assert.NoError(t, err, "Error reading TTL")
	assert.Equal(t, 15*time.Minute, ttl, "Returned TTL doesn't match")
}

func TestStoreTTLAbsent(t *testing.T) {
	rStore := setup(t)

	_, err := rStore.TTL(context.Background(), "otp:nosuchphone")
	assert.Equal(t, store.ErrNotExist, err, "TTL on absent key should return ErrNotExist")
}

func TestStoreTTLNoExpiry(t *testing.T) {
	rStore := setup(t)
	ctx := context.Background()

	err := rStore.Set(ctx, "otp:01700000001", []byte("x"), 0)
	require.NoError(t, err, "Error setting value")

	ttl, err := rStore.TTL(ctx, "otp:01700000001")
	assert.NoError(t, err, "Error reading TTL")
	assert.Equal(t, time.Duration(0), ttl, "Key without expiry should report zero TTL")
}

func TestStoreExpiry(t *testing.T) {
	rStore := setup(t)
	ctx := context.Background()

	err := rStore.Set(ctx, "otp:01700000001", []byte("x"), 2*time.Second)
	require.NoError(t, err, "Error setting value")

	rdis.FastForward(3 * time.Second)

	_, err = rStore.Get(ctx, "otp:01700000001")
	assert.Equal(t, store.ErrNotExist, err, "Expired key should be absent")
}

func TestStoreDelete(t *testing.T) {
	rStore := setup(t)
	ctx := context.Background()

	err := rStore.Set(ctx, "otp:01700000001", []byte("x"), time.Minute)
	require.NoError(t, err, "Error setting value")

	err = rStore.Delete(ctx, "otp:01700000001")
	assert.NoError(t, err, "Error deleting key")

	_, err = rStore.Get(ctx, "otp:01700000001")
	assert.Equal(t, store.ErrNotExist, err, "Key should not exist but it does")

	// Deleting an absent key is not an error.
	err = rStore.Delete(ctx, "otp:01700000001")
	assert.NoError(t, err, "Deleting absent key errored")
}
