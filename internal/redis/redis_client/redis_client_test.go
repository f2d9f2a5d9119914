package redis_client

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	rc, err := NewRedisClient(mr.Host(), port, "s3cret", 2)
	require.NoError(t, err)
	defer rc.Close()

	require.NoError(t, rc.Set(context.Background(), "k", "v", 0).Err())
	v, err := mr.DB(2).Get("k")
	require.NoError(t, err)
	require.Equal(t, "v", v)
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	mr.Close()

	_, err = NewRedisClient(mr.Host(), port, "", 0)
	require.ErrorContains(t, err, "Redis connection failed")
}

func TestNewRedisClient_WrongPassword(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	_, err = NewRedisClient(mr.Host(), port, "nope", 0)
	require.Error(t, err)
}
