// Package redistest starts an in-process redis for tests of packages that depend on pkg/redis.
package redistest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/esim-gateway/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const Prefix = "esim:"

func New(t testing.TB) (*miniredis.Miniredis, redis.RedisAdapter) {
	t.Helper()
	mr := miniredis.RunT(t)

	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), Prefix, &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Client().Close() })
	return mr, adapter
}
