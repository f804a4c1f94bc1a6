package factory

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"wallet-auth-service/internal/client"
	"wallet-auth-service/internal/config"
)

func TestInitializeComponentsRequiresRedis(t *testing.T) {
	f := &Factory{config: config.LoadConfig()}

	err := f.initializeComponents()
	require.Error(t, err)
	require.Contains(t, err.Error(), "redis client is required")
}

func TestInitializeComponentsRequiresScylla(t *testing.T) {
	mr := miniredis.RunT(t)
	f := &Factory{
		config:      config.LoadConfig(),
		redisClient: client.NewRedisClientFromAddr(mr.Addr()),
	}

	err := f.initializeComponents()
	require.Error(t, err)
	require.Contains(t, err.Error(), "scylla client is required")
}
