package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty")
	t.Setenv("TEST_BOOL", "false")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_LIST", " a, b ,,c ")

	assert.Equal(t, 42, GetIntEnv("TEST_INT", 1))
	assert.Equal(t, 1, GetIntEnv("TEST_BAD_INT", 1))
	assert.False(t, GetBoolEnv("TEST_BOOL", true))
	assert.Equal(t, 90*time.Second, GetDurationEnv("TEST_DURATION", time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, GetStringSliceEnv("TEST_LIST", nil))
	assert.Equal(t, "fallback", GetEnv("TEST_UNSET_KEY", "fallback"))
}

func TestLoadServiceConfig(t *testing.T) {
	t.Run("memory driver needs no database", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", StorageMemory)
		t.Setenv("MONGO_URI", "")
		t.Setenv("ENVIRONMENT", "development")

		cfg, err := LoadServiceConfig("test")
		require.NoError(t, err)
		assert.Equal(t, DefaultHTTPPort, cfg.HTTP.Port)
		assert.NotEmpty(t, cfg.Security.JWTSecret)
		assert.Equal(t, PushWebsocket, cfg.Push.Transport)
	})

	t.Run("mongo driver requires a URI", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", StorageMongo)
		t.Setenv("MONGO_URI", "")

		_, err := LoadServiceConfig("test")
		assert.Error(t, err)
	})

	t.Run("production requires a JWT secret", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", StorageMemory)
		t.Setenv("ENVIRONMENT", "production")
		t.Setenv("JWT_SECRET", "")

		_, err := LoadServiceConfig("test")
		assert.Error(t, err)
	})

	t.Run("unknown push transport", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", StorageMemory)
		t.Setenv("PUSH_TRANSPORT", "carrier-pigeon")

		_, err := LoadServiceConfig("test")
		assert.Error(t, err)
	})
}
