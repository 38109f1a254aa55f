package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseConfig_LoadFromEnv(t *testing.T) {
	c := DatabaseConfig{Host: "localhost", Port: 5432, SSLMode: "disable"}
	t.Setenv("DB_HOST", "pg")
	t.Setenv("DB_PORT", "not-a-port")
	t.Setenv("DB_NAME", "tracker")
	c.LoadFromEnv("DB")

	assert.Equal(t, "pg", c.Host)
	assert.Equal(t, 5432, c.Port, "bad value keeps the default")
	assert.Equal(t, "host=pg port=5432 user= password= dbname=tracker sslmode=disable", c.GetDSN())
}

func TestRedisAndMQTT_LoadFromEnv(t *testing.T) {
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_TIMEOUT", "5s")
	t.Setenv("MQTT_ENABLED", "true")
	t.Setenv("MQTT_TOPIC", "tracker")

	var r RedisConfig
	r.LoadFromEnv("REDIS")
	assert.Equal(t, 3, r.DB)
	assert.Equal(t, 5*time.Second, r.Timeout)

	var m MQTTConfig
	m.LoadFromEnv("MQTT")
	assert.True(t, m.Enabled)
	assert.Equal(t, "tracker", m.Topic)
}

func TestLoadYAML(t *testing.T) {
	var out struct {
		Redis RedisConfig `yaml:"redis"`
	}
	require.NoError(t, LoadYAML("", &out))
	require.NoError(t, LoadYAML(filepath.Join(t.TempDir(), "missing.yaml"), &out))

	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis:\n  addr: cache:6379\n  timeout: 3s\n"), 0o644))
	require.NoError(t, LoadYAML(path, &out))
	assert.Equal(t, "cache:6379", out.Redis.Addr)
	assert.Equal(t, 3*time.Second, out.Redis.Timeout)
}

func TestParseHelpers(t *testing.T) {
	assert.Equal(t, 7, ParseInt("x", 7))
	assert.Equal(t, 42, ParseInt("42", 7))
	assert.Equal(t, time.Minute, ParseDuration("", time.Minute))
	assert.Equal(t, 100*time.Millisecond, ParseDuration("100ms", time.Minute))
	t.Setenv("SOME_KEY", "v")
	assert.Equal(t, "v", GetEnv("SOME_KEY", "d"))
	assert.Equal(t, "d", GetEnv("UNSET_KEY_FOR_TEST", "d"))
}
