package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, DriverMemory, cfg.StorageDriver)
	assert.Equal(t, DriverMemory, cfg.ChatStore)
	assert.Equal(t, FanoutLocal, cfg.FanoutDriver)
	assert.Equal(t, 2000, cfg.MessageMaxLength)
	assert.Equal(t, 5*time.Second, cfg.TypingTTL)
	assert.Equal(t, 30*time.Second, cfg.WSPingInterval)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}, cfg.RetryBackoff)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "mongo")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("CHAT_STORE", "scylla")
	t.Setenv("SCYLLA_HOSTS", "a:9042, b:9042 ,")
	t.Setenv("FANOUT_DRIVER", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("TYPING_TTL", "3s")
	t.Setenv("KAFKA_TOPIC_PREFIX", "mp")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"a:9042", "b:9042"}, cfg.ScyllaHosts)
	assert.Equal(t, 3*time.Second, cfg.TypingTTL)
	assert.Equal(t, "mp.chat.events", cfg.Topic("chat.events"))
}

func TestLoadRejectsIncompleteDrivers(t *testing.T) {
	cases := map[string]map[string]string{
		"mongo without uri":   {"STORAGE_DRIVER": "mongo"},
		"scylla without host": {"CHAT_STORE": "scylla"},
		"redis without addr":  {"FANOUT_DRIVER": "redis"},
		"kafka without peers": {"FANOUT_DRIVER": "kafka"},
		"unknown driver":      {"STORAGE_DRIVER": "sqlite"},
		"prod without secret": {"APP_ENV": "prod"},
		"bad duration":        {"TYPING_TTL": "soon"},
		"bad integer":         {"MESSAGE_MAX_LENGTH": "many"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
