package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadAppliesDefaultsWhenEnvUnset(t *testing.T) {
	t.Setenv("ACS_AGENT_ID", "")
	t.Setenv("ACS_SOCKET_DIR", "")
	t.Setenv("ACS_JOB_STATE_DIR", "")

	cfg := Load()
	assert.Equal(t, "acs-agent", cfg.AgentID)
	assert.Contains(t, cfg.SocketDir, ".b00t")
	assert.Contains(t, cfg.JobStateDir, ".b00t")
}

func TestLoadOptionsOverrideEnv(t *testing.T) {
	t.Setenv("ACS_AGENT_ID", "from-env")

	cfg := Load(WithAgentID("from-option"), WithNatsURL("nats://example:4222"))
	assert.Equal(t, "from-option", cfg.AgentID)
	assert.Equal(t, "nats://example:4222", cfg.NatsURL)
}

func TestLoadReadsTransportURLsFromEnv(t *testing.T) {
	t.Setenv("ACS_REDIS_URL", "redis://localhost:6379")
	t.Setenv("ACS_NATS_URL", "nats://localhost:4222")
	t.Setenv("ACS_MQTT_BROKER_URL", "tcp://localhost:1883")

	cfg := Load()
	assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
	assert.Equal(t, "nats://localhost:4222", cfg.NatsURL)
	assert.Equal(t, "tcp://localhost:1883", cfg.MqttBrokerURL)
}
