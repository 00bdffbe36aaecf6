package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNatsSubjectNaming(t *testing.T) {
	assert.Equal(t, "b00t.agents.presence.agent-1", natsSubject(ChannelAgentsPresence, "agent-1"))
	assert.Equal(t, "b00t.job", natsSubject(ChannelJob, ""))
}

func TestMqttTopicNaming(t *testing.T) {
	assert.Equal(t, "b00t/agents/presence/agent-1", mqttTopic(ChannelAgentsPresence, "agent-1"))
	assert.Equal(t, "b00t/job", mqttTopic(ChannelJob, ""))
}

func TestAgentInbox(t *testing.T) {
	assert.Equal(t, "b00t:agent:worker-1", AgentInbox("worker-1"))
}

func TestFallbackOrder(t *testing.T) {
	assert.Equal(t, []Kind{KindUnixSocket, KindRedis, KindNATS, KindMQTT}, FallbackOrder)
}
