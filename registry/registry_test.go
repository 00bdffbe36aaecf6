package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b00t-dev/acs/envelope"
)

func TestSocketDiscoveryViaInitialScan(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "worker-1.sock"), nil, 0o644))

	r := New("captain", WithDir(dir))
	require.NoError(t, r.StartWatching())
	defer r.Close()

	select {
	case ev := <-r.Events():
		assert.Equal(t, EventDiscovered, ev.Kind)
		assert.Equal(t, "worker-1", ev.Endpoint.AgentID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for discovered event")
	}

	agents := r.DiscoverAgents()
	require.Len(t, agents, 1)
	assert.Equal(t, "worker-1", agents[0].AgentID)
}

func TestSelfExcludedFromDiscovery(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "captain.sock"), nil, 0o644))

	r := New("captain", WithDir(dir))
	require.NoError(t, r.StartWatching())
	defer r.Close()

	assert.Empty(t, r.DiscoverAgents())
}

func TestPresenceIdempotence(t *testing.T) {
	r := New("captain")
	base := time.Now().UTC().Unix()

	for i := 0; i < 5; i++ {
		r.ApplyPresence(envelope.AgentMetadata{AgentID: "worker-1", Status: envelope.StatusOnline}, base+int64(i))
	}

	meta, ok := r.PresenceMetadata("worker-1")
	require.True(t, ok)
	assert.Equal(t, base+4, meta.LastSeen)

	agents := r.DiscoverAgents()
	require.Len(t, agents, 1)
}

func TestPruneEmitsLostExactlyOnce(t *testing.T) {
	r := New("captain", WithPruneAges(time.Millisecond, time.Millisecond))
	r.ApplyPresence(envelope.AgentMetadata{AgentID: "worker-1"}, time.Now().UTC().Unix()-3600)

	r.Prune()
	r.Prune() // second prune must not re-emit Lost for the same entry

	lostCount := 0
drain:
	for {
		select {
		case ev := <-r.Events():
			if ev.Kind == EventLost {
				lostCount++
			}
		default:
			break drain
		}
	}
	assert.Equal(t, 1, lostCount)
}
