// Package registry implements the presence & socket registry (C3):
// filesystem-watched discovery of agent Unix sockets, an in-memory presence
// map fed by Presence envelopes, liveness pruning, and a lifecycle event
// stream. Grounded on
// original_source/b00t-lib-chat/src/discovery.rs's SocketRegistry, adapted
// from the `notify` crate + tokio mpsc to fsnotify + a buffered Go channel.
package registry

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/b00t-dev/acs/envelope"
	"github.com/b00t-dev/acs/transport"
)

// AgentEventKind is the closed set of registry lifecycle events (spec §4.3).
type AgentEventKind string

const (
	EventDiscovered AgentEventKind = "discovered"
	EventUpdated    AgentEventKind = "updated"
	EventLost       AgentEventKind = "lost"
)

type AgentEvent struct {
	Kind     AgentEventKind
	Endpoint Endpoint
}

// Endpoint mirrors spec §3's socket registry record.
type Endpoint struct {
	AgentID       string
	URI           string
	TransportKind transport.Kind
	LastSeen      int64
	Metadata      map[string]string
}

const (
	defaultSocketPruneAge   = 10 * time.Minute
	defaultPresencePruneAge = 5 * time.Minute
)

// Registry maintains both registries described in spec §4.3: the
// filesystem-discovered socket map and the presence map fed by Presence
// envelopes over pub/sub. Both are guarded by a single RWMutex each (spec
// §5's "one read/write lock per registry" resource policy).
type Registry struct {
	watchDirs []string
	selfID    string

	socketMu  sync.RWMutex
	sockets   map[string]Endpoint

	presenceMu sync.RWMutex
	presence   map[string]envelope.AgentMetadata

	events  chan AgentEvent
	watcher *fsnotify.Watcher

	socketPruneAge   time.Duration
	presencePruneAge time.Duration

	log zerolog.Logger
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithSystemDir adds /tmp/b00t/agents as a watched directory, matching the
// original's SocketRegistryBuilder.with_system_dir.
func WithSystemDir() Option {
	return func(r *Registry) { r.watchDirs = append(r.watchDirs, "/tmp/b00t/agents") }
}

// WithUserDir adds $HOME/.b00t/agents, matching with_user_dir.
func WithUserDir() Option {
	return func(r *Registry) {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		r.watchDirs = append(r.watchDirs, filepath.Join(home, ".b00t", "agents"))
	}
}

// WithDir adds an arbitrary watched directory (used by tests).
func WithDir(dir string) Option {
	return func(r *Registry) { r.watchDirs = append(r.watchDirs, dir) }
}

// WithPruneAges overrides the default 10m/5m staleness thresholds.
func WithPruneAges(socketAge, presenceAge time.Duration) Option {
	return func(r *Registry) { r.socketPruneAge, r.presencePruneAge = socketAge, presenceAge }
}

// New constructs a Registry for selfID (excluded from discovery results).
func New(selfID string, opts ...Option) *Registry {
	r := &Registry{
		selfID:           selfID,
		sockets:          make(map[string]Endpoint),
		presence:         make(map[string]envelope.AgentMetadata),
		events:           make(chan AgentEvent, 256),
		socketPruneAge:   defaultSocketPruneAge,
		presencePruneAge: defaultPresencePruneAge,
		log:              log.With().Str("component", "registry").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Events exposes the lifecycle event stream (spec §4.3 "bounded change-stream").
func (r *Registry) Events() <-chan AgentEvent { return r.events }

// StartWatching performs the initial full scan of every watch directory
// then starts an fsnotify watcher reacting to create/remove events (spec
// §4.3 item 1). Per spec §9's open question on Create-event handling, this
// implementation registers the created *.sock file as soon as its Create
// event arrives rather than waiting for a rescan; the directory itself is
// scanned only here at start: see SPEC_FULL.md §6.3.
func (r *Registry) StartWatching() error {
	for _, dir := range r.watchDirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := r.scanDirectory(dir); err != nil {
			return err
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, dir := range r.watchDirs {
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return err
		}
	}
	r.watcher = w

	go r.watchLoop()
	return nil
}

func (r *Registry) watchLoop() {
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.handleFsEvent(ev)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Debug().Err(err).Msg("fsnotify watcher error")
		}
	}
}

func (r *Registry) handleFsEvent(ev fsnotify.Event) {
	switch {
	case ev.Op&fsnotify.Create != 0:
		if strings.HasSuffix(ev.Name, ".sock") {
			r.registerSocket(ev.Name)
		}
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if strings.HasSuffix(ev.Name, ".sock") {
			r.unregisterSocket(agentIDFromPath(ev.Name))
		}
	}
}

func (r *Registry) scanDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sock") {
			continue
		}
		r.registerSocket(filepath.Join(dir, e.Name()))
	}
	return nil
}

func agentIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, ".sock")
}

func (r *Registry) registerSocket(path string) {
	agentID := agentIDFromPath(path)
	if agentID == "" || agentID == r.selfID {
		return
	}
	ep := Endpoint{
		AgentID:       agentID,
		URI:           path,
		TransportKind: transport.KindUnixSocket,
		LastSeen:      time.Now().UTC().Unix(),
	}

	r.socketMu.Lock()
	_, existed := r.sockets[agentID]
	r.sockets[agentID] = ep
	r.socketMu.Unlock()

	kind := EventDiscovered
	if existed {
		kind = EventUpdated
	}
	r.emit(AgentEvent{Kind: kind, Endpoint: ep})
}

func (r *Registry) unregisterSocket(agentID string) {
	r.socketMu.Lock()
	ep, existed := r.sockets[agentID]
	delete(r.sockets, agentID)
	r.socketMu.Unlock()

	if existed {
		r.emit(AgentEvent{Kind: EventLost, Endpoint: ep})
	}
}

func (r *Registry) emit(ev AgentEvent) {
	select {
	case r.events <- ev:
	default:
		r.log.Debug().Msg("registry event channel full, dropping event")
	}
}

// ApplyPresence upserts a Presence envelope's metadata into the presence
// map, keyed by agent_id, using the envelope's produced_at as last_seen
// (spec §4.5 item 3, "Presence{metadata}: upsert ... with the envelope's
// produced_at"). Presence idempotence (testable property 5): applying N
// Presence envelopes for the same agent_id results in a single latest entry.
func (r *Registry) ApplyPresence(meta envelope.AgentMetadata, producedAt int64) {
	if meta.AgentID == "" || meta.AgentID == r.selfID {
		return
	}
	meta.LastSeen = producedAt

	r.presenceMu.Lock()
	r.presence[meta.AgentID] = meta
	r.presenceMu.Unlock()
}

// GetSocket returns the socket-discovered endpoint for agentID, if any.
func (r *Registry) GetSocket(agentID string) (Endpoint, bool) {
	r.socketMu.RLock()
	defer r.socketMu.RUnlock()
	ep, ok := r.sockets[agentID]
	return ep, ok
}

// DiscoverAgents returns the union of socket and presence maps, deduplicated
// by agent_id, excluding self and stale entries (spec §4.3 discovery
// contract). Ordering is unspecified.
func (r *Registry) DiscoverAgents() []Endpoint {
	now := time.Now().UTC().Unix()
	seen := make(map[string]struct{})
	var out []Endpoint

	r.socketMu.RLock()
	for id, ep := range r.sockets {
		if id == r.selfID {
			continue
		}
		if now-ep.LastSeen > int64(r.socketPruneAge.Seconds()) {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, ep)
	}
	r.socketMu.RUnlock()

	r.presenceMu.RLock()
	for id, meta := range r.presence {
		if id == r.selfID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		if now-meta.LastSeen > int64(r.presencePruneAge.Seconds()) {
			continue
		}
		out = append(out, Endpoint{
			AgentID:  id,
			LastSeen: meta.LastSeen,
			Metadata: map[string]string{"crew": meta.Crew},
		})
	}
	r.presenceMu.RUnlock()

	return out
}

// PresenceMetadata returns the last-known AgentMetadata for agentID from
// the presence map.
func (r *Registry) PresenceMetadata(agentID string) (envelope.AgentMetadata, bool) {
	r.presenceMu.RLock()
	defer r.presenceMu.RUnlock()
	m, ok := r.presence[agentID]
	return m, ok
}

// Prune removes stale entries from both maps, emitting exactly one Lost
// event per removal (spec §4.3 item 4, §3 invariant iii).
func (r *Registry) Prune() {
	now := time.Now().UTC().Unix()

	r.socketMu.Lock()
	var lostSockets []Endpoint
	for id, ep := range r.sockets {
		if now-ep.LastSeen > int64(r.socketPruneAge.Seconds()) {
			lostSockets = append(lostSockets, ep)
			delete(r.sockets, id)
		}
	}
	r.socketMu.Unlock()
	for _, ep := range lostSockets {
		r.emit(AgentEvent{Kind: EventLost, Endpoint: ep})
	}

	r.presenceMu.Lock()
	var lostPresence []string
	for id, meta := range r.presence {
		if now-meta.LastSeen > int64(r.presencePruneAge.Seconds()) {
			lostPresence = append(lostPresence, id)
			_ = meta
		}
	}
	for _, id := range lostPresence {
		delete(r.presence, id)
	}
	r.presenceMu.Unlock()
	for _, id := range lostPresence {
		r.emit(AgentEvent{Kind: EventLost, Endpoint: Endpoint{AgentID: id}})
	}
}

// RunPruneLoop periodically prunes until stop is closed. The caller that
// starts it owns the goroutine's lifetime; neither Coordinator nor
// cmd/acsdemo starts one.
func (r *Registry) RunPruneLoop(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			r.Prune()
		case <-stop:
			return
		}
	}
}

// Close stops the filesystem watcher and closes the event stream.
func (r *Registry) Close() error {
	if r.watcher != nil {
		if err := r.watcher.Close(); err != nil {
			return err
		}
	}
	close(r.events)
	return nil
}
