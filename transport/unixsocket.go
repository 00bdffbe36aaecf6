package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/b00t-dev/acs/acserr"
	"github.com/b00t-dev/acs/envelope"
)

// UnixSocketDriver implements Transport over one .sock file per agent
// (spec §4.2): frames are length(u32 big-endian) || utf8-json. It only
// carries unicast, DirectMessage-style traffic to a known peer; broadcast
// is emulated at the Router layer by sending one frame per peer.
//
// Grounded on original_source/b00t-ipc/src/transport.rs's Transport trait
// shape, but the concrete framing itself is this module's own: the Rust
// original never actually implements a Unix-socket driver (only Redis and
// NATS), so the wire format is taken directly from spec §6's explicit
// "Unix socket framing" contract.
type UnixSocketDriver struct {
	dir string
	log zerolog.Logger

	mu        sync.Mutex
	listeners map[string]net.Listener
	subs      map[string]chan Inbound
	conns     map[string]net.Conn // peer agent_id -> dialed connection for publish
}

// NewUnixSocketDriver constructs a driver rooted at dir (e.g.
// /tmp/b00t/agents), the directory socket files live in per spec §6.
func NewUnixSocketDriver(dir string) *UnixSocketDriver {
	return &UnixSocketDriver{
		dir:       dir,
		log:       log.With().Str("transport", "unix_socket").Logger(),
		listeners: make(map[string]net.Listener),
		subs:      make(map[string]chan Inbound),
		conns:     make(map[string]net.Conn),
	}
}

func (d *UnixSocketDriver) Kind() Kind { return KindUnixSocket }

// Connect ensures the socket directory exists. It is idempotent: calling it
// again is a cheap stat-and-return.
func (d *UnixSocketDriver) Connect(ctx context.Context) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return Unavailable(KindUnixSocket, "unixsocket.Connect", err)
	}
	return nil
}

// Publish dials the peer's socket (channel is the peer agent id here; the
// Router maps an Agent(id) destination straight through) and writes one
// length-prefixed frame.
func (d *UnixSocketDriver) Publish(ctx context.Context, channel string, env envelope.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return acserr.New(acserr.Validation, "unixsocket.Publish", err)
	}

	conn, err := d.dial(channel)
	if err != nil {
		return acserr.New(acserr.Transport, "unixsocket.Publish", fmt.Errorf("publish failed: %w", err))
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(raw)))
	if _, err := conn.Write(header[:]); err != nil {
		return acserr.New(acserr.Transport, "unixsocket.Publish", err)
	}
	if _, err := conn.Write(raw); err != nil {
		return acserr.New(acserr.Transport, "unixsocket.Publish", err)
	}
	return nil
}

func (d *UnixSocketDriver) dial(agentID string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.conns[agentID]; ok {
		return c, nil
	}
	path := fmt.Sprintf("%s/%s.sock", d.dir, agentID)
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, err
	}
	d.conns[agentID] = conn
	return conn, nil
}

// Subscribe listens on <dir>/<channel>.sock (channel is this agent's own
// id) and pushes one decoded envelope per accepted frame. A malformed or
// partial frame closes that connection without tearing down the listener.
func (d *UnixSocketDriver) Subscribe(ctx context.Context, channel string) (<-chan Inbound, error) {
	path := fmt.Sprintf("%s/%s.sock", d.dir, channel)
	_ = os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, Unavailable(KindUnixSocket, "unixsocket.Subscribe", err)
	}

	out := make(chan Inbound, 64)

	d.mu.Lock()
	d.listeners[channel] = ln
	d.subs[channel] = out
	d.mu.Unlock()

	go d.acceptLoop(ctx, channel, ln, out)
	return out, nil
}

func (d *UnixSocketDriver) acceptLoop(ctx context.Context, channel string, ln net.Listener, out chan Inbound) {
	defer close(out)
	for {
		conn, err := ln.Accept()
		if err != nil {
			return // listener closed
		}
		go d.readFrames(ctx, channel, conn, out)
	}
}

func (d *UnixSocketDriver) readFrames(ctx context.Context, channel string, conn net.Conn, out chan Inbound) {
	defer conn.Close()
	for {
		var header [4]byte
		if _, err := fullRead(conn, header[:]); err != nil {
			return // partial frame or peer closed: close the connection
		}
		n := binary.BigEndian.Uint32(header[:])
		body := make([]byte, n)
		if _, err := fullRead(conn, body); err != nil {
			return
		}
		var env envelope.Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			d.log.Debug().Err(err).Msg("dropping malformed unix socket frame")
			continue
		}
		select {
		case out <- Inbound{Channel: channel, Envelope: env}:
		case <-ctx.Done():
			return
		}
	}
}

func fullRead(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (d *UnixSocketDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ln := range d.listeners {
		_ = ln.Close()
	}
	for _, c := range d.conns {
		_ = c.Close()
	}
	d.listeners = make(map[string]net.Listener)
	d.conns = make(map[string]net.Conn)
	return nil
}
