// Package config assembles the ambient settings every ACS process needs to
// stand up its transports, registry, and job state directory — loaded from
// environment variables with functional-option overrides. The teacher's
// main.go has no config layer (it hardcodes its NATS URL and credentials as
// literals); this package is the ambient piece SPEC_FULL.md §3 calls for.
package config

import (
	"os"
	"path/filepath"
)

// Config bundles everything cmd/acsdemo (or any other ACS entrypoint) needs
// to wire up transports, the socket registry, and job run storage.
type Config struct {
	// AgentID identifies this process on the coordination bus.
	AgentID string

	// SocketDir is where the Unix-socket transport and the presence
	// registry both watch for peer sockets (spec §4.3's discovery root).
	SocketDir string

	// JobStateDir is where job.Store persists run state and checkpoints.
	JobStateDir string

	// RedisURL, NatsURL, MqttBrokerURL are empty when that transport is
	// unconfigured; callers skip constructing drivers for empty URLs.
	RedisURL     string
	NatsURL      string
	MqttBrokerURL string
}

// Option mutates a Config during Load, mirroring the functional-option
// pattern registry.Option already uses in this module.
type Option func(*Config)

func WithAgentID(id string) Option        { return func(c *Config) { c.AgentID = id } }
func WithSocketDir(dir string) Option     { return func(c *Config) { c.SocketDir = dir } }
func WithJobStateDir(dir string) Option   { return func(c *Config) { c.JobStateDir = dir } }
func WithRedisURL(url string) Option      { return func(c *Config) { c.RedisURL = url } }
func WithNatsURL(url string) Option       { return func(c *Config) { c.NatsURL = url } }
func WithMqttBrokerURL(url string) Option { return func(c *Config) { c.MqttBrokerURL = url } }

// Load reads the environment into a Config, then applies opts on top so a
// caller (tests, cmd/acsdemo flags) can override any field without
// reaching into the process environment.
//
// Recognized variables:
//
//	ACS_AGENT_ID        - defaults to hostname-less "acs-agent"
//	ACS_SOCKET_DIR      - defaults to $HOME/.b00t/agents
//	ACS_JOB_STATE_DIR   - defaults to $HOME/.b00t/jobs
//	ACS_REDIS_URL
//	ACS_NATS_URL
//	ACS_MQTT_BROKER_URL
func Load(opts ...Option) Config {
	home, _ := os.UserHomeDir()

	cfg := Config{
		AgentID:       getenv("ACS_AGENT_ID", "acs-agent"),
		SocketDir:     getenv("ACS_SOCKET_DIR", filepath.Join(home, ".b00t", "agents")),
		JobStateDir:   getenv("ACS_JOB_STATE_DIR", filepath.Join(home, ".b00t", "jobs")),
		RedisURL:      os.Getenv("ACS_REDIS_URL"),
		NatsURL:       os.Getenv("ACS_NATS_URL"),
		MqttBrokerURL: os.Getenv("ACS_MQTT_BROKER_URL"),
	}

	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
