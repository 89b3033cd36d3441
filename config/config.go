package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds everything the engine and the reference client need: where
// the chat server lives, where placed calls send their peers, and the call
// ring timeout.
type Config struct {
	Server      string // XMPP server address, host:port
	MeetDomain  string // meeting host advertised in call payloads
	MeetPort    int    // meeting port advertised in call payloads
	CallTimeout time.Duration
	InsecureTLS bool // skip TLS verification, for self-signed test servers
}

// fileConfig is the config.toml key mapping.
type fileConfig struct {
	Server      string `toml:"server"`
	MeetDomain  string `toml:"meet_domain"`
	MeetPort    int    `toml:"meet_port"`
	CallTimeout int    `toml:"call_timeout"` // seconds
	InsecureTLS bool   `toml:"insecure_tls"`
}

// Load builds the configuration from defaults, an optional TOML file, and
// MSGOFFICE_* environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := &Config{
		MeetPort:    8443,
		CallTimeout: 120 * time.Second,
	}

	if path != "" {
		var raw fileConfig
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if meta.IsDefined("server") {
			cfg.Server = raw.Server
		}
		if meta.IsDefined("meet_domain") {
			cfg.MeetDomain = raw.MeetDomain
		}
		if meta.IsDefined("meet_port") {
			cfg.MeetPort = raw.MeetPort
		}
		if meta.IsDefined("call_timeout") {
			cfg.CallTimeout = time.Duration(raw.CallTimeout) * time.Second
		}
		if meta.IsDefined("insecure_tls") {
			cfg.InsecureTLS = raw.InsecureTLS
		}
	}

	if server := os.Getenv("MSGOFFICE_SERVER"); server != "" {
		cfg.Server = server
	}
	if domain := os.Getenv("MSGOFFICE_MEET_DOMAIN"); domain != "" {
		cfg.MeetDomain = domain
	}
	if portStr := os.Getenv("MSGOFFICE_MEET_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.MeetPort = port
		}
	}
	if timeoutStr := os.Getenv("MSGOFFICE_CALL_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.CallTimeout = time.Duration(timeout) * time.Second
		}
	}
	if insecure := os.Getenv("MSGOFFICE_INSECURE_TLS"); insecure != "" {
		if v, err := strconv.ParseBool(insecure); err == nil {
			cfg.InsecureTLS = v
		}
	}

	return cfg, nil
}
