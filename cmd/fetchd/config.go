package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/fetchd/fetchd/internal/protocol/session"
	"github.com/fetchd/fetchd/internal/server"
)

// fetchd config.toml key mapping to service runtime settings.
type fileConfig struct {
	Addr                string   `toml:"addr"`
	NodeID              string   `toml:"node_id"`
	Tool                string   `toml:"tool"`
	MaxConcurrentCalls  int      `toml:"max_concurrent_calls"`
	AdmissionPerSecond  float64  `toml:"admission_per_second"`
	AdminListenAddr     string   `toml:"admin_listen_addr"`
	CorsOrigins         []string `toml:"cors_origins"`
	RequestTimeout      string   `toml:"request_timeout"`
	SessionSecurityMode string   `toml:"session_security_mode"`
	SessionTLSEnabled   bool     `toml:"session_tls_enabled"`
	SessionTLSMutual    bool     `toml:"session_tls_mutual"`
	SessionTLSCertFile  string   `toml:"session_tls_cert_file"`
	SessionTLSKeyFile   string   `toml:"session_tls_key_file"`
	SessionTLSCAFile    string   `toml:"session_tls_ca_file"`
}

// loadServiceConfig overlays config.toml keys onto the shipped defaults.
// Only keys present in the file override.
func loadServiceConfig(path string) (server.Config, error) {
	cfg := server.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return server.Config{}, fmt.Errorf("load fetchd config: %w", err)
	}

	if meta.IsDefined("addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("node_id") {
		cfg.NodeID = strings.TrimSpace(raw.NodeID)
	}
	if meta.IsDefined("tool") {
		cfg.Tool = strings.TrimSpace(raw.Tool)
	}
	if meta.IsDefined("max_concurrent_calls") {
		cfg.MaxConcurrentCalls = raw.MaxConcurrentCalls
	}
	if meta.IsDefined("admission_per_second") {
		cfg.AdmissionPerSecond = raw.AdmissionPerSecond
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("request_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RequestTimeout))
		if err != nil {
			return server.Config{}, fmt.Errorf("load fetchd config: request_timeout: %w", err)
		}
		if d <= 0 {
			return server.Config{}, fmt.Errorf("load fetchd config: request_timeout must be positive")
		}
		cfg.Session.RequestTimeout = d
	}
	if meta.IsDefined("session_security_mode") {
		cfg.Session.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SessionSecurityMode))
	}
	if meta.IsDefined("session_tls_enabled") {
		cfg.Session.TLS.Enabled = raw.SessionTLSEnabled
	}
	if meta.IsDefined("session_tls_mutual") {
		cfg.Session.TLS.Mutual = raw.SessionTLSMutual
	}
	if meta.IsDefined("session_tls_cert_file") {
		cfg.Session.TLS.CertFile = strings.TrimSpace(raw.SessionTLSCertFile)
	}
	if meta.IsDefined("session_tls_key_file") {
		cfg.Session.TLS.KeyFile = strings.TrimSpace(raw.SessionTLSKeyFile)
	}
	if meta.IsDefined("session_tls_ca_file") {
		cfg.Session.TLS.CAFile = strings.TrimSpace(raw.SessionTLSCAFile)
	}

	cfg.Session = cfg.Session.WithDefaults()
	return cfg, nil
}
