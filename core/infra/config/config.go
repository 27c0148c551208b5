package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr = ":8090"
	defaultRedisURL = "redis://localhost:6379"
	defaultSubject  = "recordlock.events"

	envHTTPAddr     = "RECORDLOCK_HTTP_ADDR"
	envRedisURL     = "REDIS_URL"
	envNATSURL      = "NATS_URL"
	envSettingsPath = "RECORDLOCK_SETTINGS_PATH"
	envAuthzURL     = "RECORDLOCK_AUTHZ_URL"
	envIdentityURL  = "RECORDLOCK_IDENTITY_URL"
)

// AllowedTransports is the fixed set of transport mechanisms clients may
// negotiate when opening a realtime channel.
var AllowedTransports = []string{"polling", "websocket", "webtransport"}

// Config holds runtime configuration for the lock coordination service.
type Config struct {
	HTTPAddr      string
	RedisURL      string
	NatsURL       string
	AuthzURL      string
	IdentityURL   string
	EventsSubject string
	Transports    []string
}

// settingsFile is the optional YAML overlay pointed at by
// RECORDLOCK_SETTINGS_PATH.
type settingsFile struct {
	Transports    []string `yaml:"transports"`
	AuthzURL      string   `yaml:"authz_url"`
	IdentityURL   string   `yaml:"identity_url"`
	EventsSubject string   `yaml:"events_subject"`
}

// Load returns configuration using environment variables with sane defaults,
// overlaid by the optional settings file.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:      envOr(envHTTPAddr, defaultHTTPAddr),
		RedisURL:      envOr(envRedisURL, defaultRedisURL),
		NatsURL:       strings.TrimSpace(os.Getenv(envNATSURL)),
		AuthzURL:      strings.TrimSpace(os.Getenv(envAuthzURL)),
		IdentityURL:   strings.TrimSpace(os.Getenv(envIdentityURL)),
		EventsSubject: defaultSubject,
		Transports:    append([]string(nil), AllowedTransports...),
	}

	path := strings.TrimSpace(os.Getenv(envSettingsPath))
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	var file settingsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse settings file: %w", err)
	}
	if file.AuthzURL != "" {
		cfg.AuthzURL = strings.TrimSpace(file.AuthzURL)
	}
	if file.IdentityURL != "" {
		cfg.IdentityURL = strings.TrimSpace(file.IdentityURL)
	}
	if file.EventsSubject != "" {
		cfg.EventsSubject = strings.TrimSpace(file.EventsSubject)
	}
	cfg.Transports = NormalizeTransports(file.Transports)
	return cfg, nil
}

// NormalizeTransports filters the supplied list against the allowed set.
// An empty or fully invalid list falls back to the defaults.
func NormalizeTransports(requested []string) []string {
	out := make([]string, 0, len(requested))
	for _, raw := range requested {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || contains(out, name) {
			continue
		}
		if contains(AllowedTransports, name) {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), AllowedTransports...)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
