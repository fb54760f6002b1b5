// Package config provides configuration loading for the daemon.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/codexmonitor/daemon/internal/codexerr"
)

// Config holds every value the daemon's serve command needs (§4.12, §6).
type Config struct {
	ListenAddr     string
	DataDir        string
	Token          string
	InsecureNoAuth bool
	AgentBinary    string

	RequestTimeout      time.Duration
	InitTimeout         time.Duration
	VersionCheckTimeout time.Duration
	LoginTimeout        time.Duration

	LogLevel  string
	LogFormat string
}

// Default values for flags not explicitly supplied.
const (
	DefaultListenAddr  = "127.0.0.1:4732"
	DefaultAgentBinary = "codex"
)

// TokenEnvVar is the environment variable consulted when --token is absent.
const TokenEnvVar = "CODEX_MONITOR_DAEMON_TOKEN"

// Defaults returns a Config with every field set to its default value,
// matching spec.md §6.
func Defaults() Config {
	return Config{
		ListenAddr:          DefaultListenAddr,
		AgentBinary:         DefaultAgentBinary,
		RequestTimeout:      300 * time.Second,
		InitTimeout:         15 * time.Second,
		VersionCheckTimeout: 5 * time.Second,
		LoginTimeout:        30 * time.Second,
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "json"),
	}
}

// Validate enforces the mutual exclusivity and required-field rules of §6.
// A failure here is one of the "malformed --token/--listen args" fatal
// conditions of §7, mapped by the caller to exit code 2.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return codexerr.New(codexerr.KindInvalid, "--listen must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return codexerr.New(codexerr.KindInvalid, "--data-dir must not be empty")
	}
	if c.Token != "" && c.InsecureNoAuth {
		return codexerr.New(codexerr.KindInvalid, "--token and --insecure-no-auth are mutually exclusive")
	}
	return nil
}

// ResolveToken applies the env-var fallback: an explicit --token wins, then
// CODEX_MONITOR_DAEMON_TOKEN, then "" (unauthenticated, per §4.10).
func (c *Config) ResolveToken() {
	if c.Token != "" || c.InsecureNoAuth {
		return
	}
	c.Token = os.Getenv(TokenEnvVar)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
