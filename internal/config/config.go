// Package config loads server and client settings from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultEnvFile is read if present; variables already set win.
const DefaultEnvFile = ".env"

// Server holds chat server settings.
type Server struct {
	Host  string
	Port  int
	Local bool

	// DatabasePath is required unless Local is set.
	DatabasePath string
	// DataDir holds the throwaway database used in local mode.
	DataDir string

	IdleTimeout      time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	HistoryLimit     int

	LogLevel  string
	LogPretty bool
}

// Client holds chat client settings.
type Client struct {
	ServerAddr string

	// AckBase is the first acknowledgment wait; each retry waits AckStep
	// longer than the previous attempt.
	AckBase    time.Duration
	AckStep    time.Duration
	AckRetries int

	// LogFile receives client logs; empty disables logging.
	LogFile  string
	LogLevel string
}

// Addr joins host and port.
func (s Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DatabaseFile returns the SQLite path for the selected mode.
func (s Server) DatabaseFile() string {
	if s.Local {
		return filepath.Join(s.DataDir, "local.db")
	}
	return s.DatabasePath
}

// Validate reports missing settings for the selected mode.
func (s Server) Validate() error {
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port %d", s.Port)
	}
	if !s.Local && s.DatabasePath == "" {
		return fmt.Errorf("could not find necessary env variables, got: CHAT_DATABASE_PATH=%q", s.DatabasePath)
	}
	if s.IdleTimeout <= 0 || s.HandshakeTimeout <= 0 || s.WriteTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if s.HistoryLimit <= 0 {
		return errors.New("history limit must be positive")
	}
	return nil
}

// LoadEnvFile loads path into the environment if it exists.
func LoadEnvFile(path string) error {
	if path == "" {
		path = DefaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadServer reads server settings from the environment.
func LoadServer() (Server, error) {
	var (
		cfg = Server{
			Host:         "127.0.0.1",
			Port:         8000,
			DatabasePath: os.Getenv("CHAT_DATABASE_PATH"),
			DataDir:      getenv("CHAT_DATA_DIR", "./chatdata"),
			LogLevel:     getenv("CHAT_LOG_LEVEL", "info"),
		}
		err error
	)

	if cfg.IdleTimeout, err = durationEnv("CHAT_IDLE_TIMEOUT", 60*time.Second); err != nil {
		return cfg, err
	}
	if cfg.HandshakeTimeout, err = durationEnv("CHAT_HANDSHAKE_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = durationEnv("CHAT_WRITE_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.HistoryLimit, err = intEnv("CHAT_HISTORY_LIMIT", 100); err != nil {
		return cfg, err
	}
	if cfg.LogPretty, err = boolEnv("CHAT_LOG_PRETTY", false); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadClient reads client settings from the environment.
func LoadClient() (Client, error) {
	var (
		cfg = Client{
			ServerAddr: getenv("CHAT_SERVER_ADDR", "127.0.0.1:8000"),
			LogFile:    os.Getenv("CHAT_CLIENT_LOG"),
			LogLevel:   getenv("CHAT_LOG_LEVEL", "info"),
		}
		err error
	)

	if cfg.AckBase, err = durationEnv("CHAT_ACK_BASE", time.Second); err != nil {
		return cfg, err
	}
	if cfg.AckStep, err = durationEnv("CHAT_ACK_STEP", time.Second); err != nil {
		return cfg, err
	}
	if cfg.AckRetries, err = intEnv("CHAT_ACK_RETRIES", 3); err != nil {
		return cfg, err
	}
	if cfg.AckRetries < 0 {
		return cfg, fmt.Errorf("CHAT_ACK_RETRIES must not be negative")
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
