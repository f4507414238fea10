package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Default configuration values (production)
const (
	DefaultDomain     = "peerlink.qzz.io"
	DefaultSTUN       = "stun:stun.l.google.com:19302"
	DefaultListenAddr = ":8080"
)

// Config holds application configuration
type Config struct {
	// Domain is the signaling server domain
	Domain   string
	Insecure bool

	// Endpoints derived from Domain unless overridden
	SignalingURL  string
	ICEEndpoint   string
	TokenEndpoint string

	// SharedSecret signs join tokens locally when set
	SharedSecret string

	// Auth fetches join tokens from TokenEndpoint when no secret is set
	Auth bool

	// UserID identifies this client in a room
	UserID string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// ListenAddr is used by the signaling server
	ListenAddr string
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain        string
	Insecure      bool
	SignalingURL  string
	ICEEndpoint   string
	TokenEndpoint string
	SharedSecret  string
	Auth          bool
	UserID        string
	STUNServer    string
	TURNServer    string
	TURNUser      string
	TURNPass      string
	ForceRelay    bool
	ListenAddr    string

	// EnvFiles are loaded before reading the environment. Defaults to ".env".
	EnvFiles []string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (including .env files)
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	if err := loadEnvFiles(opts.EnvFiles); err != nil {
		return nil, err
	}

	domain := pick(opts.Domain, "DOMAIN", DefaultDomain)
	insecure := opts.Insecure || envBool("INSECURE")

	wsScheme, httpScheme := "wss", "https"
	if insecure {
		wsScheme, httpScheme = "ws", "http"
	}

	cfg := &Config{
		Domain:        domain,
		Insecure:      insecure,
		SignalingURL:  pick(opts.SignalingURL, "SIGNALING_URL", fmt.Sprintf("%s://%s/ws", wsScheme, domain)),
		ICEEndpoint:   pick(opts.ICEEndpoint, "TURN_ENDPOINT", fmt.Sprintf("%s://%s/turn", httpScheme, domain)),
		TokenEndpoint: pick(opts.TokenEndpoint, "TOKEN_ENDPOINT", fmt.Sprintf("%s://%s/token", httpScheme, domain)),
		SharedSecret:  pick(opts.SharedSecret, "JWT_SECRET", ""),
		Auth:          opts.Auth || envBool("AUTH"),
		UserID:        pick(opts.UserID, "USER_ID", ""),
		STUNServer:    pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer:    pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:      pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:      pick(opts.TURNPass, "TURN_PASSWORD", ""),
		ForceRelay:    opts.ForceRelay || envBool("FORCE_RELAY"),
		ListenAddr:    pick(opts.ListenAddr, "LISTEN_ADDR", DefaultListenAddr),
	}

	if cfg.UserID == "" {
		cfg.UserID = uuid.NewString()
	}

	if cfg.ForceRelay && cfg.TURNServer == "" {
		return nil, errors.New("force relay requires a TURN server")
	}

	return cfg, nil
}

// pick returns the flag value, then the env value, then the fallback.
func pick(flag, env, fallback string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		// godotenv never overrides variables already set in the process
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// TokenSourceEndpoint returns the token endpoint when tokens should be
// fetched, or "" when join tokens are signed locally or not used.
func (c *Config) TokenSourceEndpoint() string {
	if c.Auth && c.SharedSecret == "" {
		return c.TokenEndpoint
	}
	return ""
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
