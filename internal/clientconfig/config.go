package clientconfig

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Default configuration values (local development)
const (
	DefaultServer = "ws://localhost:8000"
	DefaultSTUN   = "stun:stun.l.google.com:19302"
)

// Config holds the medcall CLI configuration.
type Config struct {
	// ServerURL is the gateway base URL (ws:// or wss://).
	ServerURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
}

// Options for loading config with CLI flag overrides
type Options struct {
	Server     string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	server, err := normalizeServer(pick(opts.Server, "MEDCALL_SERVER", DefaultServer))
	if err != nil {
		return nil, err
	}

	return &Config{
		ServerURL:  server,
		STUNServer: pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer: pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:   pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:   pick(opts.TURNPass, "TURN_PASSWORD", ""),
	}, nil
}

// pick returns the flag value, else the environment value, else def.
func pick(flag, envKey, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return def
}

// normalizeServer accepts "host:port", http(s):// or ws(s):// and returns a
// websocket base URL without a trailing slash.
func normalizeServer(server string) (string, error) {
	if !strings.Contains(server, "://") {
		server = "ws://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: missing host", server)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	return u.String(), nil
}

// CallURL returns the signaling socket URL for room.
func (c *Config) CallURL(room string) string {
	return fmt.Sprintf("%s/ws/call/%s/", c.ServerURL, url.PathEscape(room))
}

// STT routes served by the gateway.
const (
	RouteConsult = "stt"
	RouteSales   = "sales"
	RouteAdmin   = "admin"
	RouteRoom    = "room"
)

// STTURL returns the transcription socket URL for route. role and name are
// only used by the single-speaker room route.
func (c *Config) STTURL(route, role, name string) (string, error) {
	switch route {
	case RouteConsult, "":
		return c.ServerURL + "/ws/stt/", nil
	case RouteSales, RouteAdmin:
		return fmt.Sprintf("%s/ws/stt/%s/", c.ServerURL, route), nil
	case RouteRoom:
		q := url.Values{}
		if role != "" {
			q.Set("role", role)
		}
		if name != "" {
			q.Set("name", name)
		}
		u := c.ServerURL + "/ws/stt/room/"
		if len(q) > 0 {
			u += "?" + q.Encode()
		}
		return u, nil
	default:
		return "", fmt.Errorf("unknown stt route %q (want stt, sales, admin or room)", route)
	}
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
