package symphony

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything needed to talk to a Symphony pod. Endpoint URLs
// keep their `{sid}`, `{datafeed_id}` and `{room_id}` placeholders; they are
// substituted at request time. When Host is set, every unset URL is derived
// from it in Validate.
type Config struct {
	// Host is the Symphony pod host, like "company.symphony.com". A scheme
	// prefix and trailing slash are tolerated.
	Host string `json:"host" yaml:"host"`

	// AuthHost is the authentication host, like "company-api.symphony.com".
	AuthHost        string `json:"authHost" yaml:"authHost"`
	SessionAuthPath string `json:"sessionAuthPath,omitempty" yaml:"sessionAuthPath,omitempty"`
	KeyAuthPath     string `json:"keyAuthPath,omitempty" yaml:"keyAuthPath,omitempty"`

	// Per-endpoint overrides. Unset entries default from Host.
	MessageCreateURL  string `json:"messageCreateUrl,omitempty" yaml:"messageCreateUrl,omitempty"`
	PresenceURL       string `json:"presenceUrl,omitempty" yaml:"presenceUrl,omitempty"`
	DatafeedCreateURL string `json:"datafeedCreateUrl,omitempty" yaml:"datafeedCreateUrl,omitempty"`
	DatafeedDeleteURL string `json:"datafeedDeleteUrl,omitempty" yaml:"datafeedDeleteUrl,omitempty"`
	DatafeedReadURL   string `json:"datafeedReadUrl,omitempty" yaml:"datafeedReadUrl,omitempty"`
	RoomSearchURL     string `json:"roomSearchUrl,omitempty" yaml:"roomSearchUrl,omitempty"`
	RoomInfoURL       string `json:"roomInfoUrl,omitempty" yaml:"roomInfoUrl,omitempty"`
	RoomMembersURL    string `json:"roomMembersUrl,omitempty" yaml:"roomMembersUrl,omitempty"`
	IMCreateURL       string `json:"imCreateUrl,omitempty" yaml:"imCreateUrl,omitempty"`
	SessionInfoURL    string `json:"sessionInfoUrl,omitempty" yaml:"sessionInfoUrl,omitempty"`

	// Cert and Key are PEM content (detected by a BEGIN marker) or a path
	// to a PEM file, loaded during Validate.
	Cert string `json:"cert" yaml:"cert"`
	Key  string `json:"key" yaml:"key"`

	// TrustStore is an optional PEM bundle of CAs to trust instead of the
	// system pool. InsecureSkipVerify disables server verification.
	TrustStore         string `json:"trustStore,omitempty" yaml:"trustStore,omitempty"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// DatafeedVersion selects the agent datafeed API generation.
	DatafeedVersion string `json:"datafeedVersion,omitempty" yaml:"datafeedVersion,omitempty"`

	// ErrorRoom, when set, receives a best-effort notice whenever an
	// outbound message fails terminally. InformClient additionally sends a
	// one-shot notice to the original sender of the failed reply.
	ErrorRoom    string `json:"errorRoom,omitempty" yaml:"errorRoom,omitempty"`
	InformClient bool   `json:"informClient,omitempty" yaml:"informClient,omitempty"`

	// Outbound retry policy. MaxAttempts of -1 retries without bound.
	MaxAttempts       int     `json:"maxAttempts" yaml:"maxAttempts"`
	InitialIntervalMS int     `json:"initialIntervalMs" yaml:"initialIntervalMs"`
	Multiplier        float64 `json:"multiplier" yaml:"multiplier"`
	MaxIntervalMS     int     `json:"maxIntervalMs" yaml:"maxIntervalMs"`

	// RoomCachePath, when set, persists room/IM mappings in a SQLite file
	// so restarts skip repeat directory lookups.
	RoomCachePath string `json:"roomCachePath,omitempty" yaml:"roomCachePath,omitempty"`
}

// Defaults returns a Config with the stock retry policy and auth paths.
// Host, AuthHost, Cert and Key still have to be supplied.
func Defaults() *Config {
	return &Config{
		SessionAuthPath:   "/sessionauth/v1/authenticate",
		KeyAuthPath:       "/keyauth/v1/authenticate",
		DatafeedVersion:   "v5",
		MaxAttempts:       10,
		InitialIntervalMS: 500,
		Multiplier:        2.0,
		MaxIntervalMS:     300000,
	}
}

// LoadConfig reads a config file, yaml or json by extension.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// SaveConfig writes the config, yaml or json by extension.
func SaveConfig(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate fills endpoint defaults from Host, loads cert/key material and
// checks the retry settings. It mutates the receiver.
func (c *Config) Validate() error {
	host := strings.TrimSuffix(c.Host, "/")
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	c.Host = host

	urls := []struct {
		field *string
		def   string
	}{
		{&c.MessageCreateURL, "https://%s/agent/v4/stream/{sid}/message/create"},
		{&c.PresenceURL, "https://%s/pod/v2/user/presence"},
		{&c.DatafeedCreateURL, "https://%s/agent/v5/datafeeds"},
		{&c.DatafeedDeleteURL, "https://%s/agent/v5/datafeeds/{datafeed_id}"},
		{&c.DatafeedReadURL, "https://%s/agent/v5/datafeeds/{datafeed_id}/read"},
		{&c.RoomSearchURL, "https://%s/pod/v3/room/search"},
		{&c.RoomInfoURL, "https://%s/pod/v3/room/{room_id}/info"},
		{&c.RoomMembersURL, "https://%s/pod/v2/room/{room_id}/membership/list"},
		{&c.IMCreateURL, "https://%s/pod/v1/im/create"},
		{&c.SessionInfoURL, "https://%s/pod/v2/sessioninfo"},
	}
	for _, u := range urls {
		if *u.field == "" {
			if host == "" {
				return fmt.Errorf("config: host must be set when endpoint urls are not fully specified")
			}
			*u.field = fmt.Sprintf(u.def, host)
		}
	}

	if c.AuthHost == "" {
		return fmt.Errorf("config: authHost must be set")
	}
	if c.SessionAuthPath == "" {
		c.SessionAuthPath = "/sessionauth/v1/authenticate"
	}
	if c.KeyAuthPath == "" {
		c.KeyAuthPath = "/keyauth/v1/authenticate"
	}
	if c.DatafeedVersion == "" {
		c.DatafeedVersion = "v5"
	}

	var err error
	if c.Cert, err = loadPEM(c.Cert); err != nil {
		return fmt.Errorf("config: cert: %w", err)
	}
	if c.Key, err = loadPEM(c.Key); err != nil {
		return fmt.Errorf("config: key: %w", err)
	}
	if c.TrustStore != "" {
		if c.TrustStore, err = loadPEM(c.TrustStore); err != nil {
			return fmt.Errorf("config: trustStore: %w", err)
		}
	}

	if c.MaxAttempts == 0 || c.MaxAttempts < UnboundedAttempts {
		return fmt.Errorf("config: maxAttempts must be positive or %d for unbounded", UnboundedAttempts)
	}
	if c.InitialIntervalMS <= 0 {
		return fmt.Errorf("config: initialIntervalMs must be positive")
	}
	if c.Multiplier < 1.0 {
		return fmt.Errorf("config: multiplier must be >= 1.0")
	}
	if c.MaxIntervalMS < c.InitialIntervalMS {
		return fmt.Errorf("config: maxIntervalMs must be >= initialIntervalMs")
	}
	return nil
}

// RetryPolicy builds the outbound retry policy from the config.
func (c *Config) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     c.MaxAttempts,
		InitialInterval: msToDuration(c.InitialIntervalMS),
		Multiplier:      c.Multiplier,
		MaxInterval:     msToDuration(c.MaxIntervalMS),
	}
}

func msToDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// loadPEM returns s unchanged when it already holds PEM content, otherwise
// treats it as a file path and reads it.
func loadPEM(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("missing")
	}
	if strings.Contains(s, "BEGIN ") {
		return s, nil
	}
	data, err := os.ReadFile(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
