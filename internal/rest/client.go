// Package rest implements the raw Symphony REST surface: certificate-based
// session bootstrap, the agent datafeed, room directory lookups, message
// create and presence endpoints. It knows nothing about retry policy or
// message translation; callers own both.
package rest

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Config carries resolved endpoint URLs (placeholders intact) and PEM
// credentials. URLs for auth may carry an explicit scheme, which the test
// servers rely on.
type Config struct {
	AuthHost        string
	SessionAuthPath string
	KeyAuthPath     string

	MessageCreateURL  string
	PresenceURL       string
	DatafeedCreateURL string
	DatafeedDeleteURL string
	DatafeedReadURL   string
	RoomSearchURL     string
	RoomInfoURL       string
	RoomMembersURL    string
	IMCreateURL       string
	SessionInfoURL    string

	Cert string // PEM client certificate chain
	Key  string // PEM private key

	TrustStore         string // optional PEM CA bundle
	InsecureSkipVerify bool
}

// StatusError is a non-2xx response from Symphony.
type StatusError struct {
	Status int
	URL    string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("symphony: %s returned %d: %s", e.URL, e.Status, e.Body)
}

// ErrNotFound reports a directory lookup with no exact match.
var ErrNotFound = errors.New("symphony: not found")

// Client is a session-scoped Symphony REST client. Safe for concurrent use
// once Authenticate has succeeded.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	mu         sync.RWMutex
	sessionTok string
	keyMgrTok  string
}

// NewClient builds a client with the certificate pair loaded into the TLS
// config. The same transport serves both the auth handshake and the API.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	cert, err := tls.X509KeyPair([]byte(cfg.Cert), []byte(cfg.Key))
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.TrustStore != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(cfg.TrustStore)) {
			return nil, fmt.Errorf("trust store contains no usable certificates")
		}
		tlsCfg.RootCAs = pool
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		http: &http.Client{
			Timeout:   60 * time.Second,
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		},
	}, nil
}

// authURL joins the auth host and path, tolerating a scheme already present
// on the host.
func (c *Client) authURL(path string) string {
	host := c.cfg.AuthHost
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return strings.TrimSuffix(host, "/") + path
}

// Authenticate performs the two-leg certificate handshake and caches the
// session and key-manager tokens.
func (c *Client) Authenticate(ctx context.Context) error {
	sessionTok, err := c.authToken(ctx, c.authURL(c.cfg.SessionAuthPath))
	if err != nil {
		return fmt.Errorf("session auth: %w", err)
	}
	keyTok, err := c.authToken(ctx, c.authURL(c.cfg.KeyAuthPath))
	if err != nil {
		return fmt.Errorf("key auth: %w", err)
	}

	c.mu.Lock()
	c.sessionTok = sessionTok
	c.keyMgrTok = keyTok
	c.mu.Unlock()

	c.logger.Info("symphony session established", "auth_host", c.cfg.AuthHost)
	return nil
}

func (c *Client) authToken(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader("{}"))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Status: resp.StatusCode, URL: url, Body: string(body)}
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("auth response missing token")
	}
	return out.Token, nil
}

// header returns the authenticated request headers.
func (c *Client) header() http.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := http.Header{}
	h.Set("sessionToken", c.sessionTok)
	h.Set("keyManagerToken", c.keyMgrTok)
	h.Set("Accept", "application/json")
	return h
}

// doJSON issues an authenticated request. payload and out may be nil.
func (c *Client) doJSON(ctx context.Context, method, url string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header = c.header()
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Status: resp.StatusCode, URL: url, Body: string(data)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response from %s: %w", url, err)
		}
	}
	return nil
}

// BotUserID fetches the bot's own user id from the session-info endpoint,
// used for skip-own filtering. Returns empty when the endpoint is not
// configured.
func (c *Client) BotUserID(ctx context.Context) (string, error) {
	if c.cfg.SessionInfoURL == "" {
		return "", nil
	}
	var out struct {
		ID json.Number `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.cfg.SessionInfoURL, nil, &out); err != nil {
		return "", err
	}
	return out.ID.String(), nil
}
