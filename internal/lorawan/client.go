// Package lorawan provides a client for a ChirpStack-style LoRaWan network
// server. It confirms that devices exist and reads their last known
// location.
package lorawan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/psptrack/psptrack/internal/device"
	"github.com/psptrack/psptrack/internal/upstream"
)

const (
	// SourceName identifies this client in logs, metrics and health.
	SourceName = "lorawan"

	authHeader = "Grpc-Metadata-Authorization"

	// tokenSkew renews the token this long before it expires.
	tokenSkew = 30 * time.Second
)

// Client errors.
var (
	ErrLoginFailed   = errors.New("lorawan login failed")
	ErrUnknownDevice = errors.New("device unknown to the network server")
	ErrNoLocation    = errors.New("device has no known location")
)

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds configuration for the client.
type Config struct {
	// Host is the API root, e.g. https://lns.example.org/api.
	Host string

	// Email and Password are the group credentials used to log in.
	Email    string
	Password string

	// HTTPClient defaults to an upstream.Client registered with Registry.
	HTTPClient HTTPDoer

	// Registry receives health reports for the default HTTP client.
	Registry *upstream.Registry

	// Timeout for a single HTTP attempt (default: 5s).
	Timeout time.Duration

	Logger zerolog.Logger

	// Now stamps retrieved positions (default: time.Now).
	Now func() time.Time
}

// Client talks to the network server. The login JWT is fetched lazily and
// renewed shortly before it expires or when the server rejects it.
type Client struct {
	host     string
	email    string
	password string
	http     HTTPDoer
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewClient creates a new LoRaWan client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 5 * time.Second
		}
		httpClient = upstream.NewClient(upstream.ClientConfig{
			Name:            SourceName,
			Timeout:         timeout,
			MaxRetries:      2,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Registry:        cfg.Registry,
		})
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		host:     strings.TrimSuffix(cfg.Host, "/"),
		email:    cfg.Email,
		password: cfg.Password,
		http:     httpClient,
		logger:   cfg.Logger,
		now:      now,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	JWT string `json:"jwt"`
}

type deviceResponse struct {
	Device struct {
		DevEUI string `json:"devEUI"`
		Name   string `json:"name"`
	} `json:"device"`
	LastSeenAt *time.Time    `json:"lastSeenAt"`
	Location   *locationData `json:"location"`
}

type locationData struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// Name identifies the source.
func (c *Client) Name() string {
	return SourceName
}

// Verify confirms the network server knows eui.
func (c *Client) Verify(ctx context.Context, eui string) error {
	_, err := c.getDevice(ctx, eui)
	return err
}

// Position returns the last location reported by the network server,
// stamped with the retrieval time.
func (c *Client) Position(ctx context.Context, eui string) (device.Position, error) {
	d, err := c.getDevice(ctx, eui)
	if err != nil {
		return device.Position{}, err
	}

	if d.Location == nil {
		return device.Position{}, fmt.Errorf("%w: %s", ErrNoLocation, eui)
	}

	return device.Position{
		Latitude:  d.Location.Latitude,
		Longitude: d.Location.Longitude,
		Timestamp: c.now(),
	}, nil
}

func (c *Client) getDevice(ctx context.Context, eui string) (*deviceResponse, error) {
	resp, err := c.authorized(ctx, http.MethodGet, "/devices/"+url.PathEscape(eui))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, eui)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d from devices endpoint", resp.StatusCode)
	}

	var out deviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode device response: %w", err)
	}
	return &out, nil
}

// authorized sends an authenticated request, logging in again once if the
// server answers 401.
func (c *Client) authorized(ctx context.Context, method, path string) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.jwt(ctx)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, method, c.host+path, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set(authHeader, "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request %s: %w", path, err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			c.invalidate(token)
			continue
		}
		return resp, nil
	}
}

// jwt returns a valid token, logging in if needed.
func (c *Client) jwt(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && (c.expires.IsZero() || c.now().Add(tokenSkew).Before(c.expires)) {
		return c.token, nil
	}

	token, err := c.login(ctx)
	if err != nil {
		return "", err
	}

	c.token = token
	c.expires = expiry(token)
	c.logger.Info().Time("expires", c.expires).Msg("lorawan token retrieved")
	return token, nil
}

func (c *Client) invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
	}
}

func (c *Client) login(ctx context.Context) (string, error) {
	body, err := json.Marshal(loginRequest{Email: c.email, Password: c.password})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/internal/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrLoginFailed, resp.StatusCode)
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrLoginFailed, err)
	}
	if out.JWT == "" {
		return "", fmt.Errorf("%w: empty token", ErrLoginFailed)
	}
	return out.JWT, nil
}

// expiry reads the exp claim without verifying the signature; the token is
// only ever sent back to the server that issued it. A zero time means the
// token carries no expiry.
func expiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
