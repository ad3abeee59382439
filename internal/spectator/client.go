package spectator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ConsumerPath is the prefix every spectator consumer route lives under.
const ConsumerPath = "/observer-mode/rest/consumer"

const defaultTimeout = 10 * time.Second

// ErrUnexpectedStatus is wrapped by every error caused by a non-200 response.
var ErrUnexpectedStatus = errors.New("unexpected response status")

// Client performs the read-only spectator consumer requests. It holds no
// per-session state and is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = strings.TrimSpace(ua)
	}
}

// New creates a spectator client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  "spectator-recorder",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Version fetches the server's protocol version string.
func (c *Client) Version(ctx context.Context, ep Endpoint) (string, error) {
	body, err := c.fetch(ctx, ep.BaseURL+ConsumerPath+"/version")
	if err != nil {
		return "", fmt.Errorf("fetch version: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}

// Metadata fetches the session metadata.
func (c *Client) Metadata(ctx context.Context, ep Endpoint, sessionID string) (*Metadata, error) {
	rawURL, err := sessionURL(ep, "getGameMetaData", sessionID, "0")
	if err != nil {
		return nil, err
	}
	var md Metadata
	if err := c.fetchJSON(ctx, rawURL, &md); err != nil {
		return nil, fmt.Errorf("fetch session metadata: %w", err)
	}
	return &md, nil
}

// LatestChunkInfo fetches the most recent chunk availability report.
func (c *Client) LatestChunkInfo(ctx context.Context, ep Endpoint, sessionID string) (*ChunkInfo, error) {
	rawURL, err := sessionURL(ep, "getLastChunkInfo", sessionID, "0")
	if err != nil {
		return nil, err
	}
	var info ChunkInfo
	if err := c.fetchJSON(ctx, rawURL, &info); err != nil {
		return nil, fmt.Errorf("fetch last chunk info: %w", err)
	}
	return &info, nil
}

// Chunk fetches the binary payload of one chunk.
func (c *Client) Chunk(ctx context.Context, ep Endpoint, sessionID string, chunkID uint32) ([]byte, error) {
	rawURL, err := sessionURL(ep, "getGameDataChunk", sessionID, strconv.FormatUint(uint64(chunkID), 10))
	if err != nil {
		return nil, err
	}
	body, err := c.fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch chunk %d: %w", chunkID, err)
	}
	return body, nil
}

// KeyFrame fetches the binary payload of one keyframe.
func (c *Client) KeyFrame(ctx context.Context, ep Endpoint, sessionID string, keyFrameID uint32) ([]byte, error) {
	rawURL, err := sessionURL(ep, "getKeyFrame", sessionID, strconv.FormatUint(uint64(keyFrameID), 10))
	if err != nil {
		return nil, err
	}
	body, err := c.fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch keyframe %d: %w", keyFrameID, err)
	}
	return body, nil
}

func sessionURL(ep Endpoint, route, sessionID, param string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", errors.New("session id must not be empty")
	}
	if err := ep.Validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s/%s/%s/%s/%s/token",
		ep.BaseURL,
		ConsumerPath,
		route,
		url.PathEscape(ep.PlatformID),
		url.PathEscape(sessionID),
		param,
	), nil
}

func (c *Client) fetchJSON(ctx context.Context, rawURL string, dst any) error {
	body, err := c.fetch(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return nil, fmt.Errorf("execute request (latency=%v): %w", latency, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %d (latency=%v)", ErrUnexpectedStatus, resp.StatusCode, latency)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
