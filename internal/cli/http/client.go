package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const userHeader = "X-User-Id"

// ResponseInfo carries response details.
type ResponseInfo struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Envelope is the judge API response wrapper.
type Envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Details json.RawMessage `json:"details,omitempty"`
	TraceID string          `json:"trace_id,omitempty"`
}

// Envelope decodes the body. Non-JSON bodies are an error.
func (r ResponseInfo) Envelope() (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(r.Body, &env); err != nil {
		return env, fmt.Errorf("decode response failed: %w", err)
	}
	return env, nil
}

// Client talks to the judge HTTP API.
type Client struct {
	baseURL string
	timeout time.Duration
	userID  func() string
	token   string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration, userID func() string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		userID:  userID,
		http:    &http.Client{},
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) { c.token = token }

func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.timeout = timeout
	}
}

func (c *Client) Do(ctx context.Context, method, path string, headers map[string]string, body []byte) (ResponseInfo, error) {
	var info ResponseInfo
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return info, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	c.setUser(req.Header)

	start := time.Now()
	resp, err := c.http.Do(req)
	info.Duration = time.Since(start)
	if err != nil {
		return info, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	info.StatusCode = resp.StatusCode
	info.Headers = resp.Header
	if info.Body, err = io.ReadAll(resp.Body); err != nil {
		return info, fmt.Errorf("read response body failed: %w", err)
	}
	return info, nil
}

// Watch streams submission snapshots until the server closes the socket.
func (c *Client) Watch(ctx context.Context, submissionID string, fn func(json.RawMessage) error) error {
	u, err := url.Parse(c.baseURL + "/api/v1/submissions/" + url.PathEscape(submissionID) + "/watch")
	if err != nil {
		return fmt.Errorf("build watch url failed: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	header := http.Header{}
	c.setUser(header)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			return fmt.Errorf("watch rejected: HTTP %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return fmt.Errorf("watch dial failed: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("watch stream failed: %w", err)
		}
		if err := fn(data); err != nil {
			return err
		}
	}
}

func (c *Client) setUser(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	if c.userID == nil {
		return
	}
	if id := c.userID(); id != "" {
		h.Set(userHeader, id)
	}
}
