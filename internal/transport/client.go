package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"slidehub/internal/platform/metrics"
	"slidehub/pkg/platform/sentinel"
)

const (
	defaultTimeout        = 60 * time.Second
	defaultConnectTimeout = 5 * time.Second
	defaultTLSTimeout     = 5 * time.Second
)

// Authorizer signs an outgoing request with the active session's
// credentials. Implemented by the auth gateway.
type Authorizer interface {
	AuthorizeRequest(req *http.Request)
}

// Client is the request/response primitive every remote call goes through.
// It owns URL construction, auth header attachment, and the mapping of
// non-2xx answers to typed errors. Resource-specific clients layer on top.
type Client struct {
	baseURL string
	http    *http.Client
	auth    Authorizer
	log     *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// do not use http.DefaultClient: it has no connect or TLS handshake timeout
// and a stalled server would hang tile reads forever.
func defaultHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: defaultConnectTimeout}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: defaultTLSTimeout,
		},
		Timeout: timeout,
	}
}

func New(baseURL string, auth Authorizer, log *slog.Logger, m *metrics.Metrics) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    defaultHTTPClient(defaultTimeout),
		auth:    auth,
		log:     log,
		metrics: m,
		tracer:  otel.Tracer("slidehub/transport"),
	}
}

// SetTimeout replaces the whole-request timeout; used by wiring code.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.http = defaultHTTPClient(timeout)
}

// BaseURL returns the server the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Path joins and escapes path segments under the base URL.
func (c *Client) Path(segments ...string) string {
	var b strings.Builder
	for _, segment := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(segment))
	}
	return b.String()
}

// encodeQuery renders values with %20 for space. url.Values.Encode emits
// '+', which some slide backends decode literally in filenames.
func encodeQuery(query url.Values) string {
	return strings.ReplaceAll(query.Encode(), "+", "%20")
}

// Do performs one request against the server and returns the response body.
// Non-2xx statuses come back as *StatusError; network-level failures wrap
// sentinel.ErrUnavailable.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) ([]byte, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + encodeQuery(query)
	}

	ctx, span := c.tracer.Start(ctx, "transport.do",
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.auth != nil {
		c.auth.AuthorizeRequest(req)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if c.metrics != nil {
		c.metrics.RequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		c.count(method, "network_error")
		return nil, fmt.Errorf("%s %s: %w: %w", method, path, sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		c.count(method, "read_error")
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.count(method, fmt.Sprintf("status_%d", resp.StatusCode))
		return nil, &StatusError{Method: method, Path: path, Status: resp.StatusCode}
	}
	c.count(method, "ok")
	return payload, nil
}

func (c *Client) count(method, outcome string) {
	if c.metrics != nil {
		c.metrics.RequestsTotal.WithLabelValues(method, outcome).Inc()
	}
}

func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return c.Do(ctx, http.MethodGet, path, query, nil, "")
}

// GetText fetches a plain-text body, trimmed.
func (c *Client) GetText(ctx context.Context, path string, query url.Values) (string, error) {
	payload, err := c.Get(ctx, path, query)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(payload)), nil
}

// GetBool fetches the boolean text bodies the auth endpoints answer with.
func (c *Client) GetBool(ctx context.Context, path string, query url.Values) (bool, error) {
	text, err := c.GetText(ctx, path, query)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(text, "true"), nil
}

func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	payload, err := c.Get(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("GET %s: decode response: %w", path, err)
	}
	return nil
}

func (c *Client) Post(ctx context.Context, path string, query url.Values, body []byte, contentType string) ([]byte, error) {
	return c.Do(ctx, http.MethodPost, path, query, bytes.NewReader(body), contentType)
}

func (c *Client) PostJSON(ctx context.Context, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("POST %s: encode request: %w", path, err)
	}
	payload, err := c.Post(ctx, path, nil, body, "application/json")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("POST %s: decode response: %w", path, err)
	}
	return nil
}

// PostForm sends a form-encoded body.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	return c.Do(ctx, http.MethodPost, path, nil,
		strings.NewReader(encodeQuery(form)), "application/x-www-form-urlencoded")
}

// PostMultipart sends a single file part under fieldName.
func (c *Client) PostMultipart(ctx context.Context, path string, query url.Values, fieldName, filename string, content []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(fieldName, filename)
	if err != nil {
		return nil, fmt.Errorf("POST %s: build multipart: %w", path, err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("POST %s: build multipart: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("POST %s: build multipart: %w", path, err)
	}
	return c.Do(ctx, http.MethodPost, path, query, &buf, writer.FormDataContentType())
}

func (c *Client) Patch(ctx context.Context, path string, body []byte, contentType string) ([]byte, error) {
	return c.Do(ctx, http.MethodPatch, path, nil, bytes.NewReader(body), contentType)
}

func (c *Client) PatchJSON(ctx context.Context, path string, in any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("PATCH %s: encode request: %w", path, err)
	}
	_, err = c.Patch(ctx, path, body, "application/json")
	return err
}

func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.Do(ctx, http.MethodDelete, path, nil, nil, "")
	return err
}

// FetchBytes performs a GET against an absolute URL outside the base URL
// tree, still signed by the session. Tile render URLs use this.
func (c *Client) FetchBytes(ctx context.Context, absoluteURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, absoluteURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.auth != nil {
		c.auth.AuthorizeRequest(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.count(http.MethodGet, "network_error")
		return nil, fmt.Errorf("GET %s: %w: %w", absoluteURL, sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("GET %s: read body: %w", absoluteURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.count(http.MethodGet, fmt.Sprintf("status_%d", resp.StatusCode))
		return nil, &StatusError{Method: http.MethodGet, Path: absoluteURL, Status: resp.StatusCode}
	}
	c.count(http.MethodGet, "ok")
	return payload, nil
}
