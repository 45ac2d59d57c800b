// Package client is a Go client for the Dentalogic HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/dentalogic/api"
	"github.com/nvr-ai/dentalogic/images"
)

// Default timeouts of the mobile client.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultHealthTimeout = 5 * time.Second
)

// ErrServerUnreachable wraps transport failures.
var ErrServerUnreachable = errors.New("Tidak dapat terhubung ke server")

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return e.Detail
}

// Client talks to one server.
type Client struct {
	baseURL       string
	http          *http.Client
	timeout       time.Duration
	healthTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithTimeout bounds prediction and history requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHealthTimeout bounds health checks.
func WithHealthTimeout(d time.Duration) Option {
	return func(c *Client) { c.healthTimeout = d }
}

// New returns a client for baseURL, e.g. "http://192.168.1.10:8000".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid server url %q", baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, errors.Errorf("invalid server url %q: need http(s)://host[:port]", baseURL)
	}

	c := &Client{
		baseURL:       strings.TrimRight(u.String(), "/"),
		http:          &http.Client{},
		timeout:       DefaultTimeout,
		healthTimeout: DefaultHealthTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health fetches GET /health.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.do(ctx, c.healthTimeout, http.MethodGet, "/health", nil, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IsHealthy reports whether the server is healthy with its model loaded.
// Any failure counts as unhealthy.
func (c *Client) IsHealthy(ctx context.Context) bool {
	h, err := c.Health(ctx)
	return err == nil && h.Status == api.StatusHealthy && h.ModelLoaded
}

// Predict uploads an image read from r. The MIME type follows the extension
// of name; an empty name becomes "dental-image.jpg".
//
// Arguments:
//   - ctx: Request context.
//   - name: File name sent with the upload.
//   - r: The encoded image.
//
// Returns:
//   - *api.PredictionResponse: The prediction.
//   - error: *APIError for server errors, ErrServerUnreachable for transport
//     failures.
func (c *Client) Predict(ctx context.Context, name string, r io.Reader) (*api.PredictionResponse, error) {
	name, mime := uploadName(name)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", mime)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, errors.Wrap(err, "creating upload")
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, errors.Wrap(err, "reading image")
	}
	if err := mw.Close(); err != nil {
		return nil, errors.Wrap(err, "creating upload")
	}

	var resp api.PredictionResponse
	if err := c.do(ctx, c.timeout, http.MethodPost, "/predict", &body, mw.FormDataContentType(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PredictFile uploads the image at path.
func (c *Client) PredictFile(ctx context.Context, path string) (*api.PredictionResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening image")
	}
	defer f.Close()
	return c.Predict(ctx, filepath.Base(path), f)
}

// History lists stored scans, newest first. limit <= 0 returns all.
func (c *Client) History(ctx context.Context, limit int) (*api.HistoryResponse, error) {
	path := "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp api.HistoryResponse
	if err := c.do(ctx, c.timeout, http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HistoryEntry fetches one stored scan.
func (c *Client) HistoryEntry(ctx context.Context, id string) (*api.HistoryEntry, error) {
	var resp api.HistoryEntry
	if err := c.do(ctx, c.timeout, http.MethodGet, "/history/"+url.PathEscape(id), nil, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteHistoryEntry removes one stored scan.
func (c *Client) DeleteHistoryEntry(ctx context.Context, id string) error {
	return c.do(ctx, c.timeout, http.MethodDelete, "/history/"+url.PathEscape(id), nil, "", nil)
}

// AnnotatedImage decodes the annotated image of a prediction.
func AnnotatedImage(resp *api.PredictionResponse) (image.Image, error) {
	if resp == nil || resp.AnnotatedImage == "" {
		return nil, errors.New("response has no annotated image")
	}
	data, err := images.DecodeDataURL(resp.AnnotatedImage)
	if err != nil {
		return nil, err
	}
	img, _, err := images.Decode(data)
	return img, err
}

func (c *Client) do(ctx context.Context, timeout time.Duration, method, path string, body io.Reader, contentType string, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(ErrServerUnreachable,
			"pastikan server berjalan di %s (%v); untuk device fisik, ganti localhost dengan IP komputer Anda", c.baseURL, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.Wrap(err, "reading response")
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return newAPIError(res, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "decoding response")
	}
	return nil
}

// newAPIError takes the JSON detail, then the status text, then a generic
// message.
func newAPIError(res *http.Response, data []byte) *APIError {
	e := &APIError{StatusCode: res.StatusCode}

	var body api.ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Detail != "" {
		e.Detail = body.Detail
		return e
	}
	if text := http.StatusText(res.StatusCode); text != "" {
		e.Detail = text
		return e
	}
	e.Detail = fmt.Sprintf("Server error: %d", res.StatusCode)
	return e
}

// uploadName returns the file name and MIME type of an upload.
func uploadName(name string) (string, string) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		ext = "jpg"
	}
	if strings.TrimSpace(name) == "" {
		name = "dental-image." + ext
	}
	switch ext {
	case "png":
		return name, "image/png"
	default:
		return name, "image/jpeg"
	}
}
