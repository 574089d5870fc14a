package api

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pion/logging"
	"github.com/pkg/errors"
)

// DefaultTimeout bounds a single room server request.
const DefaultTimeout = 10 * time.Second

// ErrHTTPStatus is wrapped by errors for non-200 responses.
var ErrHTTPStatus = errors.New("non-200 response")

// Client talks to the room server over HTTP.
type Client struct {
	http *http.Client
	log  logging.LeveledLogger
}

// NewClient creates an API client. A nil httpClient uses one with
// DefaultTimeout; a nil factory uses the pion default.
func NewClient(httpClient *http.Client, lf logging.LoggerFactory) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Client{http: httpClient, log: lf.NewLogger("api")}
}

// Do sends body with the given method and returns the response body.
func (c *Client) Do(ctx context.Context, method, url, body string) (string, error) {
	return c.do(ctx, method, url, body, nil)
}

// DoAsync runs Do on a new goroutine and hands the result to done there.
// Callers hop back onto their own looper from done.
func (c *Client) DoAsync(ctx context.Context, method, url, body string, done func(response string, err error)) {
	go func() {
		resp, err := c.Do(ctx, method, url, body)
		if done != nil {
			done(resp, err)
		}
	}()
}

func (c *Client) do(ctx context.Context, method, url, body string, header http.Header) (string, error) {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return "", errors.Wrap(err, "create http request")
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	for k, v := range header {
		req.Header[k] = v
	}

	c.log.Debugf("%s %s", method, url)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "%s %s", method, url)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "read response")
	}

	if resp.StatusCode != http.StatusOK {
		return "", errors.Wrapf(ErrHTTPStatus, "%s to URL %s: %d", method, url, resp.StatusCode)
	}
	return string(respBody), nil
}
