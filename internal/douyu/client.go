package douyu

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/livarr/livarr/internal/config"
	"github.com/livarr/livarr/internal/httpclient"
	"github.com/livarr/livarr/internal/observability"
)

// browserUserAgent is sent on every API call. The platform serves different
// (and sometimes empty) responses to non-browser user agents.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// Client carries the shared transport, identity and headers for Douyu API
// calls. The resolver and monitor are built on top of one Client.
type Client struct {
	http    *httpclient.Client
	baseURL string
	did     string
	logger  *slog.Logger
}

// NewClient builds a Client from configuration. When hc is nil a resilient
// client with the configured request timeout is created.
func NewClient(cfg config.DouyuConfig, logger *slog.Logger, hc *httpclient.Client) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithComponent(logger, "douyu")

	if hc == nil {
		hcCfg := httpclient.DefaultConfig()
		hcCfg.Timeout = cfg.RequestTimeout
		hcCfg.UserAgent = browserUserAgent
		hcCfg.Logger = logger
		hc = httpclient.New(hcCfg)
	}

	return &Client{
		http:    hc,
		baseURL: strings.TrimRight(cfg.APIBase, "/"),
		did:     cfg.DID,
		logger:  logger,
	}
}

// BaseURL returns the platform root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// DID returns the device identifier sent with signed requests.
func (c *Client) DID() string {
	return c.did
}

// Headers returns the request headers the platform expects from a web player.
// Downstream fetchers (ffmpeg) must send the same set.
func (c *Client) Headers() map[string]string {
	return map[string]string{
		"User-Agent": browserUserAgent,
		"Referer":    c.baseURL,
		"Origin":     c.baseURL,
	}
}

// getJSON issues a GET with platform headers and decodes the JSON response.
// Non-200 statuses are returned as errors.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.applyHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) applyHeaders(req *http.Request) {
	for k, v := range c.Headers() {
		req.Header.Set(k, v)
	}
}

// nowUnix is swapped in tests to pin signature timestamps.
var nowUnix = func() int64 { return time.Now().Unix() }

// flexInt decodes JSON numbers that the platform sometimes serves as quoted
// strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing number %q: %w", s, err)
	}
	*f = flexInt(n)
	return nil
}
