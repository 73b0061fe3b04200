// Package shopify implements the Admin REST API surface the scanner
// consumes: paginated order search, collection membership, customer lookup,
// and customer tag/metafield mutation.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	apiVersion = "2025-01"
	pageLimit  = 250

	// defaultPause keeps the strictly sequential call pattern under the
	// store's shared ~2 req/s throttle.
	defaultPause = 600 * time.Millisecond
)

// NotFoundError indicates the store has no resource with the requested id.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ValidationError is a 422 from the store on save: the payload was rejected,
// retrying the same request cannot succeed.
type ValidationError struct {
	URL  string
	Body string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("store rejected request to %s: %s", e.URL, e.Body)
}

// Client is a session-scoped handle on one store. It is passed explicitly to
// each component; there is no process-wide session state.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	storeURL   string // host only, e.g. "example.myshopify.com"; used for storefront URLs
	baseURL    string // scheme+host for Admin API calls
	token      string
	pause      time.Duration
}

// Config holds client construction options.
type Config struct {
	StoreURL     string
	AccessToken  string // static bearer token; wins over client credentials
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	Logger       *slog.Logger
	Pause        time.Duration // 0 means defaultPause
}

// New creates a client, exchanging client credentials for an access token
// when no static token is configured. An authentication failure here is
// fatal for the run; the engine never retries token acquisition.
func New(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg.StoreURL == "" {
		return nil, errors.New("store URL required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	pause := cfg.Pause
	if pause == 0 {
		pause = defaultPause
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	raw := strings.TrimSuffix(cfg.StoreURL, "/")
	baseURL := raw
	if !strings.Contains(raw, "://") {
		baseURL = "https://" + raw
	}
	host := strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")

	c := &Client{
		httpClient: httpClient,
		logger:     logger,
		storeURL:   host,
		baseURL:    baseURL,
		token:      cfg.AccessToken,
		pause:      pause,
	}

	if c.token == "" {
		if cfg.ClientID == "" || cfg.ClientSecret == "" {
			return nil, errors.New("access token or client credentials required")
		}
		token, err := c.exchangeToken(ctx, cfg.ClientID, cfg.ClientSecret)
		if err != nil {
			return nil, fmt.Errorf("token exchange: %w", err)
		}
		c.token = token
	}

	return c, nil
}

// exchangeToken obtains a fresh access token via the client-credentials
// grant. The token lives for the run; there is no mid-run refresh.
func (c *Client) exchangeToken(ctx context.Context, clientID, clientSecret string) (string, error) {
	c.logger.Info("Requesting access token via client credentials", "store", c.storeURL)

	payload, err := json.Marshal(map[string]string{
		"client_id":     clientID,
		"client_secret": clientSecret,
		"grant_type":    "client_credentials",
	})
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}

	url := c.baseURL + "/admin/oauth/access_token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("token request returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", errors.New("token response contained no access token")
	}

	c.logger.Info("Access token obtained")
	return tokenResp.AccessToken, nil
}

// apiURL builds a versioned Admin API URL for the given resource path.
func (c *Client) apiURL(path string) string {
	return fmt.Sprintf("%s/admin/api/%s/%s", c.baseURL, apiVersion, path)
}

// get performs a paced, retried GET, decodes the JSON body into out, and
// returns the rel="next" pagination URL when the store supplies one.
func (c *Client) get(ctx context.Context, url, resource, id string, out any) (next string, err error) {
	err = retry.Do(
		func() error {
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
			if reqErr != nil {
				return fmt.Errorf("create request: %w", reqErr)
			}
			req.Header.Set("X-Shopify-Access-Token", c.token)
			req.Header.Set("Accept", "application/json")

			start := time.Now()
			resp, doErr := c.httpClient.Do(req)
			if doErr != nil {
				c.logger.Warn("Store request failed, will retry", "url", url, "error", doErr)
				return doErr
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			c.logger.Debug("Store request completed",
				"method", http.MethodGet,
				"url", url,
				"status_code", resp.StatusCode,
				"duration_ms", time.Since(start).Milliseconds())

			switch resp.StatusCode {
			case http.StatusOK:
			case http.StatusNotFound:
				return retry.Unrecoverable(&NotFoundError{Resource: resource, ID: id})
			case http.StatusTooManyRequests:
				c.logger.Warn("Store throttled request, will retry", "url", url)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			default:
				c.logger.Warn("Store returned non-OK status, will retry", "url", url, "status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			if decodeErr := json.NewDecoder(resp.Body).Decode(out); decodeErr != nil {
				return fmt.Errorf("decode response: %w", decodeErr)
			}
			next = nextPageURL(resp.Header.Get("Link"))
			return nil
		},
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			c.logger.Info("Retrying store request after error", "attempt", n, "url", url, "error", retryErr)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("after retries: %w", err)
	}

	c.pace(ctx)
	return next, nil
}

// put performs a paced, retried PUT with a JSON body. Validation failures
// (HTTP 422) are never retried.
func (c *Client) put(ctx context.Context, url string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	err = retry.Do(
		func() error {
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
			if reqErr != nil {
				return fmt.Errorf("create request: %w", reqErr)
			}
			req.Header.Set("X-Shopify-Access-Token", c.token)
			req.Header.Set("Content-Type", "application/json")

			start := time.Now()
			resp, doErr := c.httpClient.Do(req)
			if doErr != nil {
				c.logger.Warn("Store request failed, will retry", "url", url, "error", doErr)
				return doErr
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			c.logger.Debug("Store request completed",
				"method", http.MethodPut,
				"url", url,
				"status_code", resp.StatusCode,
				"duration_ms", time.Since(start).Milliseconds())

			switch resp.StatusCode {
			case http.StatusOK, http.StatusCreated:
				return nil
			case http.StatusNotFound:
				return retry.Unrecoverable(&NotFoundError{Resource: "resource", ID: url})
			case http.StatusUnprocessableEntity:
				respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				return retry.Unrecoverable(&ValidationError{URL: url, Body: string(respBody)})
			default:
				c.logger.Warn("Store returned non-OK status, will retry", "url", url, "status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}
		},
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			c.logger.Info("Retrying store request after error", "attempt", n, "url", url, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("after retries: %w", err)
	}

	c.pace(ctx)
	return nil
}

// pace sleeps between store calls to stay under the shared rate limit.
func (c *Client) pace(ctx context.Context) {
	if c.pause <= 0 {
		return
	}
	t := time.NewTimer(c.pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// nextPageURL extracts the rel="next" target from a Link header.
// Shopify paginates with `<url>; rel="previous", <url>; rel="next"`.
func nextPageURL(header string) string {
	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		url := strings.Trim(strings.TrimSpace(segments[0]), "<>")
		for _, seg := range segments[1:] {
			if strings.TrimSpace(seg) == `rel="next"` {
				return url
			}
		}
	}
	return ""
}
