package polar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"polar-fitness-sync/internal/metrics"
)

const (
	DefaultBaseURL  = "https://www.polaraccesslink.com/v3"
	DefaultTokenURL = "https://polarremote.com/v2/oauth2/token"
	DefaultAuthURL  = "https://flow.polar.com/oauth2/authorization"

	breakerName    = "polar-api"
	requestTimeout = 30 * time.Second
)

var (
	// ErrNotFound matches any 404 from AccessLink and dates with no data
	ErrNotFound = errors.New("polar: not found")

	// ErrNoNewData is returned when a transaction has nothing to deliver (204)
	ErrNoNewData = errors.New("polar: no new data")

	// ErrVendorUnavailable is returned while the circuit breaker is open
	ErrVendorUnavailable = errors.New("polar: vendor unavailable")
)

// HTTPError represents a non-2xx response from AccessLink.
// The status and body are carried verbatim.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("polar API error (status %d): %s", e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses
func (e *HTTPError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsNotFound returns true if the error represents a 404
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// StatusCode returns the vendor status carried by err, or 0
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// Options configures a Client
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	BaseURL  string
	TokenURL string
	AuthURL  string

	// RequestsPerSecond paces outbound calls. Zero disables pacing.
	RequestsPerSecond float64

	// BreakerFailures is the number of consecutive 5xx or transport
	// failures that opens the circuit. Zero uses 5.
	BreakerFailures int
	BreakerTimeout  time.Duration

	HTTPClient *http.Client
}

// Client is a Polar AccessLink API client.
// Every operation issues exactly one HTTP call and never retries.
type Client struct {
	httpClient *http.Client
	opts       Options
	logger     *slog.Logger
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[*response]
	rateLimits *RateLimitTracker
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// auth selects the credentials attached to a request
type auth struct {
	bearer string
	basic  bool
}

func bearer(token string) auth { return auth{bearer: token} }

var basic = auth{basic: true}

// NewClient creates a new AccessLink client
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.TokenURL == "" {
		opts.TokenURL = DefaultTokenURL
	}
	if opts.AuthURL == "" {
		opts.AuthURL = DefaultAuthURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BreakerFailures <= 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = time.Minute
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	c := &Client{
		httpClient: httpClient,
		opts:       opts,
		logger:     slog.Default(),
		limiter:    rate.NewLimiter(limit, 1),
		rateLimits: NewRateLimitTracker(),
	}
	c.breaker = newBreaker(uint32(opts.BreakerFailures), opts.BreakerTimeout, c.logger)
	return c
}

func newBreaker(failures uint32, timeout time.Duration, logger *slog.Logger) *gobreaker.CircuitBreaker[*response] {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	return gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Only transport errors and 5xx count against the vendor.
		// A caller giving up is not a vendor failure.
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			code := StatusCode(err)
			return code != 0 && code < 500
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// RateLimits returns the last quota reported by AccessLink
func (c *Client) RateLimits() RateLimitStatus {
	return c.rateLimits.Status()
}

// BreakerState returns the circuit breaker state name
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// resolve turns a path into a full URL; absolute resource URIs pass through
func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.opts.BaseURL + path
}

// doJSON marshals payload (if any) and performs the request
func (c *Client) doJSON(ctx context.Context, op, method, path string, a auth, payload any) (*response, error) {
	var body io.Reader
	contentType := ""
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}
	return c.doRequest(ctx, op, method, c.resolve(path), a, body, contentType)
}

// doRequest performs one HTTP call. Non-2xx responses become *HTTPError.
func (c *Client) doRequest(ctx context.Context, op, method, url string, a auth, body io.Reader, contentType string) (*response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	resp, err := c.breaker.Execute(func() (*response, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if a.basic {
			req.SetBasicAuth(c.opts.ClientID, c.opts.ClientSecret)
		} else if a.bearer != "" {
			req.Header.Set("Authorization", "Bearer "+a.bearer)
		}

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer httpResp.Body.Close()

		respBody, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		r := &response{status: httpResp.StatusCode, header: httpResp.Header, body: respBody}
		if r.status < 200 || r.status >= 300 {
			return r, &HTTPError{StatusCode: r.status, Body: string(respBody)}
		}
		return r, nil
	})
	duration := time.Since(start)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.PolarAPIRequestsTotal.WithLabelValues(op, metrics.StatusBreakerRejected).Inc()
		c.logger.Warn("polar_api_request rejected", "operation", op, "method", method, "breaker", c.breaker.State().String())
		return nil, fmt.Errorf("%w: %v", ErrVendorUnavailable, err)
	}

	if resp == nil {
		metrics.PolarAPIRequestsTotal.WithLabelValues(op, metrics.StatusTransportError).Inc()
		c.logger.Error("polar_api_request failed", "operation", op, "method", method, "error", err, "duration_ms", duration.Milliseconds())
		return nil, fmt.Errorf("%s request failed: %w", op, err)
	}

	c.rateLimits.Observe(resp.header)

	statusStr := strconv.Itoa(resp.status)
	metrics.PolarAPIRequestsTotal.WithLabelValues(op, statusStr).Inc()
	metrics.PolarAPIRequestDuration.WithLabelValues(op, statusStr).Observe(duration.Seconds())
	c.logger.Info("polar_api_request", "operation", op, "method", method, "status", resp.status, "duration_ms", duration.Milliseconds())

	return resp, err
}

func decode[T any](r *response) (T, error) {
	var out T
	if err := json.Unmarshal(r.body, &out); err != nil {
		return out, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}
