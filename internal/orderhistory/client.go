// Package orderhistory answers whether a customer already has a paid order by
// asking the order service over HTTP.
package orderhistory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/kustom-promo/internal/resilience"
)

// Client queries the remote order service.
type Client struct {
	baseURL string
	http    resilience.HTTPClient
	logger  zerolog.Logger
}

// Config groups Client settings.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Breaker     *resilience.Breaker
	HTTPClient  *http.Client
	Logger      *zerolog.Logger
}

type paidOrdersResponse struct {
	Data struct {
		HasPaidOrder bool `json:"hasPaidOrder"`
	} `json:"data"`
}

// NewClient constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("orderhistory: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("orderhistory: invalid base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(cfg.Timeout)
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "order_history").Logger()
	}
	return &Client{
		baseURL: base,
		http: resilience.HTTPClient{
			Client:      httpClient,
			Breaker:     cfg.Breaker,
			BaseBackoff: cfg.BaseBackoff,
			MaxAttempts: cfg.MaxAttempts,
			Jitter:      cfg.Jitter,
			Timeout:     cfg.Timeout,
		},
		logger: logger,
	}, nil
}

// NewHTTPClient returns an instrumented http.Client for outbound calls.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// HasPriorPaidOrder reports whether userID has at least one paid order. An
// empty user never has one.
func (c *Client) HasPriorPaidOrder(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, nil
	}
	endpoint := fmt.Sprintf("%s/v1/users/%s/paid-orders", c.baseURL, url.PathEscape(userID))
	var body paidOrdersResponse
	if err := c.http.GetJSON(ctx, endpoint, nil, &body); err != nil {
		var statusErr *resilience.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return false, nil
		}
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("order history lookup failed")
		return false, fmt.Errorf("order history: %w", err)
	}
	return body.Data.HasPaidOrder, nil
}
