// Package portunhttp is the HTTP client of the 4Portun tracking API.
package portunhttp

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

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/codemap"
	"github.com/BearBump/BoxSync/internal/integrations/tracking"
	"github.com/BearBump/BoxSync/internal/metrics"
	"github.com/BearBump/BoxSync/internal/models"
	"github.com/BearBump/BoxSync/internal/ratelimit"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

const (
	DefaultBaseURL      = "https://prod-api.4portun.com"
	DefaultAPITimeout   = 30 * time.Second
	DefaultBatchTimeout = 60 * time.Second
)

type Config struct {
	BaseURL string
	AppID   string
	Secret  string

	AuthTimeout   time.Duration
	APITimeout    time.Duration
	BatchTimeout  time.Duration
	TokenLifetime time.Duration
	RefreshBuffer time.Duration

	Retry RetryPolicy
}

type Client struct {
	baseURL      string
	appID        string
	httpc        *http.Client
	tokens       *TokenSource
	limiter      ratelimit.Limiter
	retry        RetryPolicy
	apiTimeout   time.Duration
	batchTimeout time.Duration
}

var _ tracking.Client = (*Client)(nil)

// New builds a client. A nil limiter gets the default local fixed window.
func New(cfg Config, limiter ratelimit.Limiter) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = DefaultAPITimeout
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	if limiter == nil {
		limiter = ratelimit.NewFixedWindow(ratelimit.DefaultLimit, ratelimit.DefaultWindow)
	}
	retry := cfg.Retry.withDefaults()
	httpc := &http.Client{}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		baseURL: baseURL,
		appID:   cfg.AppID,
		httpc:   httpc,
		tokens: NewTokenSource(baseURL, cfg.AppID, cfg.Secret, httpc).
			WithSettings(cfg.TokenLifetime, cfg.RefreshBuffer, cfg.AuthTimeout, retry),
		limiter:      limiter,
		retry:        retry,
		apiTimeout:   cfg.APITimeout,
		batchTimeout: cfg.BatchTimeout,
	}
}

// Tokens exposes the credential manager, mostly for tests and ops.
func (c *Client) Tokens() *TokenSource { return c.tokens }

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type batchRequest struct {
	ContainerNos []string `json:"containerNos"`
}

type subscribeRequest struct {
	ContainerNo string `json:"containerNo"`
	CallbackURL string `json:"callbackUrl,omitempty"`
}

type subscribeResponse struct {
	SubscriptionID string `json:"subscriptionId"`
	ID             string `json:"id"`
}

func (c *Client) TrackOne(ctx context.Context, containerNo string) (*models.Snapshot, error) {
	if strings.TrimSpace(containerNo) == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "containerNo is required")
	}
	var data *tracking.ContainerData
	path := "/openapi/tracking/container/" + url.PathEscape(containerNo)
	if err := c.call(ctx, "track_one", http.MethodGet, path, nil, c.apiTimeout, &data); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, apperr.New(apperr.KindNotFound, "no tracking data for %s", containerNo)
	}
	if data.ContainerNo == "" {
		data.ContainerNo = containerNo
	}
	return toSnapshot(*data)
}

func (c *Client) TrackBatch(ctx context.Context, containerNos []string) ([]*models.Snapshot, error) {
	if err := tracking.ValidateBatch(containerNos); err != nil {
		return nil, err
	}
	var data []tracking.ContainerData
	body := batchRequest{ContainerNos: containerNos}
	if err := c.call(ctx, "track_batch", http.MethodPost, "/openapi/tracking/containers/batch", body, c.batchTimeout, &data); err != nil {
		return nil, err
	}
	return toSnapshots(data)
}

func (c *Client) TrackByBL(ctx context.Context, blNo string) ([]*models.Snapshot, error) {
	if strings.TrimSpace(blNo) == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "blNo is required")
	}
	var data []tracking.ContainerData
	path := "/openapi/tracking/bl/" + url.PathEscape(blNo)
	if err := c.call(ctx, "track_bl", http.MethodGet, path, nil, c.apiTimeout, &data); err != nil {
		return nil, err
	}
	return toSnapshots(data)
}

func (c *Client) Subscribe(ctx context.Context, containerNo, callbackURL string) (tracking.SubscriptionHandle, error) {
	if strings.TrimSpace(containerNo) == "" {
		return tracking.SubscriptionHandle{}, apperr.New(apperr.KindInvalidInput, "containerNo is required")
	}
	var data subscribeResponse
	body := subscribeRequest{ContainerNo: containerNo, CallbackURL: callbackURL}
	if err := c.call(ctx, "subscribe", http.MethodPost, "/openapi/tracking/subscribe", body, c.apiTimeout, &data); err != nil {
		return tracking.SubscriptionHandle{}, err
	}
	id := data.SubscriptionID
	if id == "" {
		id = data.ID
	}
	return tracking.SubscriptionHandle{ExternalID: id}, nil
}

func (c *Client) Unsubscribe(ctx context.Context, containerNo string) error {
	if strings.TrimSpace(containerNo) == "" {
		return apperr.New(apperr.KindInvalidInput, "containerNo is required")
	}
	path := "/openapi/tracking/subscribe/" + url.PathEscape(containerNo)
	return c.call(ctx, "unsubscribe", http.MethodDelete, path, nil, c.apiTimeout, nil)
}

// call runs one provider operation under the retry policy. Each attempt
// consults the limiter, then the credential manager, then goes to the
// network. Transient failures retry, a 401 invalidates the token and retries
// once, 429 and other 4xx fail immediately.
func (c *Client) call(ctx context.Context, op, method, path string, in any, timeout time.Duration, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		payload = b
	}

	authRetried := false
	err := c.retry.run(ctx, op, func() error {
		if err := c.limiter.Admit(ctx); err != nil {
			metrics.ProviderRequestsTotal.WithLabelValues(op, "rate_limited").Inc()
			return backoff.Permanent(err)
		}
		token, err := c.tokens.Token(ctx)
		if err != nil {
			metrics.ProviderRequestsTotal.WithLabelValues(op, "auth_failed").Inc()
			return backoff.Permanent(err)
		}

		status, env, err := c.roundTrip(ctx, op, method, path, payload, token, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			metrics.ProviderRequestsTotal.WithLabelValues(op, "retry").Inc()
			return err
		}

		if status == http.StatusUnauthorized || env.Code == http.StatusUnauthorized {
			c.tokens.Invalidate()
			if authRetried {
				metrics.ProviderRequestsTotal.WithLabelValues(op, "auth_failed").Inc()
				return backoff.Permanent(apperr.New(apperr.KindAuthFailed, "provider rejected credentials"))
			}
			authRetried = true
			metrics.ProviderRequestsTotal.WithLabelValues(op, "retry").Inc()
			return fmt.Errorf("provider http 401")
		}
		if status == http.StatusTooManyRequests || env.Code == http.StatusTooManyRequests {
			metrics.ProviderRequestsTotal.WithLabelValues(op, "rate_limited").Inc()
			return backoff.Permanent(apperr.New(apperr.KindRateLimited, "provider rate limit exceeded"))
		}
		if status == http.StatusNotFound {
			metrics.ProviderRequestsTotal.WithLabelValues(op, "client_error").Inc()
			return backoff.Permanent(apperr.New(apperr.KindNotFound, "provider has no data"))
		}
		if status >= 400 && status < 500 {
			metrics.ProviderRequestsTotal.WithLabelValues(op, "client_error").Inc()
			return backoff.Permanent(apperr.Wrap(apperr.KindProviderError,
				fmt.Errorf("http %d: %s", status, env.Message), "provider rejected request"))
		}
		if status >= 500 {
			metrics.ProviderRequestsTotal.WithLabelValues(op, "retry").Inc()
			return fmt.Errorf("provider http %d", status)
		}
		if env.Code != http.StatusOK {
			metrics.ProviderRequestsTotal.WithLabelValues(op, "client_error").Inc()
			return backoff.Permanent(apperr.Wrap(apperr.KindProviderError,
				fmt.Errorf("code %d: %s", env.Code, env.Message), "provider returned an error"))
		}

		if out != nil && len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, out); err != nil {
				metrics.ProviderRequestsTotal.WithLabelValues(op, "client_error").Inc()
				return backoff.Permanent(apperr.Wrap(apperr.KindProviderError, err, "provider payload malformed"))
			}
		}
		metrics.ProviderRequestsTotal.WithLabelValues(op, "ok").Inc()
		return nil
	})
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) != apperr.KindInternal {
		return err
	}
	metrics.ProviderRequestsTotal.WithLabelValues(op, "exhausted").Inc()
	return apperr.Wrap(apperr.KindProviderError, err, "provider request failed")
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, payload []byte, token string, timeout time.Duration) (int, envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, envelope{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("appId", c.appID)
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.httpc.Do(req)
	metrics.ProviderRequestDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if err != nil {
		return 0, envelope{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, envelope{}, errors.Wrap(err, "read body")
	}
	var env envelope
	if len(bytes.TrimSpace(b)) > 0 {
		if err := json.Unmarshal(b, &env); err != nil && resp.StatusCode/100 == 2 {
			return resp.StatusCode, envelope{}, errors.Wrap(err, "decode envelope")
		}
	}
	if resp.StatusCode/100 == 2 && env.Code == 0 {
		env.Code = http.StatusOK
	}
	return resp.StatusCode, env, nil
}

func toSnapshot(d tracking.ContainerData) (*models.Snapshot, error) {
	s, err := d.ToSnapshot()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProviderError, err, "provider payload malformed")
	}
	codemap.Normalize(s)
	return s, nil
}

func toSnapshots(data []tracking.ContainerData) ([]*models.Snapshot, error) {
	out := make([]*models.Snapshot, 0, len(data))
	for _, d := range data {
		s, err := toSnapshot(d)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
