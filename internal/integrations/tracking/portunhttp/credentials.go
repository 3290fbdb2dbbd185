package portunhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

const (
	DefaultTokenLifetime = 24 * time.Hour
	DefaultRefreshBuffer = 5 * time.Minute
	DefaultAuthTimeout   = 10 * time.Second

	tokenPath = "/openapi/auth/token"
)

// TokenSource owns the provider bearer token. Check-and-refresh is serialized
// so concurrent callers never trigger duplicate refreshes.
type TokenSource struct {
	baseURL string
	appID   string
	secret  string
	httpc   *http.Client

	lifetime      time.Duration
	refreshBuffer time.Duration
	timeout       time.Duration
	retry         RetryPolicy
	now           func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewTokenSource(baseURL, appID, secret string, httpc *http.Client) *TokenSource {
	if httpc == nil {
		httpc = &http.Client{}
	}
	return &TokenSource{
		baseURL:       strings.TrimRight(baseURL, "/"),
		appID:         appID,
		secret:        secret,
		httpc:         httpc,
		lifetime:      DefaultTokenLifetime,
		refreshBuffer: DefaultRefreshBuffer,
		timeout:       DefaultAuthTimeout,
		retry:         DefaultRetryPolicy(),
		now:           time.Now,
	}
}

func (s *TokenSource) WithSettings(lifetime, refreshBuffer, timeout time.Duration, retry RetryPolicy) *TokenSource {
	if lifetime > 0 {
		s.lifetime = lifetime
	}
	if refreshBuffer > 0 {
		s.refreshBuffer = refreshBuffer
	}
	if timeout > 0 {
		s.timeout = timeout
	}
	s.retry = retry.withDefaults()
	return s
}

func (s *TokenSource) WithClock(now func() time.Time) *TokenSource {
	s.now = now
	return s
}

// Token returns a token that is valid for at least the refresh buffer,
// refreshing it first when needed. It never returns a stale token: a failed
// refresh is an apperr.ErrAuthFailed.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expiresAt.Add(-s.refreshBuffer)) {
		return s.token, nil
	}

	var token string
	err := s.retry.run(ctx, "auth", func() error {
		t, err := s.requestToken(ctx)
		if err != nil {
			return err
		}
		token = t
		return nil
	})
	if err != nil {
		s.token = ""
		s.expiresAt = time.Time{}
		metrics.TokenRefreshesTotal.WithLabelValues("failed").Inc()
		return "", apperr.Wrap(apperr.KindAuthFailed, err, "provider authentication failed")
	}

	s.token = token
	s.expiresAt = s.now().Add(s.lifetime)
	metrics.TokenRefreshesTotal.WithLabelValues("ok").Inc()
	return s.token, nil
}

// Invalidate drops the token so the next Token call refreshes.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}

func (s *TokenSource) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

type tokenRequest struct {
	AppID  string `json:"appId"`
	Secret string `json:"secret"`
}

type tokenResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (s *TokenSource) requestToken(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := json.Marshal(tokenRequest{AppID: s.appID, Secret: s.secret})
	if err != nil {
		return "", backoff.Permanent(errors.Wrap(err, "marshal token request"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+tokenPath, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(errors.Wrap(err, "new token request"))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "do token request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		err := fmt.Errorf("token endpoint http %d", resp.StatusCode)
		if resp.StatusCode/100 == 4 && resp.StatusCode != http.StatusTooManyRequests {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", errors.Wrap(err, "decode token response")
	}
	if tr.Code != http.StatusOK || tr.Data == "" {
		return "", fmt.Errorf("token endpoint code %d: %s", tr.Code, tr.Message)
	}
	return tr.Data, nil
}
