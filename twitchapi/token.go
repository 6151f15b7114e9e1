package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultAuthBaseURL is the production id.twitch.tv endpoint.
const DefaultAuthBaseURL = "https://id.twitch.tv"

// ErrTokenRejected means the platform rejected the credential. Callers treat
// this as terminal, not retryable.
var ErrTokenRejected = errors.New("twitchapi: token rejected")

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// NOTE: this token CANNOT be used for IRC chat or chatter listing; those need
// a user OAuth token with the right scopes.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	// BaseURL overrides the auth endpoint for tests; empty means production.
	BaseURL string

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.RLock()
	if ts.token != "" && time.Until(ts.expiresAt) > 60*time.Second { // 1 min buffer
		tok := ts.token
		ts.mu.RUnlock()
		return tok, nil
	}
	ts.mu.RUnlock()
	return ts.refresh(ctx)
}

func (ts *TokenSource) base() string {
	if ts.BaseURL != "" {
		return strings.TrimSuffix(ts.BaseURL, "/")
	}
	return DefaultAuthBaseURL
}

func (ts *TokenSource) refresh(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" && time.Until(ts.expiresAt) > 60*time.Second {
		return ts.token, nil
	}
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", errors.New("missing client id/secret for twitch app token")
	}
	form := url.Values{}
	form.Set("client_id", ts.ClientID)
	form.Set("client_secret", ts.ClientSecret)
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.base()+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	hc := ts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("twitch token request failed: %s: %s", resp.Status, string(b))
	}
	var at struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&at); err != nil {
		return "", err
	}
	if at.AccessToken == "" {
		return "", errors.New("empty access_token in twitch response")
	}
	ts.token = at.AccessToken
	ts.expiresAt = time.Now().Add(time.Duration(at.ExpiresIn) * time.Second)
	return ts.token, nil
}

// Validation is the result of checking a user token.
type Validation struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`
}

// Validator checks user tokens against id.twitch.tv. The IRC client calls
// this before connecting; a rejection is terminal.
type Validator struct {
	HTTPClient *http.Client
	// BaseURL overrides the auth endpoint for tests; empty means production.
	BaseURL string
}

func (v *Validator) base() string {
	if v.BaseURL != "" {
		return strings.TrimSuffix(v.BaseURL, "/")
	}
	return DefaultAuthBaseURL
}

// Validate returns the identity a user token belongs to, or ErrTokenRejected
// when the platform refuses it.
func (v *Validator) Validate(ctx context.Context, token string) (*Validation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.base()+"/oauth2/validate", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "OAuth "+token)
	hc := v.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrTokenRejected, resp.Status)
	}
	var val Validation
	if err := json.NewDecoder(resp.Body).Decode(&val); err != nil {
		return nil, err
	}
	if missing := missingScopes(val.Scopes); len(missing) > 0 {
		slog.Warn("token missing scopes", slog.Any("missing", missing))
	}
	return &val, nil
}

// requiredScopes are needed for chat reading, chatter listing, and
// subscriber stats.
var requiredScopes = []string{"chat:read", "moderator:read:chatters", "channel:read:subscriptions"}

func missingScopes(have []string) []string {
	set := make(map[string]struct{}, len(have))
	for _, s := range have {
		set[s] = struct{}{}
	}
	var missing []string
	for _, s := range requiredScopes {
		if _, ok := set[s]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}
