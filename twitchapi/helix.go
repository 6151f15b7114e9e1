// Package twitchapi contains minimal helpers to interact with Twitch Helix
// APIs for credential validation, chatter/stream lookups, display stats, and
// moderation actions.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// DefaultBaseURL is the production Helix endpoint.
const DefaultBaseURL = "https://api.twitch.tv/helix"

// TokenProvider supplies a bearer token for Helix calls. Both the app-token
// TokenSource and the user credential supplier satisfy it.
type TokenProvider interface {
	Get(ctx context.Context) (string, error)
}

// TokenProviderFunc adapts a plain function (e.g. the external credential
// supplier) to TokenProvider.
type TokenProviderFunc func(ctx context.Context) (string, error)

func (f TokenProviderFunc) Get(ctx context.Context) (string, error) { return f(ctx) }

// HelixClient provides the Helix methods the chat and presence loops need.
type HelixClient struct {
	Tokens     TokenProvider
	ClientID   string
	HTTPClient *http.Client
	// BaseURL overrides the endpoint for tests; empty means production.
	BaseURL string
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return strings.TrimSuffix(hc.BaseURL, "/")
	}
	return DefaultBaseURL
}

func (hc *HelixClient) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	tok, err := hc.Tokens.Get(ctx)
	if err != nil {
		return err
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, hc.base()+path, rd)
	if err != nil {
		return err
	}
	if q != nil {
		req.URL.RawQuery = q.Encode()
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("helix %s %s: %s: %s", method, path, resp.Status, string(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// User is a Helix user record.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// GetSelf resolves the user the bearer token belongs to.
func (hc *HelixClient) GetSelf(ctx context.Context) (User, error) {
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.do(ctx, http.MethodGet, "/users", nil, nil, &body); err != nil {
		return User{}, err
	}
	if len(body.Data) == 0 {
		return User{}, fmt.Errorf("user not found")
	}
	return body.Data[0], nil
}

// GetUserByLogin resolves a login name to its user record.
func (hc *HelixClient) GetUserByLogin(ctx context.Context, login string) (User, error) {
	if login == "" {
		return User{}, fmt.Errorf("login empty")
	}
	q := url.Values{}
	q.Set("login", login)
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.do(ctx, http.MethodGet, "/users", q, nil, &body); err != nil {
		return User{}, err
	}
	if len(body.Data) == 0 {
		return User{}, fmt.Errorf("user not found")
	}
	return body.Data[0], nil
}

// Chatter is one participant currently in chat.
type Chatter struct {
	UserID    string `json:"user_id"`
	UserLogin string `json:"user_login"`
	UserName  string `json:"user_name"`
}

// GetChatters lists users currently connected to the broadcaster's chat.
// Requires a user token with moderator:read:chatters.
func (hc *HelixClient) GetChatters(ctx context.Context, broadcasterID, moderatorID string) ([]Chatter, error) {
	if broadcasterID == "" {
		return nil, fmt.Errorf("broadcasterID empty")
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("moderator_id", moderatorID)
	q.Set("first", "1000")
	var body struct {
		Data []Chatter `json:"data"`
	}
	if err := hc.do(ctx, http.MethodGet, "/chat/chatters", q, nil, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// Stream is a live stream record.
type Stream struct {
	UserID      string `json:"user_id"`
	UserLogin   string `json:"user_login"`
	Title       string `json:"title"`
	ViewerCount int    `json:"viewer_count"`
	StartedAt   string `json:"started_at"`
}

// GetStreams reports which of userIDs are currently live.
func (hc *HelixClient) GetStreams(ctx context.Context, userIDs ...string) ([]Stream, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	q := url.Values{}
	for _, id := range userIDs {
		q.Add("user_id", id)
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.do(ctx, http.MethodGet, "/streams", q, nil, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// FollowerCount returns the broadcaster's total follower count.
func (hc *HelixClient) FollowerCount(ctx context.Context, broadcasterID string) (int, error) {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	var body struct {
		Total int `json:"total"`
	}
	if err := hc.do(ctx, http.MethodGet, "/channels/followers", q, nil, &body); err != nil {
		return 0, err
	}
	return body.Total, nil
}

// SubscriberCount returns the broadcaster's total subscriber count.
// Requires channel:read:subscriptions.
func (hc *HelixClient) SubscriberCount(ctx context.Context, broadcasterID string) (int, error) {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("first", "1")
	var body struct {
		Total int `json:"total"`
	}
	if err := hc.do(ctx, http.MethodGet, "/subscriptions", q, nil, &body); err != nil {
		return 0, err
	}
	return body.Total, nil
}
