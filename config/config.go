// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required chat credentials, use ValidateTwitchChatReady / ValidateYouTubeReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Twitch
	TwitchChannel    string
	TwitchOAuthToken string
	TwitchClientID   string
	// App token credentials for Helix calls that don't need the user token.
	TwitchClientSecret string

	// YouTube
	YTAccessToken string

	// Engine
	PresenceRefreshInterval time.Duration
	DispatchBuffer          int

	// HTTP
	HTTPAddr string
}

// Load reads environment variables and applies defaults. Missing credentials
// don't fail the load; they disable the corresponding platform. Use the
// validators when you require a platform to be configured.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchChannel = os.Getenv("TWITCH_CHANNEL")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")

	cfg.YTAccessToken = os.Getenv("YT_ACCESS_TOKEN")

	cfg.PresenceRefreshInterval = 60 * time.Second
	if v := os.Getenv("PRESENCE_REFRESH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid PRESENCE_REFRESH_INTERVAL: %q", v)
		}
		cfg.PresenceRefreshInterval = d
	}

	cfg.DispatchBuffer = 256
	if v := os.Getenv("DISPATCH_BUFFER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid DISPATCH_BUFFER: %q", v)
		}
		cfg.DispatchBuffer = n
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	return cfg, nil
}

// ValidateTwitchChatReady checks required fields for the IRC chat client.
func (c *Config) ValidateTwitchChatReady() error {
	if c.TwitchChannel == "" || c.TwitchOAuthToken == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CHANNEL, TWITCH_OAUTH_TOKEN")
	}
	return nil
}

// ValidateYouTubeReady checks required fields for the live chat poller.
func (c *Config) ValidateYouTubeReady() error {
	if c.YTAccessToken == "" {
		return fmt.Errorf("missing youtube env: require YT_ACCESS_TOKEN")
	}
	return nil
}
