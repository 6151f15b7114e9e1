package twitchapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// DeleteChatMessage removes a single message from chat. The message id comes
// from the client's recent-message-id window.
func (hc *HelixClient) DeleteChatMessage(ctx context.Context, broadcasterID, moderatorID, messageID string) error {
	if messageID == "" {
		return fmt.Errorf("messageID empty")
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("moderator_id", moderatorID)
	q.Set("message_id", messageID)
	return hc.do(ctx, http.MethodDelete, "/moderation/chat", q, nil, nil)
}

// BanUser bans (durationSeconds == 0) or times out a user in the
// broadcaster's chat.
func (hc *HelixClient) BanUser(ctx context.Context, broadcasterID, moderatorID, userID string, durationSeconds int) error {
	if userID == "" {
		return fmt.Errorf("userID empty")
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("moderator_id", moderatorID)
	payload := map[string]any{"data": map[string]any{"user_id": userID}}
	if durationSeconds > 0 {
		payload["data"].(map[string]any)["duration"] = durationSeconds
	}
	return hc.do(ctx, http.MethodPost, "/moderation/bans", q, payload, nil)
}
