package ytchat

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	youtube "google.golang.org/api/youtube/v3"
	"google.golang.org/api/option"
)

// Service is the production API backed by the YouTube Data API v3.
type Service struct {
	yt *youtube.Service
}

// NewService builds a Service from an externally supplied access token. The
// token must carry the youtube.force-ssl scope for reading and posting live
// chat messages.
func NewService(ctx context.Context, accessToken string) (*Service, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("ytchat: empty access token")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	svc, err := youtube.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("ytchat: build service: %w", err)
	}
	return &Service{yt: svc}, nil
}

// ActiveLiveChatID lists the caller's active broadcasts and returns the live
// chat id of the first one, or "" when nothing is live.
func (s *Service) ActiveLiveChatID(ctx context.Context) (string, error) {
	resp, err := s.yt.LiveBroadcasts.List([]string{"snippet"}).
		BroadcastStatus("active").
		BroadcastType("all").
		Context(ctx).
		Do()
	if err != nil {
		return "", err
	}
	if len(resp.Items) == 0 {
		return "", nil
	}
	return resp.Items[0].Snippet.LiveChatId, nil
}

// ListMessages fetches the next batch for the session.
func (s *Service) ListMessages(ctx context.Context, liveChatID, pageToken string) (*MessagePage, error) {
	call := s.yt.LiveChatMessages.List(liveChatID, []string{"snippet", "authorDetails"}).
		MaxResults(200).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, err
	}
	page := &MessagePage{
		NextPageToken:         resp.NextPageToken,
		PollingIntervalMillis: resp.PollingIntervalMillis,
		Items:                 make([]Message, 0, len(resp.Items)),
	}
	for _, item := range resp.Items {
		if item.Snippet == nil || item.AuthorDetails == nil {
			continue
		}
		published, _ := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
		page.Items = append(page.Items, Message{
			ID:        item.Id,
			Author:    item.AuthorDetails.DisplayName,
			Body:      item.Snippet.DisplayMessage,
			Published: published,
		})
	}
	return page, nil
}

// SendMessage posts a text message to the session and returns its id.
func (s *Service) SendMessage(ctx context.Context, liveChatID, text string) (string, error) {
	msg := &youtube.LiveChatMessage{
		Snippet: &youtube.LiveChatMessageSnippet{
			LiveChatId: liveChatID,
			Type:       "textMessageEvent",
			TextMessageDetails: &youtube.LiveChatTextMessageDetails{
				MessageText: text,
			},
		},
	}
	res, err := s.yt.LiveChatMessages.Insert([]string{"snippet"}, msg).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return res.Id, nil
}
