package ytchat

import (
	"errors"
	"strings"

	"google.golang.org/api/googleapi"
)

// PollErrorClass buckets a failed poll into the recovery policy it gets.
type PollErrorClass int

const (
	// PollErrorTransient covers everything not matched below; retried in
	// place after a short delay.
	PollErrorTransient PollErrorClass = iota
	// PollErrorEnded means the chat session no longer exists or access was
	// revoked. Expected, not an error: polling stops and the watcher takes
	// over.
	PollErrorEnded
	// PollErrorQuota means quota exhaustion or too many requests; polling
	// resumes at the same cursor after a cooldown.
	PollErrorQuota
)

func (c PollErrorClass) String() string {
	switch c {
	case PollErrorEnded:
		return "ended"
	case PollErrorQuota:
		return "quota"
	default:
		return "transient"
	}
}

// ClassifyPollError buckets a poll failure. The classes are mutually
// exclusive and checked in order: ended, quota, transient. A 403 counts as
// "ended" (access revoked) unless its reason says quota/rate, which makes it
// a quota error.
func ClassifyPollError(err error) PollErrorClass {
	if err == nil {
		return PollErrorTransient
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		quota := hasReason(gerr, "quotaExceeded", "rateLimitExceeded")
		switch {
		case hasReason(gerr, "liveChatEnded", "liveChatNotFound", "notFound"),
			gerr.Code == 404,
			gerr.Code == 403 && !quota:
			return PollErrorEnded
		case quota, gerr.Code == 429:
			return PollErrorQuota
		default:
			return PollErrorTransient
		}
	}

	// Fallback for errors that lost their structure.
	msg := err.Error()
	lower := strings.ToLower(msg)
	quotaHint := strings.Contains(lower, "quota") || strings.Contains(lower, "rate")
	switch {
	case strings.Contains(msg, "liveChatEnded"),
		strings.Contains(lower, "notfound"),
		strings.Contains(lower, "not found"),
		strings.Contains(msg, "404"),
		strings.Contains(msg, "403") && !quotaHint:
		return PollErrorEnded
	case strings.Contains(msg, "quotaExceeded"),
		strings.Contains(msg, "rateLimitExceeded"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "403") && strings.Contains(lower, "quota"):
		return PollErrorQuota
	default:
		return PollErrorTransient
	}
}

// isQuotaError is the watcher's narrower check: only quota exhaustion gets
// the long backoff.
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && hasReason(gerr, "quotaExceeded", "rateLimitExceeded") {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "quota")
}

func hasReason(gerr *googleapi.Error, reasons ...string) bool {
	for _, item := range gerr.Errors {
		for _, r := range reasons {
			if item.Reason == r {
				return true
			}
		}
	}
	return false
}
