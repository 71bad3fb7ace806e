// Package notify is the boundary to the external push-notification
// sender. Dispatches are fire-and-forget: the gateway never retries and
// a failure never affects an already-committed message.
package notify

import (
	"context"
	"unicode/utf8"
)

const maxExcerptLen = 80

type Dispatcher interface {
	NotifyNewMessage(ctx context.Context, recipientIds []int, conversationId string, senderId int, excerpt string) error
}

// NoopDispatcher drops every notification. Used when no push gateway is
// configured.
type NoopDispatcher struct{}

func (NoopDispatcher) NotifyNewMessage(ctx context.Context, recipientIds []int, conversationId string, senderId int, excerpt string) error {
	return nil
}

// Excerpt truncates message content for the push payload.
func Excerpt(content string) string {
	if utf8.RuneCountInString(content) <= maxExcerptLen {
		return content
	}

	runes := []rune(content)
	return string(runes[:maxExcerptLen])
}
