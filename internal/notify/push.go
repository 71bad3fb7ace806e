package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

const defaultRequestTimeout = 5 * time.Second

type notifyRequest struct {
	RecipientIds   []int  `json:"recipient_ids"`
	ConversationId string `json:"conversation_id"`
	SenderId       int    `json:"sender_id"`
	Excerpt        string `json:"excerpt"`
}

// PushDispatcher posts new-message notifications to the push gateway's
// HTTP endpoint.
type PushDispatcher struct {
	client  *http.Client
	baseURL string
	log     *log.Logger
}

func NewPushDispatcher(baseURL string, l *log.Logger) *PushDispatcher {
	return &PushDispatcher{
		client:  &http.Client{Timeout: defaultRequestTimeout},
		baseURL: baseURL,
		log:     l,
	}
}

func (d *PushDispatcher) NotifyNewMessage(ctx context.Context, recipientIds []int, conversationId string, senderId int, excerpt string) error {
	body, err := json.Marshal(notifyRequest{
		RecipientIds:   recipientIds,
		ConversationId: conversationId,
		SenderId:       senderId,
		Excerpt:        excerpt,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/notify", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("push gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push gateway returned status %d", resp.StatusCode)
	}

	return nil
}
