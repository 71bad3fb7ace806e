// Package history is the read path over persisted messages. It is
// independent of the live gateway: a disconnected client can still page
// through what it missed.
package history

import (
	"fmt"

	"github.com/fitfriends/messaging/internal/store"
	"github.com/fitfriends/messaging/internal/types"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Reader struct {
	db store.Repository
}

func NewReader(db store.Repository) *Reader {
	return &Reader{db: db}
}

// GetPage returns one window of a conversation's history, oldest first,
// ordered by timestamp then message id. page is zero-based.
func (r *Reader) GetPage(conversationId string, pageSize, page int) (types.MessagePage, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if page < 0 {
		page = 0
	}

	conv, err := r.db.GetConversationByExternalId(conversationId)
	if err != nil {
		return types.MessagePage{}, err
	}

	msgs, err := r.db.ListMessages(conv.Id, pageSize, page*pageSize)
	if err != nil {
		return types.MessagePage{}, fmt.Errorf("list messages: %w", err)
	}

	total, err := r.db.CountMessages(conv.Id)
	if err != nil {
		return types.MessagePage{}, fmt.Errorf("count messages: %w", err)
	}

	items := make([]types.Message, 0, len(msgs))
	for _, msg := range msgs {
		items = append(items, types.Message{
			Id:             msg.Id,
			ConversationId: conv.ExternalId,
			SenderId:       msg.SenderId,
			Seq:            msg.Seq,
			Content:        msg.Content,
			SentAt:         msg.SentAt,
		})
	}

	result := types.MessagePage{
		Items:      items,
		TotalItems: total,
	}

	if (page+1)*pageSize < total {
		next := page + 1
		result.NextPage = &next
	}

	return result, nil
}

// GetMessage fetches a single persisted message by its id.
func (r *Reader) GetMessage(messageId int) (types.Message, error) {
	msg, err := r.db.GetMessageById(messageId)
	if err != nil {
		return types.Message{}, err
	}

	conv, err := r.db.GetConversationById(msg.ConversationId)
	if err != nil {
		return types.Message{}, fmt.Errorf("resolve conversation: %w", err)
	}

	return types.Message{
		Id:             msg.Id,
		ConversationId: conv.ExternalId,
		SenderId:       msg.SenderId,
		Seq:            msg.Seq,
		Content:        msg.Content,
		SentAt:         msg.SentAt,
	}, nil
}
