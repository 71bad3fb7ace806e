package types

import (
	"time"
)

type Profile struct {
	Id          int       `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

type Conversation struct {
	Id         int       `json:"id"`
	ExternalId string    `json:"external_id"`
	Name       string    `json:"name"`
	Picture    string    `json:"picture,omitempty"`
	Members    []int     `json:"members,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

type Membership struct {
	Id             int       `json:"id"`
	ConversationId string    `json:"conversation_id"`
	ProfileId      int       `json:"profile_id"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

type Message struct {
	Id             int       `json:"id"`
	ConversationId string    `json:"conversation_id"`
	SenderId       int       `json:"sender_id"`
	Seq            int       `json:"seq"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sent_at"`
}

// MessagePage is one window of a conversation's history, oldest first.
type MessagePage struct {
	Items      []Message `json:"items"`
	TotalItems int       `json:"total_items"`
	NextPage   *int      `json:"next_page"`
}
