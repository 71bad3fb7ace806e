package store

import "time"

type Conversation struct {
	Id         int
	ExternalId string
	Name       string
	Picture    string
	LastSeq    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Profile struct {
	Id          int
	DisplayName string
	CreatedAt   time.Time
}

// Membership maps a profile to a conversation. At most one row exists
// per (conversation, profile) pair.
type Membership struct {
	Id             int
	ConversationId int
	ProfileId      int
	CreatedAt      time.Time
}

// Message is an immutable entry in a conversation's history. Seq and
// SentAt are assigned by the store at append time.
type Message struct {
	Id             int
	ConversationId int
	SenderId       int
	Seq            int
	Content        string
	SentAt         time.Time
}

type CreateConversationParams struct {
	Name       string `json:"name"`
	Picture    string `json:"picture"`
	ExternalId string `json:"external_id"`
	MemberIds  []int  `json:"member_ids"`
}
