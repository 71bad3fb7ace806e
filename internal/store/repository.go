package store

// Repository is the durable surface for conversations, memberships and
// messages. AppendMessage performs no membership check; the gateway gates
// sends before calling it so the message store stays independently
// testable.
type Repository interface {
	Ping() error
	CreateConversation(params CreateConversationParams) (Conversation, error)
	GetConversationByExternalId(externalId string) (Conversation, error)
	GetConversationById(conversationId int) (Conversation, error)
	ConversationExists(conversationId int) bool
	GetProfileById(profileId int) (Profile, error)
	ProfileExists(profileId int) bool
	AddMember(conversationId, profileId int) (Membership, error)
	RemoveMember(conversationId, profileId int) (Membership, error)
	IsMember(conversationId, profileId int) bool
	ListMembers(conversationId int) ([]int, error)
	AppendMessage(conversationId, senderId int, content string) (Message, error)
	GetMessageById(messageId int) (Message, error)
	ListMessages(conversationId, limit, offset int) ([]Message, error)
	CountMessages(conversationId int) (int, error)
}
