package store

import (
	"sort"
	"sync"
	"time"
)

// MemRepository is an in-memory Repository with the same row semantics
// as the Postgres implementation. It backs tests that exercise
// membership and ordering behavior without a database.
type MemRepository struct {
	mu            sync.Mutex
	nextConvId    int
	nextMemberId  int
	nextMessageId int
	conversations map[int]*Conversation
	members       map[int][]Membership
	messages      map[int][]Message
	profiles      map[int]Profile
}

func NewMemRepository() *MemRepository {
	return &MemRepository{
		conversations: make(map[int]*Conversation),
		members:       make(map[int][]Membership),
		messages:      make(map[int][]Message),
		profiles:      make(map[int]Profile),
	}
}

func (m *MemRepository) Ping() error { return nil }

func (m *MemRepository) AddProfile(p Profile) Profile {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.profiles[p.Id] = p
	return p
}

func (m *MemRepository) CreateConversation(params CreateConversationParams) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextConvId++
	now := time.Now().UTC()
	conv := Conversation{
		Id:         m.nextConvId,
		ExternalId: params.ExternalId,
		Name:       params.Name,
		Picture:    params.Picture,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.conversations[conv.Id] = &conv

	for _, profileId := range params.MemberIds {
		m.addMemberLocked(conv.Id, profileId)
	}

	return conv, nil
}

func (m *MemRepository) GetConversationByExternalId(externalId string) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, conv := range m.conversations {
		if conv.ExternalId == externalId {
			return *conv, nil
		}
	}
	return Conversation{}, ErrNotFound
}

func (m *MemRepository) GetConversationById(conversationId int) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationId]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return *conv, nil
}

func (m *MemRepository) ConversationExists(conversationId int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.conversations[conversationId]
	return ok
}

func (m *MemRepository) GetProfileById(profileId int) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[profileId]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (m *MemRepository) ProfileExists(profileId int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.profiles[profileId]
	return ok
}

func (m *MemRepository) addMemberLocked(conversationId, profileId int) Membership {
	for _, mem := range m.members[conversationId] {
		if mem.ProfileId == profileId {
			return mem
		}
	}

	m.nextMemberId++
	mem := Membership{
		Id:             m.nextMemberId,
		ConversationId: conversationId,
		ProfileId:      profileId,
		CreatedAt:      time.Now().UTC(),
	}
	m.members[conversationId] = append(m.members[conversationId], mem)
	return mem
}

func (m *MemRepository) AddMember(conversationId, profileId int) (Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.addMemberLocked(conversationId, profileId), nil
}

func (m *MemRepository) RemoveMember(conversationId, profileId int) (Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members := m.members[conversationId]
	for i, mem := range members {
		if mem.ProfileId == profileId {
			m.members[conversationId] = append(members[:i], members[i+1:]...)
			return mem, nil
		}
	}
	return Membership{}, ErrNotFound
}

func (m *MemRepository) IsMember(conversationId, profileId int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mem := range m.members[conversationId] {
		if mem.ProfileId == profileId {
			return true
		}
	}
	return false
}

func (m *MemRepository) ListMembers(conversationId int) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []int
	for _, mem := range m.members[conversationId] {
		ids = append(ids, mem.ProfileId)
	}
	return ids, nil
}

func (m *MemRepository) AppendMessage(conversationId, senderId int, content string) (Message, error) {
	if err := validateContent(content); err != nil {
		return Message{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationId]
	if !ok {
		return Message{}, ErrNotFound
	}

	conv.LastSeq++
	conv.UpdatedAt = time.Now().UTC()
	m.nextMessageId++

	msg := Message{
		Id:             m.nextMessageId,
		ConversationId: conversationId,
		SenderId:       senderId,
		Seq:            conv.LastSeq,
		Content:        content,
		SentAt:         time.Now().UTC(),
	}
	m.messages[conversationId] = append(m.messages[conversationId], msg)

	return msg, nil
}

func (m *MemRepository) GetMessageById(messageId int) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msgs := range m.messages {
		for _, msg := range msgs {
			if msg.Id == messageId {
				return msg, nil
			}
		}
	}
	return Message{}, ErrNotFound
}

func (m *MemRepository) ListMessages(conversationId, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := make([]Message, len(m.messages[conversationId]))
	copy(msgs, m.messages[conversationId])

	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].SentAt.Equal(msgs[j].SentAt) {
			return msgs[i].Id < msgs[j].Id
		}
		return msgs[i].SentAt.Before(msgs[j].SentAt)
	})

	if offset >= len(msgs) {
		return []Message{}, nil
	}

	end := offset + limit
	if end > len(msgs) {
		end = len(msgs)
	}

	return msgs[offset:end], nil
}

func (m *MemRepository) CountMessages(conversationId int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.messages[conversationId]), nil
}
