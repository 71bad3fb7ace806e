package store

import (
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateConversation(params CreateConversationParams) (Conversation, error) {
	args := m.Called(params)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockRepository) GetConversationByExternalId(externalId string) (Conversation, error) {
	args := m.Called(externalId)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockRepository) GetConversationById(conversationId int) (Conversation, error) {
	args := m.Called(conversationId)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockRepository) ConversationExists(conversationId int) bool {
	args := m.Called(conversationId)
	return args.Bool(0)
}
func (m *MockRepository) GetProfileById(profileId int) (Profile, error) {
	args := m.Called(profileId)
	return args.Get(0).(Profile), args.Error(1)
}
func (m *MockRepository) ProfileExists(profileId int) bool {
	args := m.Called(profileId)
	return args.Bool(0)
}
func (m *MockRepository) AddMember(conversationId, profileId int) (Membership, error) {
	args := m.Called(conversationId, profileId)
	return args.Get(0).(Membership), args.Error(1)
}
func (m *MockRepository) RemoveMember(conversationId, profileId int) (Membership, error) {
	args := m.Called(conversationId, profileId)
	return args.Get(0).(Membership), args.Error(1)
}
func (m *MockRepository) IsMember(conversationId, profileId int) bool {
	args := m.Called(conversationId, profileId)
	return args.Bool(0)
}
func (m *MockRepository) ListMembers(conversationId int) ([]int, error) {
	args := m.Called(conversationId)
	return args.Get(0).([]int), args.Error(1)
}
func (m *MockRepository) AppendMessage(conversationId, senderId int, content string) (Message, error) {
	args := m.Called(conversationId, senderId, content)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) GetMessageById(messageId int) (Message, error) {
	args := m.Called(messageId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) ListMessages(conversationId, limit, offset int) ([]Message, error) {
	args := m.Called(conversationId, limit, offset)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRepository) CountMessages(conversationId int) (int, error) {
	args := m.Called(conversationId)
	return args.Int(0), args.Error(1)
}
