package notify

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) NotifyNewMessage(ctx context.Context, recipientIds []int, conversationId string, senderId int, excerpt string) error {
	args := m.Called(ctx, recipientIds, conversationId, senderId, excerpt)
	return args.Error(0)
}
