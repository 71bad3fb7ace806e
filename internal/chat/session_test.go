package chat

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitfriends/messaging/internal/stats"
	"github.com/fitfriends/messaging/internal/store"
	"github.com/fitfriends/messaging/internal/testutil"
)

func Test_queueMessage(t *testing.T) {
	t.Run("queues message", func(t *testing.T) {
		s := newTestSession(t, 1)

		ok := s.queueMessage(NoErrOK(1, nil))
		assert.True(t, ok, "expected message to be queued")
		assert.Len(t, s.send, 1)
	})

	t.Run("drops message when buffer is full", func(t *testing.T) {
		s := &Session{
			log:  testutil.TestLogger(t),
			send: make(chan *ServerMessage, 1),
		}

		assert.True(t, s.queueMessage(NoErrOK(1, nil)))
		assert.False(t, s.queueMessage(NoErrOK(2, nil)), "expected overflow message to be dropped")
		assert.Len(t, s.send, 1, "expected buffer to hold only the first message")
	})
}

func Test_addConversation_delConversation_getConversation(t *testing.T) {
	s := newTestSession(t, 1)
	c := &conversation{externalId: "testconv"}

	s.addConversation(c)
	assert.Equal(t, c, s.getConversation(c.externalId))

	s.delConversation(c.externalId)
	assert.Nil(t, s.getConversation(c.externalId))
}

func Test_joinConversation(t *testing.T) {
	t.Run("forwards join to the gateway", func(t *testing.T) {
		gw := newTestGateway(t, &store.MockRepository{}, &stats.MockStatsUpdater{})
		s := newTestSession(t, 1)
		s.gateway = gw

		msg := &ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Join:        &Join{ConversationId: "testconv"},
			ProfileId:   1,
			session:     s,
		}
		s.joinConversation(msg)

		select {
		case got := <-gw.joinChan:
			assert.Equal(t, msg, got)
		default:
			t.Error("expected join to be forwarded to the gateway")
		}
	})

	t.Run("join queue full", func(t *testing.T) {
		gw := newTestGateway(t, &store.MockRepository{}, &stats.MockStatsUpdater{})
		gw.joinChan = make(chan *ClientMessage, 1)
		gw.joinChan <- &ClientMessage{}

		s := newTestSession(t, 1)
		s.gateway = gw

		s.joinConversation(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Join:        &Join{ConversationId: "testconv"},
		})

		resp := recvMessage(t, s)
		require.NotNil(t, resp.Response)
		assert.Equal(t, http.StatusServiceUnavailable, resp.Response.ResponseCode)
	})
}

func Test_publishConversation(t *testing.T) {
	t.Run("forwards publish to the gateway", func(t *testing.T) {
		gw := newTestGateway(t, &store.MockRepository{}, &stats.MockStatsUpdater{})
		s := newTestSession(t, 1)
		s.gateway = gw

		msg := &ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Publish:     &Publish{ConversationId: "testconv", Content: "hello"},
			ProfileId:   1,
			session:     s,
		}
		s.publishConversation(msg)

		select {
		case got := <-gw.publishChan:
			assert.Equal(t, msg, got)
		default:
			t.Error("expected publish to be forwarded to the gateway")
		}
	})

	t.Run("publish queue full", func(t *testing.T) {
		gw := newTestGateway(t, &store.MockRepository{}, &stats.MockStatsUpdater{})
		gw.publishChan = make(chan *ClientMessage, 1)
		gw.publishChan <- &ClientMessage{}

		s := newTestSession(t, 1)
		s.gateway = gw

		s.publishConversation(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Publish:     &Publish{ConversationId: "testconv", Content: "hello"},
		})

		resp := recvMessage(t, s)
		require.NotNil(t, resp.Response)
		assert.Equal(t, http.StatusServiceUnavailable, resp.Response.ResponseCode)
	})
}

func Test_leaveConversation(t *testing.T) {
	t.Run("forwards leave to subscribed conversation", func(t *testing.T) {
		gw := newTestGateway(t, &store.MockRepository{}, &stats.MockStatsUpdater{})
		c := newIdleConversation(gw, store.Conversation{Id: 1, ExternalId: "testconv"})

		s := newTestSession(t, 1)
		s.gateway = gw
		s.addConversation(c)

		msg := &ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Leave:       &Leave{ConversationId: c.externalId},
			ProfileId:   1,
			session:     s,
		}
		s.leaveConversation(msg)

		select {
		case got := <-c.leaveChan:
			assert.Equal(t, msg, got)
		default:
			t.Error("expected leave to be forwarded to the conversation")
		}
	})

	t.Run("leave without subscription drops the membership row", func(t *testing.T) {
		dbConv := store.Conversation{Id: 1, ExternalId: "testconv"}
		db := &store.MockRepository{}
		defer db.AssertExpectations(t)

		db.On("GetConversationByExternalId", dbConv.ExternalId).Return(dbConv, nil).Once()
		db.On("RemoveMember", dbConv.Id, 1).Return(store.Membership{
			Id: 1, ConversationId: dbConv.Id, ProfileId: 1,
		}, nil).Once()

		gw := newTestGateway(t, db, &stats.MockStatsUpdater{})
		go gw.Run()
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			gw.Shutdown(ctx)
		})

		s := newTestSession(t, 1)
		s.gateway = gw

		s.leaveConversation(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Leave:       &Leave{ConversationId: dbConv.ExternalId},
			ProfileId:   1,
			session:     s,
		})

		resp := recvMessage(t, s)
		require.NotNil(t, resp.Response)
		assert.Equal(t, http.StatusOK, resp.Response.ResponseCode)
	})

	t.Run("leave of unknown conversation", func(t *testing.T) {
		db := &store.MockRepository{}
		defer db.AssertExpectations(t)

		db.On("GetConversationByExternalId", "missing").Return(store.Conversation{}, store.ErrNotFound).Once()

		gw := newTestGateway(t, db, &stats.MockStatsUpdater{})
		go gw.Run()
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			gw.Shutdown(ctx)
		})

		s := newTestSession(t, 1)
		s.gateway = gw

		s.leaveConversation(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Leave:       &Leave{ConversationId: "missing"},
			ProfileId:   1,
			session:     s,
		})

		resp := recvMessage(t, s)
		require.NotNil(t, resp.Response)
		assert.Equal(t, http.StatusNotFound, resp.Response.ResponseCode)
	})
}

func Test_detachAllConversations(t *testing.T) {
	gw := newTestGateway(t, &store.MockRepository{}, &stats.MockStatsUpdater{})
	c1 := newIdleConversation(gw, store.Conversation{Id: 1, ExternalId: "conv1"})
	c2 := newIdleConversation(gw, store.Conversation{Id: 2, ExternalId: "conv2"})

	s := newTestSession(t, 1)
	s.gateway = gw
	s.addConversation(c1)
	s.addConversation(c2)

	s.detachAllConversations()

	for _, c := range []*conversation{c1, c2} {
		select {
		case msg := <-c.leaveChan:
			assert.True(t, msg.detachOnly, "expected disconnect leave to be detach-only")
			assert.Equal(t, s, msg.session)
		default:
			t.Errorf("expected leave on conversation %q", c.externalId)
		}
	}
}

func Test_stopSession(t *testing.T) {
	s := newTestSession(t, 1)
	s.stopSession()

	select {
	case <-s.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
}
