package chat

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fitfriends/messaging/internal/types"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10

	// maxMessageSize bounds an inbound frame. It sits well above the
	// store's content cap so over-length content comes back as a
	// validation reply instead of a torn-down connection.
	maxMessageSize = 4096

	// sendBufferSize bounds the per-session outbound queue. A broadcast
	// to a session with a full queue is dropped rather than blocking the
	// fan-out.
	sendBufferSize = 256
)

// Session is one live transport connection scoped to a single
// authenticated profile. It is pure routing state: destroying it never
// touches membership rows.
type Session struct {
	conn          *websocket.Conn
	gateway       *Gateway
	log           *log.Logger
	profile       types.Profile
	send          chan *ServerMessage
	conversations map[string]*conversation
	convLock      sync.RWMutex
	stop          chan struct{}
}

func NewSession(profile types.Profile, conn *websocket.Conn, gw *Gateway, l *log.Logger) *Session {
	return &Session{
		conn:          conn,
		gateway:       gw,
		log:           l,
		profile:       profile,
		send:          make(chan *ServerMessage, sendBufferSize),
		conversations: make(map[string]*conversation),
		stop:          make(chan struct{}),
	}
}

func (s *Session) Write() {
	ticker := time.NewTicker(time.Duration(pingInterval))
	defer func() {
		ticker.Stop()
		s.conn.Close()
		s.log.Println("write exiting")
	}()

	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				s.log.Println("failed to serialize message:", err)
				continue
			}

			if !s.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-s.stop:
			return
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !s.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (s *Session) Read() {
	defer func() {
		s.conn.Close()
		s.cleanup()
		s.log.Println("read exiting")
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(appData string) error { s.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.log.Println("error parsing message:", err)
			s.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.session = s
		msg.ProfileId = s.profile.Id
		msg.Timestamp = Now()

		switch {
		case msg.Join != nil:
			s.joinConversation(&msg)
		case msg.Leave != nil:
			s.leaveConversation(&msg)
		case msg.Publish != nil:
			c := s.getConversation(msg.Publish.ConversationId)
			if c != nil {
				select {
				case c.publishChan <- &msg:
				default:
					s.queueMessage(ErrServiceUnavailable(msg.Id))
					s.log.Printf("publishChan full for conversation %q", c.externalId)
				}
			} else {
				// membership, not subscription, gates a send; the
				// gateway resolves the conversation and lets its
				// goroutine decide
				s.publishConversation(&msg)
			}
		default:
			s.queueMessage(ErrInvalidMessage(msg.Id))
		}
	}
}

func (s *Session) queueMessage(msg *ServerMessage) bool {
	select {
	case s.send <- msg:
	default:
		s.log.Println("failed to send message to session, channel is full")
		return false
	}

	return true
}

func (s *Session) sendMessage(msgType int, msg []byte) bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := s.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			s.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (s *Session) stopSession() {
	close(s.stop)
}

// cleanup tears the session down on disconnect. Subscriptions are
// dropped, membership rows are left untouched.
func (s *Session) cleanup() {
	s.gateway.deregisterChan <- s
	s.detachAllConversations()
	s.stopSession()
}

func (s *Session) detachAllConversations() {
	s.convLock.RLock()
	defer s.convLock.RUnlock()

	for _, c := range s.conversations {
		c.leaveChan <- &ClientMessage{
			Leave:      &Leave{ConversationId: c.externalId},
			ProfileId:  s.profile.Id,
			session:    s,
			detachOnly: true,
		}
	}
}

func (s *Session) joinConversation(msg *ClientMessage) {
	select {
	case s.gateway.joinChan <- msg:
	default:
		s.log.Printf("joinChan full")
		s.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (s *Session) publishConversation(msg *ClientMessage) {
	select {
	case s.gateway.publishChan <- msg:
	default:
		s.log.Printf("publishChan full")
		s.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (s *Session) leaveConversation(msg *ClientMessage) {
	c := s.getConversation(msg.Leave.ConversationId)
	if c != nil {
		select {
		case c.leaveChan <- msg:
		default:
			s.log.Printf("leaveChan full for conversation %q", c.externalId)
			s.queueMessage(ErrServiceUnavailable(msg.Id))
		}
	} else {
		// the session never subscribed; a leave may still need to drop
		// the durable membership row
		if err := s.gateway.RemoveMember(msg.Leave.ConversationId, msg.ProfileId); err != nil {
			s.queueMessage(ErrConversationNotFound(msg.Id))
			return
		}
		s.queueMessage(NoErrOK(msg.Id, nil))
	}
}

func (s *Session) delConversation(id string) {
	s.convLock.Lock()
	defer s.convLock.Unlock()

	delete(s.conversations, id)
}

func (s *Session) addConversation(c *conversation) {
	s.convLock.Lock()
	defer s.convLock.Unlock()

	s.conversations[c.externalId] = c
}

func (s *Session) getConversation(id string) *conversation {
	s.convLock.RLock()
	defer s.convLock.RUnlock()

	if c, ok := s.conversations[id]; ok {
		return c
	}

	return nil
}
