package chat

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/fitfriends/messaging/internal/store"
	"github.com/fitfriends/messaging/internal/types"
)

const idleConversationTimeout = time.Second * 30

// conversation is the in-process group for one conversation: the set of
// currently subscribed sessions plus a goroutine that serializes every
// join, leave and send for it. Because membership checks and appends run
// on the same goroutine as membership removals, a send is never accepted
// on a membership row that is concurrently deleted.
type conversation struct {
	id          int
	externalId  string
	gw          *Gateway
	joinChan    chan *ClientMessage
	leaveChan   chan *ClientMessage
	publishChan chan *ClientMessage
	memberChan  chan *memberReq
	relayChan   chan *ServerMessage
	sessions    map[*Session]struct{}
	profileMap  map[int]map[*Session]struct{}
	sessionLock sync.RWMutex
	log         *log.Logger
	// killTimer unloads the conversation once no session is subscribed
	killTimer *time.Timer
	exit      chan struct{}
	done      chan struct{}
}

func newConversation(gw *Gateway, dbConv store.Conversation) *conversation {
	return &conversation{
		id:          dbConv.Id,
		externalId:  dbConv.ExternalId,
		gw:          gw,
		joinChan:    make(chan *ClientMessage, 256),
		leaveChan:   make(chan *ClientMessage, 256),
		publishChan: make(chan *ClientMessage, 256),
		memberChan:  make(chan *memberReq, 16),
		relayChan:   make(chan *ServerMessage, 256),
		sessions:    make(map[*Session]struct{}),
		profileMap:  make(map[int]map[*Session]struct{}),
		log:         gw.log,
		exit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (c *conversation) start() {
	c.log.Printf("starting conversation %q", c.externalId)
	c.killTimer = time.NewTimer(idleConversationTimeout)
	c.killTimer.Stop()

	for {
		select {
		case join := <-c.joinChan:
			c.handleJoin(join)
		case leaveMsg := <-c.leaveChan:
			c.handleLeave(leaveMsg)
		case msg := <-c.publishChan:
			c.handlePublish(msg)
		case req := <-c.memberChan:
			c.handleMemberReq(req)
		case relayed := <-c.relayChan:
			c.broadcast(relayed)
		case <-c.killTimer.C:
			c.handleIdleTimeout()
		case <-c.exit:
			c.handleExit()
			return
		}
	}
}

func (c *conversation) handleIdleTimeout() {
	c.log.Printf("conversation %q is idle", c.externalId)
	select {
	case c.gw.unloadChan <- c.externalId:
	default:
		// unload queue is busy, try again later
		c.killTimer.Reset(idleConversationTimeout)
	}
}

func (c *conversation) handleExit() {
	c.log.Printf("conversation %q is exiting", c.externalId)

	c.sessionLock.Lock()
	for s := range c.sessions {
		s.delConversation(c.externalId)
	}
	c.sessionLock.Unlock()

	close(c.done)
}

// handleJoin enrolls the profile if it is not yet a member and registers
// the session in the group. Repeated joins are no-ops on both sides.
func (c *conversation) handleJoin(join *ClientMessage) {
	c.killTimer.Stop()

	s := join.session
	if !c.gw.db.IsMember(c.id, join.ProfileId) {
		// auto-enrollment: joining a conversation you are not a member
		// of creates the membership row
		if _, err := c.gw.db.AddMember(c.id, join.ProfileId); err != nil {
			c.log.Println("AddMember:", err)
			if len(c.sessions) == 0 {
				c.killTimer.Reset(idleConversationTimeout)
			}
			s.queueMessage(ErrInternalError(join.Id))
			return
		}

		c.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Notification: &Notification{
				Membership: &MembershipChange{
					ConversationId: c.externalId,
					ProfileId:      join.ProfileId,
					Member:         true,
				},
			},
		})
	}

	c.addSession(s)

	members, err := c.gw.db.ListMembers(c.id)
	if err != nil {
		c.log.Println("ListMembers:", err)
		s.queueMessage(ErrInternalError(join.Id))
		return
	}

	s.queueMessage(NoErrOK(join.Id, map[string]any{
		"conversation_id": c.externalId,
		"members":         members,
	}))
}

// handleLeave unsubscribes and, unless the message came from a
// disconnect, removes the membership row. A session may leave a group it
// merely observed: the missing membership row is not an error.
func (c *conversation) handleLeave(leaveMsg *ClientMessage) {
	if leaveMsg.detachOnly {
		c.removeSession(leaveMsg.session)
		return
	}

	_, err := c.gw.db.RemoveMember(c.id, leaveMsg.ProfileId)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		c.log.Println("RemoveMember:", err)
		leaveMsg.session.queueMessage(ErrInternalError(leaveMsg.Id))
		return
	}

	removed := err == nil
	c.removeAllSessionsForProfile(leaveMsg.ProfileId)
	leaveMsg.session.queueMessage(NoErrOK(leaveMsg.Id, nil))

	if removed {
		c.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Notification: &Notification{
				Membership: &MembershipChange{
					ConversationId: c.externalId,
					ProfileId:      leaveMsg.ProfileId,
					Member:         false,
				},
			},
		})
	}
}

// handleMemberReq serializes membership mutations arriving over the REST
// surface with the in-flight sends of this conversation.
func (c *conversation) handleMemberReq(req *memberReq) {
	if req.add {
		_, err := c.gw.db.AddMember(c.id, req.profileId)
		if err == nil {
			c.broadcast(&ServerMessage{
				BaseMessage: BaseMessage{Timestamp: Now()},
				Notification: &Notification{
					Membership: &MembershipChange{
						ConversationId: c.externalId,
						ProfileId:      req.profileId,
						Member:         true,
					},
				},
			})
		}
		req.done <- err
		return
	}

	_, err := c.gw.db.RemoveMember(c.id, req.profileId)
	if err == nil {
		c.removeAllSessionsForProfile(req.profileId)
		c.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Notification: &Notification{
				Membership: &MembershipChange{
					ConversationId: c.externalId,
					ProfileId:      req.profileId,
					Member:         false,
				},
			},
		})
	}
	req.done <- err
}

// handlePublish gates the send on current membership, persists the
// message and fans the persisted message out. The broadcast and the push
// notification are best-effort overlays on the durable append.
func (c *conversation) handlePublish(msg *ClientMessage) {
	s := msg.session

	// a send routed through the gateway may hit a conversation nobody
	// is subscribed to; keep the idle timer armed so it unloads
	if len(c.sessions) == 0 {
		c.killTimer.Stop()
		defer c.killTimer.Reset(idleConversationTimeout)
	}

	if !c.gw.db.IsMember(c.id, msg.ProfileId) {
		s.queueMessage(ErrNotMember(msg.Id))
		return
	}

	dbMsg, err := c.gw.db.AppendMessage(c.id, msg.ProfileId, msg.Publish.Content)
	if err != nil {
		if errors.Is(err, store.ErrContentEmpty) || errors.Is(err, store.ErrContentTooLong) {
			s.queueMessage(ErrInvalidContent(msg.Id, err.Error()))
			return
		}
		c.log.Println("error saving message:", err)
		s.queueMessage(ErrInternalError(msg.Id))
		return
	}

	s.queueMessage(NoErrAccepted(msg.Id))
	c.gw.stats.Incr(statNumMessages)

	wireMsg := &types.Message{
		Id:             dbMsg.Id,
		ConversationId: c.externalId,
		SenderId:       dbMsg.SenderId,
		Seq:            dbMsg.Seq,
		Content:        dbMsg.Content,
		SentAt:         dbMsg.SentAt,
	}

	c.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: dbMsg.SentAt},
		Message:     wireMsg,
	})

	c.gw.publishToRelay(wireMsg)

	// push notifications run off the send path: a dispatch failure never
	// affects the already-committed message
	go c.gw.dispatchNotification(c.id, c.externalId, dbMsg, c.presentProfiles())
}

func (c *conversation) addSession(s *Session) {
	c.sessionLock.Lock()
	defer c.sessionLock.Unlock()

	c.sessions[s] = struct{}{}
	if c.profileMap[s.profile.Id] == nil {
		c.profileMap[s.profile.Id] = make(map[*Session]struct{})
	}
	c.profileMap[s.profile.Id][s] = struct{}{}

	s.addConversation(c)
}

func (c *conversation) removeSession(s *Session) {
	c.sessionLock.Lock()
	defer c.sessionLock.Unlock()

	if _, ok := c.sessions[s]; !ok {
		return
	}

	delete(c.sessions, s)
	s.delConversation(c.externalId)

	if profileSessions, ok := c.profileMap[s.profile.Id]; ok {
		delete(profileSessions, s)
		if len(profileSessions) == 0 {
			delete(c.profileMap, s.profile.Id)
		}
	}

	if len(c.sessions) == 0 {
		c.log.Printf("no sessions in %q, starting kill timer", c.externalId)
		c.killTimer.Reset(idleConversationTimeout)
	}
}

func (c *conversation) removeAllSessionsForProfile(profileId int) {
	c.sessionLock.Lock()
	defer c.sessionLock.Unlock()

	if profileSessions, ok := c.profileMap[profileId]; ok {
		for s := range profileSessions {
			delete(c.sessions, s)
			s.delConversation(c.externalId)
		}
		delete(c.profileMap, profileId)
	}

	if len(c.sessions) == 0 {
		c.killTimer.Reset(idleConversationTimeout)
	}
}

// presentProfiles snapshots the profiles with at least one live session
// in the group; they receive the broadcast and are skipped by the push
// dispatcher.
func (c *conversation) presentProfiles() map[int]bool {
	c.sessionLock.RLock()
	defer c.sessionLock.RUnlock()

	present := make(map[int]bool, len(c.profileMap))
	for profileId := range c.profileMap {
		present[profileId] = true
	}
	return present
}

// broadcast delivers msg to every subscribed session. Delivery is
// best-effort: a session with a full send buffer drops the message, and
// a session whose transport died is pruned by its own read loop.
func (c *conversation) broadcast(msg *ServerMessage) {
	c.sessionLock.RLock()
	defer c.sessionLock.RUnlock()

	for s := range c.sessions {
		if s == msg.SkipSession {
			continue
		}

		s.queueMessage(msg)
	}
}
