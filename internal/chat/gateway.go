package chat

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/teris-io/shortid"

	"github.com/fitfriends/messaging/internal/notify"
	"github.com/fitfriends/messaging/internal/stats"
	"github.com/fitfriends/messaging/internal/store"
	"github.com/fitfriends/messaging/internal/types"
)

const (
	statNumConnectedSessions    = "NumConnectedSessions"
	statNumActiveConversations  = "NumActiveConversations"
	statNumMessages             = "NumMessages"
	statNumNotificationFailures = "NumNotificationFailures"

	notifyTimeout = 5 * time.Second
)

type stopReq struct {
	done chan struct{}
}

// memberReq is a membership mutation arriving from the REST surface. It
// is routed through the conversation's goroutine when the conversation
// is loaded so it serializes with in-flight sends.
type memberReq struct {
	externalId string
	profileId  int
	add        bool
	done       chan error
}

// Gateway is the per-process entry point for live messaging: it owns the
// registry of loaded conversations and the set of connected sessions,
// and brokers join, leave and send between them and the stores.
type Gateway struct {
	log            *log.Logger
	db             store.Repository
	notifier       notify.Dispatcher
	stats          stats.StatsProvider
	relay          Relay
	instanceId     string
	sessions       map[*Session]struct{}
	sessionsLock   sync.Mutex
	joinChan       chan *ClientMessage
	publishChan    chan *ClientMessage
	registerChan   chan *Session
	deregisterChan chan *Session
	memberChan     chan *memberReq
	relayEvents    chan RelayEvent
	unloadChan     chan string
	conversations  map[string]*conversation
	stop           chan stopReq
}

// NewGateway wires the gateway. relay may be nil, in which case
// broadcasts stay within this process.
func NewGateway(logger *log.Logger, db store.Repository, notifier notify.Dispatcher, sp stats.StatsProvider, relay Relay) (*Gateway, error) {
	instanceId, err := shortid.Generate()
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		log:            logger,
		db:             db,
		notifier:       notifier,
		stats:          sp,
		relay:          relay,
		instanceId:     instanceId,
		sessions:       make(map[*Session]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		publishChan:    make(chan *ClientMessage, 256),
		registerChan:   make(chan *Session),
		deregisterChan: make(chan *Session),
		memberChan:     make(chan *memberReq, 64),
		relayEvents:    make(chan RelayEvent, 256),
		unloadChan:     make(chan string, 16),
		conversations:  make(map[string]*conversation),
		stop:           make(chan stopReq),
	}

	sp.RegisterMetric(statNumConnectedSessions)
	sp.RegisterMetric(statNumActiveConversations)
	sp.RegisterMetric(statNumMessages)
	sp.RegisterMetric(statNumNotificationFailures)

	return gw, nil
}

func (gw *Gateway) Run() {
	for {
		select {
		case joinMsg := <-gw.joinChan:
			gw.handleJoin(joinMsg)
		case msg := <-gw.publishChan:
			gw.handlePublish(msg)
		case s := <-gw.registerChan:
			gw.addSession(s)
			gw.stats.Incr(statNumConnectedSessions)
		case s := <-gw.deregisterChan:
			gw.removeSession(s)
			gw.stats.Decr(statNumConnectedSessions)
		case req := <-gw.memberChan:
			gw.handleMemberReq(req)
		case ev := <-gw.relayEvents:
			gw.handleRelayedMessage(ev)
		case externalId := <-gw.unloadChan:
			gw.unloadConversation(externalId)
		case req := <-gw.stop:
			gw.log.Println("shutting down conversations")
			for _, c := range gw.conversations {
				close(c.exit)
				<-c.done
			}

			close(req.done)
			return
		}
	}
}

func (gw *Gateway) handleJoin(joinMsg *ClientMessage) {
	if c, ok := gw.conversations[joinMsg.Join.ConversationId]; ok {
		select {
		case c.joinChan <- joinMsg:
		default:
			gw.log.Printf("join channel full on conversation %q", c.externalId)
			joinMsg.session.queueMessage(ErrServiceUnavailable(joinMsg.Id))
		}
		return
	}

	dbConv, err := gw.db.GetConversationByExternalId(joinMsg.Join.ConversationId)
	if err != nil {
		// conversations are never created implicitly by join
		joinMsg.session.queueMessage(ErrConversationNotFound(joinMsg.Id))
		return
	}

	c := newConversation(gw, dbConv)
	gw.conversations[c.externalId] = c
	c.joinChan <- joinMsg

	go c.start()
	gw.stats.Incr(statNumActiveConversations)
}

// handlePublish routes a send from a session with no live subscription
// to the target conversation. The conversation is loaded if needed so
// membership, checked on its goroutine, decides the outcome; only a
// conversation that does not exist is answered with not-found.
func (gw *Gateway) handlePublish(msg *ClientMessage) {
	c, ok := gw.conversations[msg.Publish.ConversationId]
	if !ok {
		dbConv, err := gw.db.GetConversationByExternalId(msg.Publish.ConversationId)
		if err != nil {
			msg.session.queueMessage(ErrConversationNotFound(msg.Id))
			return
		}

		c = newConversation(gw, dbConv)
		gw.conversations[c.externalId] = c
		go c.start()
		gw.stats.Incr(statNumActiveConversations)
	}

	select {
	case c.publishChan <- msg:
	default:
		gw.log.Printf("publish channel full on conversation %q", c.externalId)
		msg.session.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (gw *Gateway) handleMemberReq(req *memberReq) {
	if c, ok := gw.conversations[req.externalId]; ok {
		c.memberChan <- req
		return
	}

	// not loaded, no in-flight sends to serialize against
	dbConv, err := gw.db.GetConversationByExternalId(req.externalId)
	if err != nil {
		req.done <- err
		return
	}

	if req.add {
		_, err = gw.db.AddMember(dbConv.Id, req.profileId)
	} else {
		_, err = gw.db.RemoveMember(dbConv.Id, req.profileId)
	}
	req.done <- err
}

func (gw *Gateway) handleRelayedMessage(ev RelayEvent) {
	if ev.Message == nil {
		return
	}

	if c, ok := gw.conversations[ev.Message.ConversationId]; ok {
		select {
		case c.relayChan <- &ServerMessage{
			BaseMessage: BaseMessage{Timestamp: ev.Message.SentAt},
			Message:     ev.Message,
		}:
		default:
			gw.log.Printf("relay channel full on conversation %q", c.externalId)
		}
	}
}

func (gw *Gateway) unloadConversation(externalId string) {
	c, ok := gw.conversations[externalId]
	if !ok {
		return
	}

	gw.log.Printf("unloading conversation %q", externalId)
	delete(gw.conversations, externalId)
	close(c.exit)
	<-c.done
	gw.stats.Decr(statNumActiveConversations)
}

// RegisterSession attaches a newly upgraded transport session.
func (gw *Gateway) RegisterSession(s *Session) {
	gw.registerChan <- s
}

// AddMember enrolls a profile in a conversation, validating that both
// exist. Adding an existing member succeeds without effect.
func (gw *Gateway) AddMember(conversationId string, profileId int) error {
	if !gw.db.ProfileExists(profileId) {
		return store.ErrNotFound
	}

	req := &memberReq{
		externalId: conversationId,
		profileId:  profileId,
		add:        true,
		done:       make(chan error, 1),
	}
	gw.memberChan <- req
	return <-req.done
}

// RemoveMember removes a profile's membership row. When the conversation
// is live, the removal is serialized with its sends, so no send is
// accepted on the removed membership afterwards.
func (gw *Gateway) RemoveMember(conversationId string, profileId int) error {
	req := &memberReq{
		externalId: conversationId,
		profileId:  profileId,
		done:       make(chan error, 1),
	}
	gw.memberChan <- req
	return <-req.done
}

// HandleRelayEvent feeds a cross-instance broadcast into the local
// registry. Events published by this instance are already delivered
// locally and are skipped.
func (gw *Gateway) HandleRelayEvent(ev RelayEvent) {
	if ev.Origin == gw.instanceId {
		return
	}

	select {
	case gw.relayEvents <- ev:
	default:
		gw.log.Println("relay event queue full, dropping event")
	}
}

func (gw *Gateway) publishToRelay(msg *types.Message) {
	if gw.relay == nil {
		return
	}

	ev := RelayEvent{Origin: gw.instanceId, Message: msg}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
		defer cancel()

		if err := gw.relay.Publish(ctx, ev); err != nil {
			gw.log.Println("relay publish:", err)
		}
	}()
}

// dispatchNotification fans a push notification out to members without a
// live session in the group. It runs fire-and-forget: failures are
// logged and counted, never surfaced to the sender.
func (gw *Gateway) dispatchNotification(conversationId int, externalId string, msg store.Message, present map[int]bool) {
	members, err := gw.db.ListMembers(conversationId)
	if err != nil {
		gw.log.Println("ListMembers:", err)
		return
	}

	var recipients []int
	for _, profileId := range members {
		if profileId == msg.SenderId || present[profileId] {
			continue
		}
		recipients = append(recipients, profileId)
	}

	if len(recipients) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	if err := gw.notifier.NotifyNewMessage(ctx, recipients, externalId, msg.SenderId, notify.Excerpt(msg.Content)); err != nil {
		gw.log.Println("notify:", err)
		gw.stats.Incr(statNumNotificationFailures)
	}
}

func (gw *Gateway) addSession(s *Session) {
	gw.sessionsLock.Lock()
	defer gw.sessionsLock.Unlock()
	gw.sessions[s] = struct{}{}
}

func (gw *Gateway) removeSession(s *Session) {
	gw.sessionsLock.Lock()
	defer gw.sessionsLock.Unlock()
	delete(gw.sessions, s)
}

func (gw *Gateway) Shutdown(ctx context.Context) error {
	gw.log.Println("received shutdown signal")

	gw.sessionsLock.Lock()
	for s := range gw.sessions {
		close(s.stop)
	}
	gw.sessionsLock.Unlock()

	req := stopReq{done: make(chan struct{})}
	select {
	case gw.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
