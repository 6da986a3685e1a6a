package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/voluntr/realtime/internal/stats"
	"github.com/voluntr/realtime/internal/types"
)

const idleRoomTimeout = 30 * time.Second

type exitReq struct {
	done chan struct{}
}

// Room is a fan-out group run by a single goroutine. All membership
// mutation and delivery for the room happens on that goroutine, so
// join/leave/fan-out never race.
type Room struct {
	name       string
	es         *EventServer
	joinChan   chan *ClientMessage
	leaveChan  chan *ClientMessage
	typingChan chan *ClientMessage
	eventChan  chan *types.Event
	clients    map[*Client]struct{}
	userMap    map[int]map[*Client]struct{}
	clientLock sync.RWMutex
	log        *log.Logger
	// killTimer unloads the room once it has been empty for a while
	killTimer *time.Timer
	exit      chan exitReq
	done      chan struct{}
}

func newRoom(name string, es *EventServer) *Room {
	return &Room{
		name:       name,
		es:         es,
		joinChan:   make(chan *ClientMessage, 256),
		leaveChan:  make(chan *ClientMessage, 256),
		typingChan: make(chan *ClientMessage, 256),
		eventChan:  make(chan *types.Event, 256),
		clients:    make(map[*Client]struct{}),
		userMap:    make(map[int]map[*Client]struct{}),
		log:        es.log,
		exit:       make(chan exitReq),
		done:       make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.name)
	r.killTimer = time.NewTimer(idleRoomTimeout)

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case typingMsg := <-r.typingChan:
			r.handleTyping(typingMsg)
		case event := <-r.eventChan:
			r.handleEvent(event)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q timed out", r.name)
	r.es.unloadRoomChan <- r.name
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.name)

	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.name)
	}
	r.clients = make(map[*Client]struct{})
	r.userMap = make(map[int]map[*Client]struct{})
	r.clientLock.Unlock()

	close(r.done)
	if e.done != nil {
		close(e.done)
	}
}

// handleJoin admits the client after the authorization check for
// explicit room kinds. An unauthorized join is logged and ignored; the
// socket stays connected.
func (r *Room) handleJoin(join *ClientMessage) {
	r.killTimer.Stop()

	c := join.client
	if !r.authorized(join) {
		if len(r.clients) == 0 {
			r.killTimer.Reset(idleRoomTimeout)
		}
		return
	}

	r.addClient(c)

	if join.Id > 0 {
		c.queueMessage(NoErrOK(join.Id, map[string]any{"room": r.name}))
	}
}

func (r *Room) authorized(join *ClientMessage) bool {
	kind, id, err := parseRoomName(r.name)
	if err != nil {
		r.log.Printf("join rejected, %v", err)
		return false
	}

	// a user room only ever admits its own user
	if kind == RoomKindUser {
		if id != join.UserId {
			r.log.Printf("user %d denied join to %q", join.UserId, r.name)
			return false
		}
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := r.es.authz.CanJoin(ctx, join.UserId, r.name)
	if err != nil {
		r.log.Printf("authorize join of user %d to %q: %v", join.UserId, r.name, err)
		return false
	}
	if !ok {
		r.log.Printf("user %d denied join to %q", join.UserId, r.name)
	}

	return ok
}

func (r *Room) handleLeave(leaveMsg *ClientMessage) {
	client := leaveMsg.client
	r.removeClient(client)

	if leaveMsg.Id > 0 {
		client.queueMessage(NoErrOK(leaveMsg.Id, nil))
	}
}

// handleTyping rebroadcasts a typing control message to the other
// members of the room. Nothing is persisted and no expiry is tracked
// server-side.
func (r *Room) handleTyping(msg *ClientMessage) {
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: msg.Timestamp,
		},
		Typing: &TypingNotice{
			Room:   r.name,
			UserId: msg.UserId,
			Active: msg.Typing.Active,
		},
		SkipClient: msg.client,
	})
}

// handleEvent fans one published event out to every current member.
func (r *Room) handleEvent(event *types.Event) {
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: event.OccurredAt,
		},
		Event: event,
	})
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	if r.userMap[c.user.Id] == nil {
		r.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	r.userMap[c.user.Id][c] = struct{}{}

	c.addRoom(r)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	c.delRoom(r.name)

	if userClients, ok := r.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.user.Id)
		}
	}

	if len(r.clients) == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.name)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

// broadcast delivers to every member except SkipClient. A member whose
// send queue is full is treated as failed and removed so one slow
// consumer never stalls the rest of the room.
func (r *Room) broadcast(msg *ServerMessage) {
	var failed []*Client

	r.clientLock.RLock()
	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		if client.queueMessage(msg) {
			r.es.stats.Incr(stats.EventsDelivered)
		} else {
			r.es.stats.Incr(stats.EventsDropped)
			failed = append(failed, client)
		}
	}
	r.clientLock.RUnlock()

	for _, client := range failed {
		r.removeClient(client)
		client.stopClient()
	}
}
