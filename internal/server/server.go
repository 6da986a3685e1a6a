package server

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/voluntr/realtime/internal/stats"
	"github.com/voluntr/realtime/internal/types"
)

type stopReq struct {
	done chan struct{}
}

// EventServer owns every connection session and room and runs the
// single ingestion queue. One instance per process; multi-instance
// fan-out would need an external pub/sub backbone.
type EventServer struct {
	log            *log.Logger
	stats          stats.StatsProvider
	authz          RoomAuthorizer
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *ClientMessage
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	publishChan    chan *types.Event
	unloadRoomChan chan string
	rooms          map[string]*Room
	stop           chan stopReq
	done           chan struct{}
}

func NewEventServer(logger *log.Logger, authz RoomAuthorizer, st stats.StatsProvider) (*EventServer, error) {
	if authz == nil {
		return nil, fmt.Errorf("room authorizer is required")
	}

	for _, m := range []string{
		stats.ActiveConnections,
		stats.ActiveRooms,
		stats.EventsPublished,
		stats.EventsDelivered,
		stats.EventsDropped,
	} {
		st.RegisterMetric(m)
	}

	return &EventServer{
		log:            logger,
		stats:          st,
		authz:          authz,
		clients:        make(map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		publishChan:    make(chan *types.Event, 512),
		unloadRoomChan: make(chan string, 64),
		rooms:          make(map[string]*Room),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}, nil
}

func (es *EventServer) Run() {
	for {
		select {
		case joinMsg := <-es.joinChan:
			es.handleJoin(joinMsg)
		case client := <-es.RegisterChan:
			es.log.Printf("registering session %s for user %d", client.sessionId, client.user.Id)
			es.addClient(client)
			es.stats.Incr(stats.ActiveConnections)

			// every session is implicitly a member of its user room
			es.handleJoin(&ClientMessage{
				Join:   &Join{Room: types.UserRoom(client.user.Id)},
				UserId: client.user.Id,
				client: client,
			})
		case client := <-es.deRegisterChan:
			es.log.Printf("removing session %s", client.sessionId)
			es.removeClient(client)
			es.stats.Decr(stats.ActiveConnections)
		case event := <-es.publishChan:
			es.handlePublish(event)
		case name := <-es.unloadRoomChan:
			if r, ok := es.rooms[name]; ok {
				es.unloadRoom(name)
				r.exit <- exitReq{}
				<-r.done
			}
		case req := <-es.stop:
			es.log.Println("shutting down rooms")
			for _, r := range es.rooms {
				close(r.exit)
				<-r.done
			}

			close(es.done)
			if req.done != nil {
				close(req.done)
			}
			return
		}
	}
}

// Publish is the ingestion entry point. It never blocks the caller: a
// full ingestion queue drops the event, the polling fallback covers it.
func (es *EventServer) Publish(event types.Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = Now()
	}

	select {
	case es.publishChan <- &event:
	default:
		es.log.Printf("ingestion queue full, dropping event %q", event.Id)
		es.stats.Incr(stats.EventsDropped)
	}
}

func (es *EventServer) handlePublish(event *types.Event) {
	es.stats.Incr(stats.EventsPublished)

	name := event.Room()
	if _, _, err := parseRoomName(name); err != nil {
		es.log.Printf("dropping event %q: %v", event.Id, err)
		es.stats.Incr(stats.EventsDropped)
		return
	}

	room, ok := es.rooms[name]
	if !ok {
		// nobody connected for this room, best-effort delivery ends here
		return
	}

	select {
	case room.eventChan <- event:
	default:
		es.log.Printf("event channel full on room %q", name)
		es.stats.Incr(stats.EventsDropped)
	}
}

func (es *EventServer) handleJoin(joinMsg *ClientMessage) {
	name := joinMsg.Join.Room
	if _, _, err := parseRoomName(name); err != nil {
		es.log.Printf("join rejected, %v", err)
		if joinMsg.Id > 0 {
			joinMsg.client.queueMessage(ErrRoomNotFound(joinMsg.Id))
		}
		return
	}

	room, ok := es.rooms[name]
	if !ok {
		room = newRoom(name, es)
		es.rooms[name] = room
		es.stats.Incr(stats.ActiveRooms)
		go room.start()
	}

	select {
	case room.joinChan <- joinMsg:
	default:
		es.log.Printf("join channel full on room %q", name)
		if joinMsg.Id > 0 {
			joinMsg.client.queueMessage(ErrServiceUnavailable(joinMsg.Id))
		}
	}
}

func (es *EventServer) addClient(c *Client) {
	es.clientsLock.Lock()
	defer es.clientsLock.Unlock()
	es.clients[c] = struct{}{}
}

func (es *EventServer) removeClient(c *Client) {
	es.clientsLock.Lock()
	defer es.clientsLock.Unlock()
	delete(es.clients, c)
}

func (es *EventServer) unloadRoom(name string) {
	if _, ok := es.rooms[name]; ok {
		es.log.Printf("removing room %q", name)
		delete(es.rooms, name)
		es.stats.Decr(stats.ActiveRooms)
	}
}

// Shutdown stops every client session and drains the rooms, bounded by
// the context deadline.
func (es *EventServer) Shutdown(ctx context.Context) error {
	es.clientsLock.Lock()
	for c := range es.clients {
		c.stopClient()
	}
	es.clientsLock.Unlock()

	req := stopReq{done: make(chan struct{})}
	select {
	case es.stop <- req:
	case <-ctx.Done():
		return fmt.Errorf("event server shutdown: %w", ctx.Err())
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event server shutdown: %w", ctx.Err())
	}
}
