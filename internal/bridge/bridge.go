// Package bridge is the write path's hook into the gateway: a
// fire-and-forget publisher called right after a notification-worthy
// row is committed. Delivery is best effort; the client-side polling
// fallback is the durability backstop.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/voluntr/realtime/internal/types"
)

const (
	internalSecretHeader = "x-internal-secret"
	defaultTimeout       = 2 * time.Second
)

// Publisher is the contract the write path depends on. Publish must
// never fail the caller: no error return, no retry, no queueing.
type Publisher interface {
	Publish(event types.Event)
}

// GatewayPublisher posts events to the gateway's ingestion endpoint.
type GatewayPublisher struct {
	endpoint string
	secret   string
	client   *http.Client
	log      *log.Logger
}

func NewGatewayPublisher(gatewayURL, secret string, logger *log.Logger) *GatewayPublisher {
	return &GatewayPublisher{
		endpoint: gatewayURL + "/_internal/notify",
		secret:   secret,
		client:   &http.Client{Timeout: defaultTimeout},
		log:      logger,
	}
}

// Publish makes one bounded attempt to hand the event to the gateway.
// Failures are logged and swallowed; the caller's write has already
// committed and must not be affected.
func (p *GatewayPublisher) Publish(event types.Event) {
	if event.Id == "" {
		event.Id = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(notifyBody{
		Id:        event.Id,
		UserId:    event.UserId,
		RoomId:    event.RoomId,
		Type:      event.Type,
		Payload:   event.Payload,
		CreatedAt: event.OccurredAt,
	})
	if err != nil {
		p.log.Printf("bridge: marshal event %q: %v", event.Id, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		p.log.Printf("bridge: build request for event %q: %v", event.Id, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(internalSecretHeader, p.secret)

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Printf("bridge: publish event %q: %v", event.Id, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.log.Printf("bridge: publish event %q: gateway returned %d", event.Id, resp.StatusCode)
	}
}

// notifyBody matches the gateway's NotifyRequest shape.
type notifyBody struct {
	Id        string          `json:"id,omitempty"`
	UserId    int             `json:"user_id,omitempty"`
	RoomId    int             `json:"room_id,omitempty"`
	Type      types.EventType `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
}

// NopPublisher discards every event. Used when no gateway is
// configured; clients then rely entirely on polling.
type NopPublisher struct{}

func (NopPublisher) Publish(types.Event) {}
