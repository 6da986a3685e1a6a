package server

import (
	"net/http"
	"time"

	"github.com/voluntr/realtime/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Join   *Join   `json:"join,omitempty"`
	Leave  *Leave  `json:"leave,omitempty"`
	Typing *Typing `json:"typing,omitempty"`
	UserId int     `json:"-"`
	client *Client `json:"-"`
}

type Join struct {
	Room string `json:"room"`
}

type Leave struct {
	Room string `json:"room"`
}

type Typing struct {
	Room   string `json:"room"`
	Active bool   `json:"active"`
}

type ServerMessage struct {
	BaseMessage
	Response   *Response     `json:"response,omitempty"`
	Event      *types.Event  `json:"event,omitempty"`
	Typing     *TypingNotice `json:"typing,omitempty"`
	SkipClient *Client       `json:"-"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

// TypingNotice is the rebroadcast form of a typing control message.
// Expiry of a stale notice is a client-side concern.
type TypingNotice struct {
	Room   string `json:"room"`
	UserId int    `json:"user_id"`
	Active bool   `json:"active"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "room not found",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
