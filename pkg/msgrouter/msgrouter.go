package msgrouter

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrUnknownType   = errors.New("unknown message type")
	ErrMissingFields = errors.New("message is missing required fields")
)

// Message is the wire envelope every broadcast message travels in.
type Message struct {
	Type      string          `json:"type"`
	UserId    string          `json:"userId"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// DecodeData unmarshals the data field into dest. Messages that are
// required to carry data but arrive without it fail here.
func (m *Message) DecodeData(dest any) error {
	if len(m.Data) == 0 {
		return ErrMissingFields
	}

	return json.Unmarshal(m.Data, dest)
}

type HandlerFunc func(ctx context.Context, msg *Message)

// Router dispatches decoded messages to the handler registered for
// their type.
type Router struct {
	routes map[string]HandlerFunc
}

func New() *Router {
	return &Router{routes: make(map[string]HandlerFunc)}
}

func (r *Router) Handle(messageType string, handler HandlerFunc) {
	r.routes[messageType] = handler
}

// Dispatch decodes raw into a Message and routes it. Messages with an
// unregistered type return ErrUnknownType; messages missing the type or
// sender fields return ErrMissingFields. Callers decide whether either
// is worth more than a debug log.
func (r *Router) Dispatch(ctx context.Context, raw []byte) error {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return err
	}

	return r.DispatchMessage(ctx, &msg)
}

func (r *Router) DispatchMessage(ctx context.Context, msg *Message) error {
	if msg.Type == "" || msg.UserId == "" {
		return ErrMissingFields
	}

	handler, exists := r.routes[msg.Type]
	if !exists {
		return ErrUnknownType
	}

	handler(ctx, msg)
	return nil
}
