package api

import (
	"context"

	"github.com/google/uuid"
)

// MessageType classifies a message on the wire.
type MessageType int32

const (
	MessageTypeUnspecified MessageType = iota
	MessageTypePublish
	MessageTypeRequest
	MessageTypeResponse
	MessageTypeNotification
)

func (t MessageType) String() string {
	switch t {
	case MessageTypePublish:
		return "publish"
	case MessageTypeRequest:
		return "request"
	case MessageTypeResponse:
		return "response"
	case MessageTypeNotification:
		return "notification"
	default:
		return "unspecified"
	}
}

// Priority follows the CS0..CS6 classes of service.
type Priority int32

const (
	PriorityUnspecified Priority = iota
	PriorityCS0
	PriorityCS1
	PriorityCS2
	PriorityCS3
	PriorityCS4
	PriorityCS5
	PriorityCS6
)

// PayloadFormat describes how Payload should be interpreted by the receiver.
type PayloadFormat int32

const (
	PayloadFormatUnspecified PayloadFormat = iota
	PayloadFormatProtobufAny
	PayloadFormatProtobuf
	PayloadFormatJSON
	PayloadFormatSomeIP
	PayloadFormatSomeIPTLV
	PayloadFormatRaw
	PayloadFormatText
)

// Attributes carry the routing and delivery metadata of a Message.
type Attributes struct {
	ID          uuid.UUID
	Type        MessageType
	Source      URI
	Sink        URI
	Priority    Priority
	TTL         uint32
	Token       string
	Traceparent string
	ReqID       uuid.UUID
}

// Message is the envelope moved across the bridge.
type Message struct {
	Attributes Attributes
	// Payload is nil when empty. The encoding does not tell an empty payload
	// from a missing one, so both decode as nil.
	Payload    []byte
	Format     PayloadFormat
}

// NewMessageID returns a time-ordered message identifier.
func NewMessageID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// NewPublish builds a publish message for topic.
func NewPublish(topic URI, payload []byte, format PayloadFormat) Message {
	return Message{
		Attributes: Attributes{
			ID:       NewMessageID(),
			Type:     MessageTypePublish,
			Source:   topic,
			Priority: PriorityCS1,
		},
		Payload: payload,
		Format:  format,
	}
}

// Listener receives messages delivered for a topic registration.
// Registries compare listeners by the identity of the underlying reference,
// so two listeners with identical behavior are still distinct.
type Listener interface {
	OnReceive(ctx context.Context, msg Message)
}

type funcListener struct {
	fn func(context.Context, Message)
}

func (l *funcListener) OnReceive(ctx context.Context, msg Message) { l.fn(ctx, msg) }

// NewListener wraps fn in a freshly allocated Listener. Every call returns a
// distinct identity, even for the same fn.
func NewListener(fn func(context.Context, Message)) Listener {
	return &funcListener{fn: fn}
}
