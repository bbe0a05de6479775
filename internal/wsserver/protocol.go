// Package wsserver provides a WebSocket server that streams tab-strip state
// to the shell frontend and accepts tab commands from it.
//
// # Message protocol
//
// Every frame is a JSON text message.
//
// Client to server (ClientMessage):
//
//	{"action":"subscribe","topics":["tabs","strip"]}
//	{"action":"unsubscribe","topics":["log"]}
//	{"action":"command","id":"7","command":"activate","args":{"tab_id":"..."}}
//
// Server to client (Envelope):
//
//	{"type":"push","topic":"tabs","data":{...}}
//	{"type":"reply","id":"7","ok":true,"data":{...}}
//	{"type":"error","error":"..."}
//
// Pushes are only sent for topics the client subscribed to.
package wsserver

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Topics a client may subscribe to.
const (
	TopicTabs  = "tabs"
	TopicStrip = "strip"
	TopicLog   = "log"
)

var knownTopics = map[string]bool{
	TopicTabs:  true,
	TopicStrip: true,
	TopicLog:   true,
}

// Client actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionCommand     = "command"
)

// Envelope types.
const (
	TypePush  = "push"
	TypeReply = "reply"
	TypeError = "error"
)

// ErrMalformedMessage wraps every ClientMessage decoding failure.
var ErrMalformedMessage = errors.New("wsserver: malformed client message")

// ClientMessage is a frame sent by the frontend.
type ClientMessage struct {
	Action  string          `json:"action"`
	Topics  []string        `json:"topics,omitempty"`
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Envelope is a frame sent to the frontend.
type Envelope struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic,omitempty"`
	ID    string          `json:"id,omitempty"`
	OK    bool            `json:"ok,omitempty"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeClientMessage parses and validates a client frame.
func DecodeClientMessage(raw []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	switch msg.Action {
	case ActionSubscribe, ActionUnsubscribe:
		if len(msg.Topics) == 0 {
			return ClientMessage{}, fmt.Errorf("%w: %s without topics", ErrMalformedMessage, msg.Action)
		}
		for _, topic := range msg.Topics {
			if !knownTopics[topic] {
				return ClientMessage{}, fmt.Errorf("%w: unknown topic %q", ErrMalformedMessage, topic)
			}
		}
	case ActionCommand:
		if msg.ID == "" || msg.Command == "" {
			return ClientMessage{}, fmt.Errorf("%w: command requires id and command", ErrMalformedMessage)
		}
	default:
		return ClientMessage{}, fmt.Errorf("%w: unknown action %q", ErrMalformedMessage, msg.Action)
	}
	return msg, nil
}

// EncodePush builds a push frame for topic carrying data.
func EncodePush(topic string, data any) ([]byte, error) {
	if !knownTopics[topic] {
		return nil, fmt.Errorf("wsserver: encode push: unknown topic %q", topic)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("wsserver: encode push: %w", err)
	}
	return json.Marshal(Envelope{Type: TypePush, Topic: topic, Data: raw})
}

// EncodeReply builds the reply frame for command id. A non-nil err produces
// a failed reply carrying its message.
func EncodeReply(id string, data any, err error) ([]byte, error) {
	env := Envelope{Type: TypeReply, ID: id}
	if err != nil {
		env.Error = err.Error()
		return json.Marshal(env)
	}
	env.OK = true
	if data != nil {
		raw, mErr := json.Marshal(data)
		if mErr != nil {
			return nil, fmt.Errorf("wsserver: encode reply: %w", mErr)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

func encodeError(message string) ([]byte, error) {
	return json.Marshal(Envelope{Type: TypeError, Error: message})
}
