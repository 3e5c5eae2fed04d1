package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Inbound event names.
const (
	EventJoin        = "join"
	EventUserJoin    = "userJoin" // legacy name for join
	EventSendMessage = "sendMessage"
	EventTyping      = "typing"
	EventStopTyping  = "stopTyping"
	EventGetUsers    = "getUsers"
)

// Outbound event names.
const (
	EventUserJoined        = "userJoined"
	EventMessageHistory    = "messageHistory"
	EventReceiveMessage    = "receiveMessage"
	EventUserTyping        = "userTyping"
	EventUserStoppedTyping = "userStoppedTyping"
	EventUsersList         = "usersList"
	EventUserLeft          = "userLeft"
)

// Message kinds carried in the "type" field.
const (
	KindUser   = "user"
	KindSystem = "system"
)

var (
	// ErrMalformed marks an inbound frame that is not a valid envelope or
	// lacks a required field.
	ErrMalformed = errors.New("malformed event")
	// ErrUnknownEvent marks a well-formed envelope with an unsupported name.
	ErrUnknownEvent = errors.New("unknown event")
)

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Session binds a connection to the username it announced.
type Session struct {
	ConnID   string    `json:"id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joinedAt"`
}

// ChatMessage is an accepted chat line. Values are never modified after
// construction.
type ChatMessage struct {
	OriginConnID string    `json:"id"`
	Username     string    `json:"username"`
	Body         string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	Type         string    `json:"type"`
}

// NewChatMessage stamps a user message with its arrival time.
func NewChatMessage(connID, username, body string, at time.Time) ChatMessage {
	return ChatMessage{
		OriginConnID: connID,
		Username:     username,
		Body:         body,
		Timestamp:    at,
		Type:         KindUser,
	}
}

// SystemNotice is the payload of userJoined and userLeft.
type SystemNotice struct {
	Message   string    `json:"message"`
	Users     []Session `json:"users"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
}

// TypingNotice is the payload of userTyping.
type TypingNotice struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

// StoppedTypingNotice is the payload of userStoppedTyping.
type StoppedTypingNotice struct {
	UserID string `json:"userId"`
}

// Event is an outbound event before encoding.
type Event struct {
	Name    string
	Payload any
}

// Encode renders the event as an envelope frame.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Name, err)
	}
	return json.Marshal(Envelope{Event: e.Name, Data: data})
}

// JoinedEvent builds the userJoined broadcast.
func JoinedEvent(username string, users []Session, at time.Time) Event {
	return Event{Name: EventUserJoined, Payload: SystemNotice{
		Message:   username + " joined the chat",
		Users:     users,
		Timestamp: at,
		Type:      KindSystem,
	}}
}

// LeftEvent builds the userLeft broadcast.
func LeftEvent(username string, users []Session, at time.Time) Event {
	return Event{Name: EventUserLeft, Payload: SystemNotice{
		Message:   username + " left the chat",
		Users:     users,
		Timestamp: at,
		Type:      KindSystem,
	}}
}

// Command is a validated inbound request. The concrete types below are the
// only implementations.
type Command interface {
	EventName() string
}

// JoinCommand announces the connection's username.
type JoinCommand struct {
	Username string
}

// SendMessageCommand submits a chat line. Username is only meaningful when
// HasUsername is set; otherwise the session's name applies.
type SendMessageCommand struct {
	Username    string
	HasUsername bool
	Body        string
}

// TypingCommand marks the sender as typing.
type TypingCommand struct {
	Username    string
	HasUsername bool
}

// StopTypingCommand clears the sender's typing marker.
type StopTypingCommand struct{}

// GetUsersCommand asks for the current session list.
type GetUsersCommand struct{}

func (JoinCommand) EventName() string        { return EventJoin }
func (SendMessageCommand) EventName() string { return EventSendMessage }
func (TypingCommand) EventName() string      { return EventTyping }
func (StopTypingCommand) EventName() string  { return EventStopTyping }
func (GetUsersCommand) EventName() string    { return EventGetUsers }

type joinPayload struct {
	Username *string `json:"username"`
}

type sendMessagePayload struct {
	Username *string `json:"username"`
	Message  *string `json:"message"`
}

type typingPayload struct {
	Username *string `json:"username"`
}

// DecodeCommand parses and validates one inbound frame. Any error wraps
// ErrMalformed or ErrUnknownEvent.
func DecodeCommand(raw []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrMalformed)
	}

	switch env.Event {
	case EventJoin, EventUserJoin:
		var p joinPayload
		if err := decodePayload(env.Data, &p); err != nil {
			return nil, err
		}
		if p.Username == nil {
			return nil, fmt.Errorf("%w: %s requires username", ErrMalformed, env.Event)
		}
		return JoinCommand{Username: *p.Username}, nil

	case EventSendMessage:
		var p sendMessagePayload
		if err := decodePayload(env.Data, &p); err != nil {
			return nil, err
		}
		if p.Message == nil {
			return nil, fmt.Errorf("%w: sendMessage requires message", ErrMalformed)
		}
		cmd := SendMessageCommand{Body: *p.Message}
		if p.Username != nil {
			cmd.Username, cmd.HasUsername = *p.Username, true
		}
		return cmd, nil

	case EventTyping:
		var p typingPayload
		if err := decodePayload(env.Data, &p); err != nil {
			return nil, err
		}
		cmd := TypingCommand{}
		if p.Username != nil {
			cmd.Username, cmd.HasUsername = *p.Username, true
		}
		return cmd, nil

	case EventStopTyping:
		return StopTypingCommand{}, nil

	case EventGetUsers:
		return GetUsersCommand{}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

// decodePayload treats an absent or null payload as an empty object.
func decodePayload(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
