package librtm

import (
	"encoding/json"
)

const (
	EventHello               = "hello"
	EventMessage             = "message"
	EventUserTyping          = "user_typing"
	EventPresenceChange      = "presence_change"
	EventChannelCreated      = "channel_created"
	EventChannelJoined       = "channel_joined"
	EventChannelLeft         = "channel_left"
	EventChannelRename       = "channel_rename"
	EventChannelDeleted      = "channel_deleted"
	EventChannelArchive      = "channel_archive"
	EventChannelUnarchive    = "channel_unarchive"
	EventMemberJoinedChannel = "member_joined_channel"
	EventMemberLeftChannel   = "member_left_channel"
	EventUserChange          = "user_change"
	EventTeamJoin            = "team_join"
	EventPong                = "pong"
	EventError               = "error"

	// EventReply is reported by ReplyEvent, which has no type on the wire.
	EventReply = "reply"
)

// Event is any inbound occurrence decoded from the gateway. Use a type switch
// on the concrete pointer types to inspect it.
type Event interface {
	EventType() string
}

type (
	HelloEvent struct{}

	// Edited marks a message that was changed after being posted.
	Edited struct {
		User string `json:"user"`
		TS   string `json:"ts"`
	}

	MessageEvent struct {
		Channel  string  `json:"channel"`
		User     string  `json:"user"`
		Text     string  `json:"text"`
		TS       string  `json:"ts"`
		ThreadTS string  `json:"thread_ts,omitempty"`
		Subtype  string  `json:"subtype,omitempty"`
		Hidden   bool    `json:"hidden,omitempty"`
		Edited   *Edited `json:"edited,omitempty"`
	}

	UserTypingEvent struct {
		Channel string `json:"channel"`
		User    string `json:"user"`
	}

	PresenceChangeEvent struct {
		User     string `json:"user"`
		Presence string `json:"presence"`
	}

	ChannelCreatedEvent struct {
		Channel Channel `json:"channel"`
	}

	ChannelJoinedEvent struct {
		Channel Channel `json:"channel"`
	}

	ChannelLeftEvent struct {
		Channel string `json:"channel"`
	}

	ChannelRenameEvent struct {
		Channel struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Created int64  `json:"created"`
		} `json:"channel"`
	}

	ChannelDeletedEvent struct {
		Channel string `json:"channel"`
	}

	ChannelArchiveEvent struct {
		Channel string `json:"channel"`
		User    string `json:"user"`
	}

	ChannelUnarchiveEvent struct {
		Channel string `json:"channel"`
		User    string `json:"user"`
	}

	MemberJoinedChannelEvent struct {
		User    string `json:"user"`
		Channel string `json:"channel"`
	}

	MemberLeftChannelEvent struct {
		User    string `json:"user"`
		Channel string `json:"channel"`
	}

	UserChangeEvent struct {
		User User `json:"user"`
	}

	TeamJoinEvent struct {
		User User `json:"user"`
	}

	PongEvent struct {
		ReplyTo int64 `json:"reply_to"`
		Time    int64 `json:"time,omitempty"`
	}

	// ErrorDetail is the error body the gateway sends for failed requests.
	ErrorDetail struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}

	ErrorEvent struct {
		Error ErrorDetail `json:"error"`
	}

	// ReplyEvent acknowledges an outbound frame by id.
	ReplyEvent struct {
		ReplyTo int64        `json:"reply_to"`
		OK      bool         `json:"ok"`
		TS      string       `json:"ts,omitempty"`
		Text    string       `json:"text,omitempty"`
		Error   *ErrorDetail `json:"error,omitempty"`
	}

	// UnrecognizedEvent carries frames whose type has no dedicated variant.
	UnrecognizedEvent struct {
		Type string
		Raw  json.RawMessage
	}
)

func (*HelloEvent) EventType() string               { return EventHello }
func (*MessageEvent) EventType() string             { return EventMessage }
func (*UserTypingEvent) EventType() string          { return EventUserTyping }
func (*PresenceChangeEvent) EventType() string      { return EventPresenceChange }
func (*ChannelCreatedEvent) EventType() string      { return EventChannelCreated }
func (*ChannelJoinedEvent) EventType() string       { return EventChannelJoined }
func (*ChannelLeftEvent) EventType() string         { return EventChannelLeft }
func (*ChannelRenameEvent) EventType() string       { return EventChannelRename }
func (*ChannelDeletedEvent) EventType() string      { return EventChannelDeleted }
func (*ChannelArchiveEvent) EventType() string      { return EventChannelArchive }
func (*ChannelUnarchiveEvent) EventType() string    { return EventChannelUnarchive }
func (*MemberJoinedChannelEvent) EventType() string { return EventMemberJoinedChannel }
func (*MemberLeftChannelEvent) EventType() string   { return EventMemberLeftChannel }
func (*UserChangeEvent) EventType() string          { return EventUserChange }
func (*TeamJoinEvent) EventType() string            { return EventTeamJoin }
func (*PongEvent) EventType() string                { return EventPong }
func (*ErrorEvent) EventType() string               { return EventError }
func (*ReplyEvent) EventType() string               { return EventReply }
func (e *UnrecognizedEvent) EventType() string      { return e.Type }

var eventDecoders = map[string]func() Event{
	EventHello:               func() Event { return &HelloEvent{} },
	EventMessage:             func() Event { return &MessageEvent{} },
	EventUserTyping:          func() Event { return &UserTypingEvent{} },
	EventPresenceChange:      func() Event { return &PresenceChangeEvent{} },
	EventChannelCreated:      func() Event { return &ChannelCreatedEvent{} },
	EventChannelJoined:       func() Event { return &ChannelJoinedEvent{} },
	EventChannelLeft:         func() Event { return &ChannelLeftEvent{} },
	EventChannelRename:       func() Event { return &ChannelRenameEvent{} },
	EventChannelDeleted:      func() Event { return &ChannelDeletedEvent{} },
	EventChannelArchive:      func() Event { return &ChannelArchiveEvent{} },
	EventChannelUnarchive:    func() Event { return &ChannelUnarchiveEvent{} },
	EventMemberJoinedChannel: func() Event { return &MemberJoinedChannelEvent{} },
	EventMemberLeftChannel:   func() Event { return &MemberLeftChannelEvent{} },
	EventUserChange:          func() Event { return &UserChangeEvent{} },
	EventTeamJoin:            func() Event { return &TeamJoinEvent{} },
	EventPong:                func() Event { return &PongEvent{} },
	EventError:               func() Event { return &ErrorEvent{} },
}

type eventEnvelope struct {
	Type    *string `json:"type"`
	ReplyTo *int64  `json:"reply_to"`
}

// DecodeEvent decodes an inbound frame.
//
// Frames carrying neither a type nor a reply_to field are not events: ok is
// false and err is nil. Known types decode into their variant, unknown types
// into *UnrecognizedEvent. A frame that has a discriminant but does not
// decode returns a *DecodeError.
func DecodeEvent(data []byte) (ev Event, ok bool, err error) {
	var env eventEnvelope
	if err = json.Unmarshal(data, &env); err != nil {
		return nil, false, &DecodeError{err: err}
	}

	switch {
	case env.Type != nil && *env.Type != "":
		typ := *env.Type
		factory, found := eventDecoders[typ]
		if !found {
			raw := make(json.RawMessage, len(data))
			copy(raw, data)
			return &UnrecognizedEvent{Type: typ, Raw: raw}, true, nil
		}
		ev = factory()
		if err = json.Unmarshal(data, ev); err != nil {
			return nil, false, &DecodeError{Type: typ, err: err}
		}
		return ev, true, nil
	case env.ReplyTo != nil:
		reply := &ReplyEvent{}
		if err = json.Unmarshal(data, reply); err != nil {
			return nil, false, &DecodeError{Type: EventReply, err: err}
		}
		return reply, true, nil
	default:
		return nil, false, nil
	}
}
