package librtm

import (
	"encoding/json"
)

// OutboundCommand is anything the client can write to the gateway.
type OutboundCommand interface {
	// needsID reports whether the command draws an id from the allocator.
	needsID() bool
	// encode renders the wire payload. id is ignored by commands that do not
	// need one.
	encode(id int64) ([]byte, error)
}

type (
	SendCommand struct {
		Channel string
		Text    string
	}

	// EditCommand rewrites an existing message, addressed by its timestamp.
	EditCommand struct {
		Channel string
		TS      string
		Text    string
	}

	TypingCommand struct {
		Channel string
	}

	pingCommand struct{}
)

type (
	sendPayload struct {
		ID      int64  `json:"id"`
		Channel string `json:"channel"`
		Text    string `json:"text"`
		Type    string `json:"type"`
	}

	editPayload struct {
		Channel string `json:"channel"`
		TS      string `json:"ts"`
		Text    string `json:"text"`
		AsUser  bool   `json:"as_user"`
		Type    string `json:"type"`
	}

	typingPayload struct {
		ID      int64  `json:"id"`
		Channel string `json:"channel"`
		Type    string `json:"type"`
	}

	pingPayload struct {
		ID   int64  `json:"id"`
		Type string `json:"type"`
	}
)

func (SendCommand) needsID() bool { return true }

func (c SendCommand) encode(id int64) ([]byte, error) {
	return json.Marshal(sendPayload{ID: id, Channel: c.Channel, Text: c.Text, Type: "message"})
}

func (EditCommand) needsID() bool { return false }

func (c EditCommand) encode(int64) ([]byte, error) {
	return json.Marshal(editPayload{
		Channel: c.Channel,
		TS:      c.TS,
		Text:    c.Text,
		AsUser:  true,
		Type:    "chat.update",
	})
}

func (TypingCommand) needsID() bool { return true }

func (c TypingCommand) encode(id int64) ([]byte, error) {
	return json.Marshal(typingPayload{ID: id, Channel: c.Channel, Type: "typing"})
}

func (pingCommand) needsID() bool { return true }

func (pingCommand) encode(id int64) ([]byte, error) {
	return json.Marshal(pingPayload{ID: id, Type: "ping"})
}
