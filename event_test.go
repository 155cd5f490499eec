package librtm

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent_KnownTypes(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Event
	}{
		{
			name:  "hello",
			frame: `{"type":"hello"}`,
			want:  &HelloEvent{},
		},
		{
			name:  "message",
			frame: `{"type":"message","channel":"C1","user":"U1","text":"hi","ts":"1.000","edited":{"user":"U1","ts":"2.000"}}`,
			want: &MessageEvent{
				Channel: "C1", User: "U1", Text: "hi", TS: "1.000",
				Edited: &Edited{User: "U1", TS: "2.000"},
			},
		},
		{
			name:  "presence",
			frame: `{"type":"presence_change","user":"U1","presence":"away"}`,
			want:  &PresenceChangeEvent{User: "U1", Presence: "away"},
		},
		{
			name:  "channel created",
			frame: `{"type":"channel_created","channel":{"id":"C3","name":"ops","created":1700000000,"creator":"U1"}}`,
			want:  &ChannelCreatedEvent{Channel: Channel{ID: "C3", Name: "ops", Created: 1700000000, Creator: "U1"}},
		},
		{
			name:  "channel left",
			frame: `{"type":"channel_left","channel":"C3"}`,
			want:  &ChannelLeftEvent{Channel: "C3"},
		},
		{
			name:  "member joined",
			frame: `{"type":"member_joined_channel","user":"U2","channel":"C1"}`,
			want:  &MemberJoinedChannelEvent{User: "U2", Channel: "C1"},
		},
		{
			name:  "pong",
			frame: `{"type":"pong","reply_to":4}`,
			want:  &PongEvent{ReplyTo: 4},
		},
		{
			name:  "error",
			frame: `{"type":"error","error":{"code":1,"msg":"Socket URL has expired"}}`,
			want:  &ErrorEvent{Error: ErrorDetail{Code: 1, Msg: "Socket URL has expired"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok, err := DecodeEvent([]byte(tt.frame))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.want, ev)
		})
	}
}

func TestDecodeEvent_ChannelRename(t *testing.T) {
	ev, ok, err := DecodeEvent([]byte(`{"type":"channel_rename","channel":{"id":"C1","name":"lobby","created":5}}`))
	require.NoError(t, err)
	require.True(t, ok)

	rename, isRename := ev.(*ChannelRenameEvent)
	require.True(t, isRename)
	assert.Equal(t, "C1", rename.Channel.ID)
	assert.Equal(t, "lobby", rename.Channel.Name)
	assert.Equal(t, int64(5), rename.Channel.Created)
}

func TestDecodeEvent_Reply(t *testing.T) {
	ev, ok, err := DecodeEvent([]byte(`{"ok":true,"reply_to":1,"ts":"1700000000.000200","text":"hi"}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, &ReplyEvent{ReplyTo: 1, OK: true, TS: "1700000000.000200", Text: "hi"}, ev)
	assert.Equal(t, EventReply, ev.EventType())

	ev, ok, err = DecodeEvent([]byte(`{"ok":false,"reply_to":2,"error":{"code":2,"msg":"message text is missing"}}`))
	require.NoError(t, err)
	require.True(t, ok)
	reply := ev.(*ReplyEvent)
	assert.False(t, reply.OK)
	require.NotNil(t, reply.Error)
	assert.Equal(t, 2, reply.Error.Code)
}

func TestDecodeEvent_Unrecognized(t *testing.T) {
	frame := []byte(`{"type":"emoji_changed","subtype":"add","name":"party"}`)
	ev, ok, err := DecodeEvent(frame)
	require.NoError(t, err)
	require.True(t, ok)

	u, isUnknown := ev.(*UnrecognizedEvent)
	require.True(t, isUnknown)
	assert.Equal(t, "emoji_changed", u.EventType())
	assert.JSONEq(t, string(frame), string(u.Raw))

	// Raw does not alias the input buffer.
	frame[2] = 'X'
	assert.Contains(t, string(u.Raw), `"type"`)
}

func TestDecodeEvent_NotAnEvent(t *testing.T) {
	for _, frame := range []string{`{"foo":"bar"}`, `{}`, `{"type":""}`, `{"type":null}`} {
		ev, ok, err := DecodeEvent([]byte(frame))
		assert.NoError(t, err, frame)
		assert.False(t, ok, frame)
		assert.Nil(t, ev, frame)
	}
}

func TestDecodeEvent_Malformed(t *testing.T) {
	tests := []struct {
		frame string
		typ   string
	}{
		{frame: `not json`, typ: ""},
		{frame: `[1,2,3]`, typ: ""},
		{frame: `{"type":42}`, typ: ""},
		{frame: `{"type":"channel_created","channel":"oops"}`, typ: EventChannelCreated},
		{frame: `{"type":"pong","reply_to":4,"time":"late"}`, typ: EventPong},
		{frame: `{"reply_to":1,"ok":"yes"}`, typ: EventReply},
	}

	for _, tt := range tests {
		ev, ok, err := DecodeEvent([]byte(tt.frame))
		require.Error(t, err, tt.frame)
		assert.False(t, ok)
		assert.Nil(t, ev)

		var decodeErr *DecodeError
		require.True(t, errors.As(err, &decodeErr), tt.frame)
		assert.Equal(t, tt.typ, decodeErr.Type, tt.frame)
		assert.NotNil(t, errors.Unwrap(err))
	}
}
