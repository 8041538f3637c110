package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/chatlink/internal/message"
	"github.com/danmuck/chatlink/internal/session"
	"github.com/danmuck/chatlink/internal/testutil/testlog"
	"github.com/danmuck/chatlink/internal/transport"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSession struct {
	sent  []message.Message
	nicks []string
	err   error
}

func (r *recordingSession) Send(_ context.Context, m message.Message) error {
	if err := message.Validate(m); err != nil {
		return err
	}
	r.sent = append(r.sent, m)
	return r.err
}

func (r *recordingSession) SetUsername(_ context.Context, name string) error {
	r.nicks = append(r.nicks, name)
	return r.err
}

func (r *recordingSession) last(t *testing.T) message.Message {
	t.Helper()
	require.NotEmpty(t, r.sent)
	return r.sent[len(r.sent)-1]
}

func TestClientHandle(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	rs := &recordingSession{}
	c := NewClient(rs, "general")

	require.NoError(t, c.Handle(ctx, "hello"))
	chat := rs.last(t).(*message.ChatSend)
	assert.Equal(t, "general", chat.Channel)
	assert.Equal(t, "hello", chat.Content)

	require.NoError(t, c.Handle(ctx, "/join lobby"))
	join := rs.last(t).(*message.JoinChannel)
	assert.Equal(t, "lobby", join.Channel)
	assert.True(t, join.IsAckRequested())

	require.NoError(t, c.Handle(ctx, "/whisper someGroup hi all"))
	whisper := rs.last(t).(*message.WhisperSend)
	assert.Equal(t, "someGroup", whisper.Recipient)
	assert.Equal(t, "hi all", whisper.Content)

	id := uuid.New()
	require.NoError(t, c.Handle(ctx, "/whisper-back "+id.String()+" ok"))
	assert.Equal(t, message.RespondTo(id), rs.last(t).(*message.WhisperSend).Recipient)

	require.NoError(t, c.Handle(ctx, "/whoami"))
	assert.Empty(t, rs.last(t).(*message.WhoisRequest).DisplayID)

	require.NoError(t, c.Handle(ctx, "/status brb"))
	meta := rs.last(t).(*message.SetMetadata)
	require.Len(t, meta.Entries, 1)
	assert.Equal(t, message.MetadataEntry{Key: StatusKey, Value: "brb"}, meta.Entries[0])

	require.NoError(t, c.Handle(ctx, "/create-channel"))
	assert.Empty(t, rs.last(t).(*message.GenerateChannel).Name)

	require.NoError(t, c.Handle(ctx, "/report "+id.String()+" spam"))
	report := rs.last(t).(*message.ReportMessage)
	assert.Equal(t, id, report.ReportedID)
	assert.True(t, report.IsAckRequested())

	require.NoError(t, c.Handle(ctx, "/history general"))
	assert.Equal(t, message.KindChannelHistoryRequest, rs.last(t).Kind())

	require.NoError(t, c.Handle(ctx, "/nick alice-2"))
	assert.Equal(t, []string{"alice-2"}, rs.nicks)

	count := len(rs.sent)
	require.NoError(t, c.Handle(ctx, "   "))
	assert.Len(t, rs.sent, count)

	assert.ErrorIs(t, c.Handle(ctx, "/dance"), ErrUnknownCommand)
}

func TestClientSayWithoutChannel(t *testing.T) {
	testlog.Start(t)
	rs := &recordingSession{}
	c := NewClient(rs, "")
	assert.ErrorIs(t, c.Handle(context.Background(), "anyone?"), ErrNoChannel)
	assert.Empty(t, rs.sent)

	rs.err = errors.New("boom")
	c.SetChannel("general")
	assert.EqualError(t, c.Handle(context.Background(), "anyone?"), "boom")
}

type nopTransport struct{}

func (nopTransport) Name() string                                                  { return "nop" }
func (nopTransport) Connect(context.Context, string, int, transport.Handler) error { return nil }
func (nopTransport) Disconnect() error                                             { return nil }
func (nopTransport) Send(message.Message, bool) bool                               { return false }
func (nopTransport) Connected() bool                                               { return false }

func TestClientFollowsChannel(t *testing.T) {
	testlog.Start(t)
	ctrl := session.New(func(*message.Codec) transport.Transport { return nopTransport{} }, session.DefaultConfig())
	defer ctrl.Close()

	c := NewClient(&recordingSession{}, "general")
	ids := c.Follow(ctrl)
	require.Len(t, ids, 2)

	ctrl.Dispatcher().Dispatch(&message.ChannelJoined{Channel: message.ChannelInfo{Name: "lobby"}})
	assert.Equal(t, "lobby", c.Channel())
	ctrl.Dispatcher().Dispatch(&message.ChannelLeft{Channel: "general"})
	assert.Equal(t, "lobby", c.Channel())
	ctrl.Dispatcher().Dispatch(&message.ChannelLeft{Channel: "LOBBY"})
	assert.Empty(t, c.Channel())

	for _, id := range ids {
		ctrl.Unsubscribe(id)
	}
	ctrl.Dispatcher().Dispatch(&message.ChannelJoined{Channel: message.ChannelInfo{Name: "raid"}})
	assert.Empty(t, c.Channel())
}

func TestFormat(t *testing.T) {
	testlog.Start(t)
	at := time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)
	bob := message.User{Name: "bob", DisplayID: "bobbyx0042"}
	cases := []struct {
		m    message.Message
		want string
	}{
		{m: &message.Chat{Channel: "general", From: bob, Content: "hi"}, want: "[general] bob#bobbyx0042: hi"},
		{m: &message.ChannelJoined{Channel: message.ChannelInfo{Name: "lobby"}}, want: "* joined lobby"},
		{m: &message.ChannelLeft{Channel: "lobby"}, want: "* left lobby"},
		{m: &message.SetUsernameResponse{Success: false, Reason: "taken"}, want: "* nickname rejected: taken"},
		{m: &message.Goodbye{Reason: "maintenance"}, want: "* server closed the session: maintenance"},
		{m: &message.History{Channel: "general", Entries: []message.HistoryEntry{{From: message.SystemUser, Content: "welcome", SentAt: at}}},
			want: "* history general page=0\n  15:04 SYSTEM: welcome"},
		{m: &message.Ack{}, want: ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Format(tc.m), "kind=%s", tc.m.Kind())
	}
}
