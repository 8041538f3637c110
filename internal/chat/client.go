package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/danmuck/chatlink/internal/message"
	"github.com/danmuck/chatlink/internal/session"
	logs "github.com/danmuck/smplog"
	"github.com/google/uuid"
)

// StatusKey is the metadata key /status writes.
const StatusKey = "CustomStatus"

var ErrNoChannel = errors.New("chat: no current channel")

// Session is the part of the controller the chat client drives.
type Session interface {
	Send(ctx context.Context, m message.Message) error
	SetUsername(ctx context.Context, name string) error
}

// Client runs commands against a session and tracks the current channel.
type Client struct {
	s Session

	mu      sync.Mutex
	channel string
}

func NewClient(s Session, channel string) *Client {
	return &Client{s: s, channel: strings.TrimSpace(channel)}
}

func (c *Client) Channel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

func (c *Client) SetChannel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channel = strings.TrimSpace(name)
}

// Follow keeps the current channel in step with join and leave replies.
func (c *Client) Follow(sub session.Subscriber) []session.SubscriptionID {
	joined := session.Subscribe(sub, func(m *message.ChannelJoined) {
		c.SetChannel(m.Channel.Name)
	})
	left := session.Subscribe(sub, func(m *message.ChannelLeft) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if strings.EqualFold(c.channel, m.Channel) {
			c.channel = ""
		}
	})
	return []session.SubscriptionID{joined, left}
}

// Handle parses line and runs it. Empty input is ignored.
func (c *Client) Handle(ctx context.Context, line string) error {
	cmd, err := Parse(line)
	if errors.Is(err, ErrEmptyInput) {
		logs.Debug("chat.Client empty input ignored")
		return nil
	}
	if err != nil {
		return err
	}
	return c.Run(ctx, cmd)
}

func (c *Client) Run(ctx context.Context, cmd Command) error {
	switch cmd.Name {
	case CmdSay:
		return c.Say(ctx, "", cmd.Text)
	case CmdJoin:
		return c.Join(ctx, cmd.Arg)
	case CmdLeave:
		return c.Leave(ctx, cmd.Arg)
	case CmdCreateChannel:
		return c.CreateChannel(ctx, cmd.Arg)
	case CmdWhisper:
		return c.Whisper(ctx, cmd.Arg, cmd.Text)
	case CmdWhisperBack:
		return c.WhisperBack(ctx, cmd.MessageID, cmd.Text)
	case CmdWhois:
		return c.Whois(ctx, cmd.Arg)
	case CmdWhoami:
		return c.Whois(ctx, "")
	case CmdChannelInfo:
		return c.ChannelInfo(ctx, cmd.Arg)
	case CmdStatus:
		return c.SetStatus(ctx, cmd.Text)
	case CmdNick:
		return c.s.SetUsername(ctx, cmd.Arg)
	case CmdHistory:
		return c.History(ctx, cmd.Arg)
	case CmdReport:
		return c.Report(ctx, cmd.MessageID, cmd.Text)
	}
	return ErrUnknownCommand
}

// Say sends chat to channel, or to the current channel when channel is empty.
func (c *Client) Say(ctx context.Context, channel, text string) error {
	if channel == "" {
		channel = c.Channel()
	}
	if channel == "" {
		return ErrNoChannel
	}
	return c.s.Send(ctx, &message.ChatSend{Channel: channel, Content: text})
}

func (c *Client) Join(ctx context.Context, channel string) error {
	return c.s.Send(ctx, message.RequestAck(&message.JoinChannel{Channel: channel}))
}

func (c *Client) Leave(ctx context.Context, channel string) error {
	return c.s.Send(ctx, message.RequestAck(&message.LeaveChannel{Channel: channel}))
}

// CreateChannel asks for a channel; an empty name lets the server pick.
func (c *Client) CreateChannel(ctx context.Context, name string) error {
	return c.s.Send(ctx, &message.GenerateChannel{Name: name})
}

// Whisper accepts display ids, unique user ids and group names.
func (c *Client) Whisper(ctx context.Context, recipient, text string) error {
	if !IsDisplayID(recipient) {
		logs.Infof("chat.Client recipient=%q is not a display id, sending as unique id or group", recipient)
	}
	return c.s.Send(ctx, &message.WhisperSend{Recipient: recipient, Content: text})
}

func (c *Client) WhisperBack(ctx context.Context, id uuid.UUID, text string) error {
	return c.s.Send(ctx, &message.WhisperSend{Recipient: message.RespondTo(id), Content: text})
}

// Whois asks about displayID, or about the caller when it is empty.
func (c *Client) Whois(ctx context.Context, displayID string) error {
	return c.s.Send(ctx, &message.WhoisRequest{DisplayID: displayID})
}

func (c *Client) ChannelInfo(ctx context.Context, channel string) error {
	return c.s.Send(ctx, &message.ChannelInfoRequest{Channel: channel})
}

func (c *Client) SetStatus(ctx context.Context, status string) error {
	return c.s.Send(ctx, &message.SetMetadata{Entries: []message.MetadataEntry{{Key: StatusKey, Value: status}}})
}

func (c *Client) History(ctx context.Context, channel string) error {
	return c.s.Send(ctx, &message.ChannelHistoryRequest{Channel: channel})
}

func (c *Client) Report(ctx context.Context, id uuid.UUID, description string) error {
	return c.s.Send(ctx, message.RequestAck(&message.ReportMessage{ReportedID: id, Description: description}))
}
