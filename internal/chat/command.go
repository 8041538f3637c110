// Package chat turns typed input lines into session requests. Lines starting
// with "/" are commands; anything else is chat for the current channel.
package chat

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	CmdSay           = "say"
	CmdJoin          = "join"
	CmdLeave         = "leave"
	CmdCreateChannel = "create-channel"
	CmdWhisper       = "whisper"
	CmdWhisperBack   = "whisper-back"
	CmdWhois         = "whois"
	CmdWhoami        = "whoami"
	CmdChannelInfo   = "channel-info"
	CmdStatus        = "status"
	CmdNick          = "nick"
	CmdHistory       = "history"
	CmdReport        = "report"
)

var (
	ErrEmptyInput      = errors.New("chat: empty input")
	ErrUnknownCommand  = errors.New("chat: unknown command")
	ErrMissingArgument = errors.New("chat: missing argument")
	ErrBadMessageID    = errors.New("chat: bad message id")
	ErrInvalidNick     = errors.New("chat: invalid nickname")
)

var (
	displayIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{6}[0-9]{4}$`)
	nickPattern      = regexp.MustCompile(`^[\p{L}\-\d]{3,25}$`)
)

// IsDisplayID reports whether s has the server's display id shape.
func IsDisplayID(s string) bool {
	return displayIDPattern.MatchString(s)
}

func ValidNick(s string) bool {
	return nickPattern.MatchString(s)
}

// Command is one parsed input line.
type Command struct {
	Name string
	Arg  string
	Text string
	// MessageID is set for whisper-back and report.
	MessageID uuid.UUID
}

// Parse reads one input line. Plain text becomes a CmdSay command.
func Parse(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, ErrEmptyInput
	}
	if !strings.HasPrefix(line, "/") {
		return Command{Name: CmdSay, Text: line}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	arg, text, _ := strings.Cut(rest, " ")
	text = strings.TrimSpace(text)
	cmd := Command{Name: strings.ToLower(name), Arg: arg, Text: text}

	switch cmd.Name {
	case CmdJoin, CmdLeave, CmdChannelInfo, CmdWhois, CmdHistory:
		if cmd.Arg == "" {
			return Command{}, fmt.Errorf("%w: /%s <name>", ErrMissingArgument, cmd.Name)
		}
	case CmdCreateChannel, CmdWhoami:
	case CmdWhisper:
		if cmd.Arg == "" || cmd.Text == "" {
			return Command{}, fmt.Errorf("%w: /whisper <recipient> <text>", ErrMissingArgument)
		}
	case CmdWhisperBack, CmdReport:
		id, err := uuid.Parse(cmd.Arg)
		if err != nil {
			return Command{}, fmt.Errorf("%w: %q", ErrBadMessageID, cmd.Arg)
		}
		if cmd.Name == CmdWhisperBack && cmd.Text == "" {
			return Command{}, fmt.Errorf("%w: /whisper-back <message-id> <text>", ErrMissingArgument)
		}
		cmd.MessageID = id
	case CmdStatus:
		cmd.Arg, cmd.Text = "", rest
		if cmd.Text == "" {
			return Command{}, fmt.Errorf("%w: /status <text>", ErrMissingArgument)
		}
	case CmdNick:
		if !ValidNick(cmd.Arg) || cmd.Text != "" {
			return Command{}, fmt.Errorf("%w: %q", ErrInvalidNick, rest)
		}
	default:
		return Command{}, fmt.Errorf("%w: /%s", ErrUnknownCommand, name)
	}
	return cmd, nil
}
