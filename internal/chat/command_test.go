package chat

import (
	"errors"
	"testing"

	"github.com/danmuck/chatlink/internal/testutil/testlog"
	"github.com/google/uuid"
)

func TestParse(t *testing.T) {
	testlog.Start(t)
	id := uuid.MustParse("7d0a5c36-5d0c-4f43-9a55-0e6b0b4f0d11")
	cases := []struct {
		line string
		want Command
	}{
		{line: "hello there", want: Command{Name: CmdSay, Text: "hello there"}},
		{line: "  /join   general ", want: Command{Name: CmdJoin, Arg: "general"}},
		{line: "/leave general", want: Command{Name: CmdLeave, Arg: "general"}},
		{line: "/create-channel", want: Command{Name: CmdCreateChannel}},
		{line: "/create-channel raid-night", want: Command{Name: CmdCreateChannel, Arg: "raid-night"}},
		{line: "/whisper bobbyx0042 see you soon", want: Command{Name: CmdWhisper, Arg: "bobbyx0042", Text: "see you soon"}},
		{line: "/whisper-back " + id.String() + " thanks", want: Command{Name: CmdWhisperBack, Arg: id.String(), Text: "thanks", MessageID: id}},
		{line: "/whois bobbyx0042", want: Command{Name: CmdWhois, Arg: "bobbyx0042"}},
		{line: "/whoami", want: Command{Name: CmdWhoami}},
		{line: "/channel-info general", want: Command{Name: CmdChannelInfo, Arg: "general"}},
		{line: "/status away for lunch", want: Command{Name: CmdStatus, Text: "away for lunch"}},
		{line: "/nick Jörg-2", want: Command{Name: CmdNick, Arg: "Jörg-2"}},
		{line: "/history general", want: Command{Name: CmdHistory, Arg: "general"}},
		{line: "/report " + id.String() + " spam", want: Command{Name: CmdReport, Arg: id.String(), Text: "spam", MessageID: id}},
		{line: "/JOIN general", want: Command{Name: CmdJoin, Arg: "general"}},
	}
	for _, tc := range cases {
		got, err := Parse(tc.line)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.line, err)
		}
		if got != tc.want {
			t.Fatalf("Parse(%q)=%+v want %+v", tc.line, got, tc.want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		line string
		want error
	}{
		{line: "", want: ErrEmptyInput},
		{line: "   ", want: ErrEmptyInput},
		{line: "/dance", want: ErrUnknownCommand},
		{line: "/join", want: ErrMissingArgument},
		{line: "/whisper bobbyx0042", want: ErrMissingArgument},
		{line: "/whisper-back not-a-uuid hi", want: ErrBadMessageID},
		{line: "/report 1234 spam", want: ErrBadMessageID},
		{line: "/status", want: ErrMissingArgument},
		{line: "/nick ab", want: ErrInvalidNick},
		{line: "/nick abcdefghijklmnopqrstuvwxyz", want: ErrInvalidNick},
		{line: "/nick bad_name", want: ErrInvalidNick},
		{line: "/nick two words", want: ErrInvalidNick},
	}
	for _, tc := range cases {
		if _, err := Parse(tc.line); !errors.Is(err, tc.want) {
			t.Fatalf("Parse(%q) err=%v want %v", tc.line, err, tc.want)
		}
	}
}

func TestIsDisplayID(t *testing.T) {
	testlog.Start(t)
	for id, want := range map[string]bool{
		"alicex0001":      true,
		"ABC123" + "9876": true,
		"alice0001":       false,
		"alice!0001":      false,
		"alicex000a":      false,
		"alicex00012":     false,
	} {
		if got := IsDisplayID(id); got != want {
			t.Fatalf("IsDisplayID(%q)=%t want %t", id, got, want)
		}
	}
}
