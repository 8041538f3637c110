package chat

import (
	"fmt"
	"strings"

	"github.com/danmuck/chatlink/internal/message"
)

// Format renders an inbound message as one or more display lines. Messages
// with nothing to show return "".
func Format(m message.Message) string {
	switch msg := m.(type) {
	case *message.Chat:
		return fmt.Sprintf("[%s] %s: %s", msg.Channel, userLabel(msg.From), msg.Content)
	case *message.Whisper:
		return fmt.Sprintf("(whisper %s) %s: %s", msg.MessageID(), userLabel(msg.From), msg.Content)
	case *message.ChannelJoined:
		return fmt.Sprintf("* joined %s", msg.Channel.Name)
	case *message.ChannelLeft:
		return fmt.Sprintf("* left %s", msg.Channel)
	case *message.ChannelInfoResponse:
		names := make([]string, 0, len(msg.Members))
		for _, u := range msg.Members {
			names = append(names, userLabel(u))
		}
		return fmt.Sprintf("* %s (%d members) %s", msg.Channel.Name, msg.Channel.MemberCount, strings.Join(names, ", "))
	case *message.History:
		var b strings.Builder
		fmt.Fprintf(&b, "* history %s%s page=%d", msg.Channel, msg.Peer, msg.Page)
		for _, e := range msg.Entries {
			fmt.Fprintf(&b, "\n  %s %s: %s", e.SentAt.Format("15:04"), userLabel(e.From), e.Content)
		}
		return b.String()
	case *message.SetUsernameResponse:
		if !msg.Success {
			return "* nickname rejected: " + msg.Reason
		}
		return fmt.Sprintf("* you are now %s (%s)", msg.Username, msg.DisplayID)
	case *message.Goodbye:
		return "* server closed the session: " + msg.Reason
	}
	return ""
}

func userLabel(u message.User) string {
	if u.DisplayID == "" || u.DisplayID == u.Name {
		return u.Name
	}
	return fmt.Sprintf("%s#%s", u.Name, u.DisplayID)
}
