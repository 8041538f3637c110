package message

import (
	"time"

	"github.com/google/uuid"
)

// Hello opens the handshake with the server's public key.
type Hello struct {
	Header
	PublicKey  string `json:"publicKey"`
	APIVersion string `json:"apiVersion,omitempty"`
}

func (*Hello) Kind() Kind { return KindHello }

type CredentialsRequest struct {
	Header
}

func (*CredentialsRequest) Kind() Kind { return KindCredentialsRequest }

type UserInfoRequest struct {
	Header
}

func (*UserInfoRequest) Kind() Kind { return KindUserInfoRequest }

// Welcome completes the handshake.
type Welcome struct {
	Header
	DisplayID string        `json:"displayId"`
	Channels  []ChannelInfo `json:"availableChannels"`
}

func (*Welcome) Kind() Kind { return KindWelcome }

// Goodbye announces a server-side close. It may arrive in any state.
type Goodbye struct {
	Header
	Reason             string `json:"reason"`
	AllowAutoReconnect bool   `json:"allowAutoReconnect"`
}

func (*Goodbye) Kind() Kind { return KindGoodbye }

// Ack confirms receipt of an ack-requested client message.
type Ack struct {
	Header
	AckedID uuid.UUID `json:"messageId"`
}

func (*Ack) Kind() Kind { return KindAck }

type Chat struct {
	Header
	Channel string    `json:"channelName"`
	From    User      `json:"fromUser"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sentAt"`
}

func (*Chat) Kind() Kind { return KindChat }

type Whisper struct {
	Header
	From    User      `json:"fromUser"`
	To      User      `json:"toUser"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sentAt"`
}

func (*Whisper) Kind() Kind { return KindWhisper }

type ChannelJoined struct {
	Header
	Channel    ChannelInfo `json:"channel"`
	CanLeave   bool        `json:"canLeave"`
	IsSilenced bool        `json:"isSilenced"`
}

func (*ChannelJoined) Kind() Kind { return KindChannelJoined }

type ChannelLeft struct {
	Header
	Channel string `json:"channelName"`
}

func (*ChannelLeft) Kind() Kind { return KindChannelLeft }

type ChannelInfoResponse struct {
	Header
	Channel ChannelInfo `json:"channel"`
	Members []User      `json:"members,omitempty"`
}

func (*ChannelInfoResponse) Kind() Kind { return KindChannelInfo }

type UserInfoResponse struct {
	Header
	Success   bool   `json:"success"`
	Username  string `json:"username"`
	DisplayID string `json:"userDisplayId"`
	Reason    string `json:"reason,omitempty"`
}

func (*UserInfoResponse) Kind() Kind { return KindUserInfoResponse }

type SetUsernameResponse struct {
	Header
	Success   bool   `json:"success"`
	Username  string `json:"username"`
	DisplayID string `json:"displayId"`
	Reason    string `json:"reason,omitempty"`
}

func (*SetUsernameResponse) Kind() Kind { return KindSetUsernameResponse }

// History answers channel and whisper history requests, paged or not.
type History struct {
	Header
	Channel string         `json:"channelName,omitempty"`
	Peer    string         `json:"peer,omitempty"`
	Page    int            `json:"page"`
	HasMore bool           `json:"hasMore"`
	Entries []HistoryEntry `json:"entries"`
}

func (*History) Kind() Kind { return KindHistory }
