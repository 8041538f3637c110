package message

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// EncryptedSymmetricKey answers Hello. Both fields are sealed to the server's
// public key; the frame itself is never encrypted.
type EncryptedSymmetricKey struct {
	Header
	Key []byte `json:"encryptedSymmetricKey"`
	IV  []byte `json:"encryptedSymmetricIV"`
}

func (*EncryptedSymmetricKey) Kind() Kind { return KindEncryptedSymmetricKey }

type Credentials struct {
	Header
	AppID     string `json:"applicationId"`
	AppSecret string `json:"applicationSecret"`
}

func (*Credentials) Kind() Kind { return KindCredentials }

// UserInfo answers UserInfoRequest with identity and runtime metadata.
type UserInfo struct {
	Header
	UniqueUserID   string `json:"uniqueUserId"`
	Username       string `json:"username"`
	Platform       string `json:"runtimePlatform"`
	RuntimeVersion string `json:"runtimeVersion"`
	RuntimeMode    string `json:"runtimeMode"`
	Language       string `json:"systemLanguage"`
}

func (*UserInfo) Kind() Kind { return KindUserInfo }

type Heartbeat struct {
	Header
}

func (*Heartbeat) Kind() Kind { return KindHeartbeat }

type ChatSend struct {
	Header
	Channel string `json:"channelName"`
	Content string `json:"content"`
}

func (*ChatSend) Kind() Kind { return KindChatSend }

func (m *ChatSend) Validate() error {
	if strings.TrimSpace(m.Channel) == "" {
		return fmt.Errorf("%w: chat missing channel", ErrInvalid)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: chat missing content", ErrInvalid)
	}
	return nil
}

// WhisperSend addresses a display id, a unique user id, a group name or
// "respondTo:<message-id>".
type WhisperSend struct {
	Header
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

func (*WhisperSend) Kind() Kind { return KindWhisperSend }

func (m *WhisperSend) Validate() error {
	if strings.TrimSpace(m.Recipient) == "" {
		return fmt.Errorf("%w: whisper missing recipient", ErrInvalid)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: whisper missing content", ErrInvalid)
	}
	return nil
}

// RespondTo builds the recipient string for a reply to a received whisper.
func RespondTo(id uuid.UUID) string {
	return "respondTo:" + id.String()
}

type JoinChannel struct {
	Header
	Channel string `json:"channelName"`
}

func (*JoinChannel) Kind() Kind { return KindJoinChannel }

func (m *JoinChannel) Validate() error {
	return requireChannel("join", m.Channel)
}

type LeaveChannel struct {
	Header
	Channel string `json:"channelName"`
}

func (*LeaveChannel) Kind() Kind { return KindLeaveChannel }

func (m *LeaveChannel) Validate() error {
	return requireChannel("leave", m.Channel)
}

// GenerateChannel asks for a new channel. An empty Name lets the server pick one.
type GenerateChannel struct {
	Header
	Name string `json:"channelName,omitempty"`
}

func (*GenerateChannel) Kind() Kind { return KindGenerateChannel }

type ChannelInfoRequest struct {
	Header
	Channel string `json:"channelName"`
}

func (*ChannelInfoRequest) Kind() Kind { return KindChannelInfoRequest }

func (m *ChannelInfoRequest) Validate() error {
	return requireChannel("channel info", m.Channel)
}

// WhoisRequest looks up a user. An empty DisplayID asks about the caller.
type WhoisRequest struct {
	Header
	DisplayID string `json:"userDisplayId,omitempty"`
}

func (*WhoisRequest) Kind() Kind { return KindWhoisRequest }

type SetUsername struct {
	Header
	Username string `json:"username"`
}

func (*SetUsername) Kind() Kind { return KindSetUsername }

func (m *SetUsername) Validate() error {
	if strings.TrimSpace(m.Username) == "" {
		return fmt.Errorf("%w: username %q cannot be empty", ErrInvalid, m.Username)
	}
	return nil
}

type SetMetadata struct {
	Header
	Entries []MetadataEntry `json:"metadata"`
}

func (*SetMetadata) Kind() Kind { return KindSetMetadata }

func (m *SetMetadata) Validate() error {
	if len(m.Entries) == 0 {
		return fmt.Errorf("%w: metadata has no entries", ErrInvalid)
	}
	for i, e := range m.Entries {
		if strings.TrimSpace(e.Key) == "" {
			return fmt.Errorf("%w: metadata[%d] missing key", ErrInvalid, i)
		}
	}
	return nil
}

type ReportMessage struct {
	Header
	ReportedID  uuid.UUID `json:"reportedMessageId"`
	Description string    `json:"reportDescription"`
}

func (*ReportMessage) Kind() Kind { return KindReportMessage }

func (m *ReportMessage) Validate() error {
	if m.ReportedID == uuid.Nil {
		return fmt.Errorf("%w: report missing message id", ErrInvalid)
	}
	return nil
}

type ChannelHistoryRequest struct {
	Header
	Channel string `json:"channelName"`
}

func (*ChannelHistoryRequest) Kind() Kind { return KindChannelHistoryRequest }

func (m *ChannelHistoryRequest) Validate() error {
	return requireChannel("history", m.Channel)
}

type ChannelHistoryPagedRequest struct {
	Header
	Channel  string `json:"channelName"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
}

func (*ChannelHistoryPagedRequest) Kind() Kind { return KindChannelHistoryPagedRequest }

func (m *ChannelHistoryPagedRequest) Validate() error {
	if err := requireChannel("history", m.Channel); err != nil {
		return err
	}
	return validatePage(m.Page, m.PageSize)
}

type WhisperHistoryRequest struct {
	Header
	Peer string `json:"peer"`
}

func (*WhisperHistoryRequest) Kind() Kind { return KindWhisperHistoryRequest }

type WhisperHistoryPagedRequest struct {
	Header
	Peer     string `json:"peer"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
}

func (*WhisperHistoryPagedRequest) Kind() Kind { return KindWhisperHistoryPagedRequest }

func (m *WhisperHistoryPagedRequest) Validate() error {
	return validatePage(m.Page, m.PageSize)
}

func requireChannel(op, channel string) error {
	if strings.TrimSpace(channel) == "" {
		return fmt.Errorf("%w: %s missing channel", ErrInvalid, op)
	}
	return nil
}

func validatePage(page, size int) error {
	if page < 0 {
		return fmt.Errorf("%w: negative page %d", ErrInvalid, page)
	}
	if size <= 0 {
		return fmt.Errorf("%w: page size must be positive", ErrInvalid)
	}
	return nil
}
