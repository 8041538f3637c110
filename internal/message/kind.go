package message

import "fmt"

// Kind discriminates message types on the wire and in the dispatcher.
type Kind uint32

// Server -> client kinds.
const (
	KindHello Kind = 100 + iota
	KindCredentialsRequest
	KindUserInfoRequest
	KindWelcome
	KindGoodbye
	KindAck
	KindChat
	KindWhisper
	KindChannelJoined
	KindChannelLeft
	KindChannelInfo
	KindUserInfoResponse
	KindSetUsernameResponse
	KindHistory
)

// Client -> server kinds.
const (
	KindEncryptedSymmetricKey Kind = 200 + iota
	KindCredentials
	KindUserInfo
	KindHeartbeat
	KindChatSend
	KindWhisperSend
	KindJoinChannel
	KindLeaveChannel
	KindGenerateChannel
	KindChannelInfoRequest
	KindWhoisRequest
	KindSetUsername
	KindSetMetadata
	KindReportMessage
	KindChannelHistoryRequest
	KindChannelHistoryPagedRequest
	KindWhisperHistoryRequest
	KindWhisperHistoryPagedRequest
)

var kindNames = map[Kind]string{
	KindHello:                      "hello",
	KindCredentialsRequest:         "credentials.request",
	KindUserInfoRequest:            "user_info.request",
	KindWelcome:                    "welcome",
	KindGoodbye:                    "goodbye",
	KindAck:                        "ack",
	KindChat:                       "chat",
	KindWhisper:                    "whisper",
	KindChannelJoined:              "channel.joined",
	KindChannelLeft:                "channel.left",
	KindChannelInfo:                "channel.info",
	KindUserInfoResponse:           "user_info.response",
	KindSetUsernameResponse:        "set_username.response",
	KindHistory:                    "history",
	KindEncryptedSymmetricKey:      "encrypted_symmetric_key",
	KindCredentials:                "credentials",
	KindUserInfo:                   "user_info",
	KindHeartbeat:                  "heartbeat",
	KindChatSend:                   "chat.send",
	KindWhisperSend:                "whisper.send",
	KindJoinChannel:                "channel.join",
	KindLeaveChannel:               "channel.leave",
	KindGenerateChannel:            "channel.generate",
	KindChannelInfoRequest:         "channel.info.request",
	KindWhoisRequest:               "whois.request",
	KindSetUsername:                "set_username",
	KindSetMetadata:                "set_metadata",
	KindReportMessage:              "report",
	KindChannelHistoryRequest:      "history.channel",
	KindChannelHistoryPagedRequest: "history.channel.paged",
	KindWhisperHistoryRequest:      "history.whisper",
	KindWhisperHistoryPagedRequest: "history.whisper.paged",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// Known reports whether k has a registered constructor.
func (k Kind) Known() bool {
	_, ok := constructors[k]
	return ok
}

// IsHandshakeReply reports kinds sent while the handshake is still running.
// They bypass the readiness gate and are never ack-tracked.
func IsHandshakeReply(k Kind) bool {
	switch k {
	case KindEncryptedSymmetricKey, KindCredentials, KindUserInfo:
		return true
	}
	return false
}

func IsHeartbeat(k Kind) bool {
	return k == KindHeartbeat
}

// IsEpochBound reports kinds that only make sense on the connection they
// were issued for. They are discarded instead of carried over a reconnect.
func IsEpochBound(k Kind) bool {
	switch k {
	case KindChannelHistoryRequest, KindChannelHistoryPagedRequest,
		KindWhisperHistoryRequest, KindWhisperHistoryPagedRequest,
		KindHeartbeat:
		return true
	}
	return false
}

var constructors = map[Kind]func() Message{
	KindHello:                      func() Message { return &Hello{} },
	KindCredentialsRequest:         func() Message { return &CredentialsRequest{} },
	KindUserInfoRequest:            func() Message { return &UserInfoRequest{} },
	KindWelcome:                    func() Message { return &Welcome{} },
	KindGoodbye:                    func() Message { return &Goodbye{} },
	KindAck:                        func() Message { return &Ack{} },
	KindChat:                       func() Message { return &Chat{} },
	KindWhisper:                    func() Message { return &Whisper{} },
	KindChannelJoined:              func() Message { return &ChannelJoined{} },
	KindChannelLeft:                func() Message { return &ChannelLeft{} },
	KindChannelInfo:                func() Message { return &ChannelInfoResponse{} },
	KindUserInfoResponse:           func() Message { return &UserInfoResponse{} },
	KindSetUsernameResponse:        func() Message { return &SetUsernameResponse{} },
	KindHistory:                    func() Message { return &History{} },
	KindEncryptedSymmetricKey:      func() Message { return &EncryptedSymmetricKey{} },
	KindCredentials:                func() Message { return &Credentials{} },
	KindUserInfo:                   func() Message { return &UserInfo{} },
	KindHeartbeat:                  func() Message { return &Heartbeat{} },
	KindChatSend:                   func() Message { return &ChatSend{} },
	KindWhisperSend:                func() Message { return &WhisperSend{} },
	KindJoinChannel:                func() Message { return &JoinChannel{} },
	KindLeaveChannel:               func() Message { return &LeaveChannel{} },
	KindGenerateChannel:            func() Message { return &GenerateChannel{} },
	KindChannelInfoRequest:         func() Message { return &ChannelInfoRequest{} },
	KindWhoisRequest:               func() Message { return &WhoisRequest{} },
	KindSetUsername:                func() Message { return &SetUsername{} },
	KindSetMetadata:                func() Message { return &SetMetadata{} },
	KindReportMessage:              func() Message { return &ReportMessage{} },
	KindChannelHistoryRequest:      func() Message { return &ChannelHistoryRequest{} },
	KindChannelHistoryPagedRequest: func() Message { return &ChannelHistoryPagedRequest{} },
	KindWhisperHistoryRequest:      func() Message { return &WhisperHistoryRequest{} },
	KindWhisperHistoryPagedRequest: func() Message { return &WhisperHistoryPagedRequest{} },
}

// New returns an empty message for kind.
func New(kind Kind) (Message, bool) {
	ctor, ok := constructors[kind]
	if !ok {
		return nil, false
	}
	return ctor(), true
}
