package session

import "errors"

var (
	ErrInvalidUsername     = errors.New("session: invalid username")
	ErrCredentialsRequired = errors.New("session: credentials required")
	ErrEndpointRequired    = errors.New("session: endpoint required")
	ErrAlreadyConnected    = errors.New("session: already connected")
	ErrNotReady            = errors.New("session: not ready to send")
	ErrEpochChanged        = errors.New("session: connection epoch changed")
	ErrClosed              = errors.New("session: controller closed")
	ErrInvalidMessage      = errors.New("session: invalid message")
)
