// Package auth checks the application credentials a client presents during
// the handshake.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates an application id and secret.
type Validator interface {
	Validate(appID, secret string) error
}

// StaticCredentials accepts exactly one application. It is meant for
// development servers and tests.
type StaticCredentials struct {
	AppID     string
	AppSecret string
}

func (s StaticCredentials) Validate(appID, secret string) error {
	if s.AppID == "" || s.AppSecret == "" {
		return ErrUnauthorized
	}
	idOK := subtle.ConstantTimeCompare([]byte(s.AppID), []byte(strings.TrimSpace(appID)))
	secretOK := subtle.ConstantTimeCompare([]byte(s.AppSecret), []byte(secret))
	if idOK&secretOK != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Registry accepts any application whose id maps to the presented secret.
type Registry map[string]string

func (r Registry) Validate(appID, secret string) error {
	stored, ok := r[strings.TrimSpace(appID)]
	if !ok {
		return ErrUnauthorized
	}
	return StaticCredentials{AppID: strings.TrimSpace(appID), AppSecret: stored}.Validate(appID, secret)
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(appID, secret string) error

func (f FuncValidator) Validate(appID, secret string) error {
	return f(appID, secret)
}

// AllowAll accepts any credentials.
var AllowAll = FuncValidator(func(string, string) error { return nil })
