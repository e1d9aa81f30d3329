// Package responder produces the assistant's reply to a user turn.
package responder

import (
	"context"
	"errors"
)

var ErrMalformedReply = errors.New("responder returned a malformed reply")

// Turn is one prior message of the conversation.
type Turn struct {
	Role    string
	Content string
}

type Request struct {
	SessionId string
	UserText  string
	// History holds the turns before UserText, oldest first.
	History []Turn
}

type Responder interface {
	Respond(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to Responder.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Respond(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
