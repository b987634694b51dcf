package session

import (
	"context"
	"errors"
)

// ErrConnClosed is returned by a Conn whose peer closed the connection
// normally. Sessions treat it as a clean end.
var ErrConnClosed = errors.New("connection closed")

// Conn is one client connection carrying whole frames.
//
// ReadFrame is called from a single reader goroutine and WriteFrame from the
// session's run goroutine only. Close must unblock a pending ReadFrame.
type Conn interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, frame []byte) error
	Close() error
}
