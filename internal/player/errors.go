package player

import (
	"errors"
	"fmt"

	"github.com/zsiec/rewind/internal/media"
)

var (
	// ErrSeekRejected is returned when the input cannot be repositioned.
	ErrSeekRejected = errors.New("player: seek rejected")

	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("player: closed")

	// ErrNoStreams is returned by Open when no stream could be opened.
	ErrNoStreams = errors.New("player: no playable stream")
)

// StreamError reports a failure confined to one stream. The stream is
// closed; the others keep playing.
type StreamError struct {
	Kind media.Kind
	Op   string
	Err  error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("player: %s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
