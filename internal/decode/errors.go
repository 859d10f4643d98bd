package decode

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoMatch    = errors.New("no command matches response")
	ErrShortFrame = errors.New("payload shorter than command minimum")
	ErrUnmapped   = errors.New("raw value has no lookup entry")
)

// NoMatchError lists the response messages no command accepted.
type NoMatchError struct {
	Messages []string
}

func (e *NoMatchError) Error() string {
	if len(e.Messages) == 0 {
		return ErrNoMatch.Error()
	}
	return fmt.Sprintf("%s (%s)", ErrNoMatch, strings.Join(e.Messages, "; "))
}

func (e *NoMatchError) Is(target error) bool { return target == ErrNoMatch }

type ShortFrameError struct {
	Command string
	Have    int
	Want    int
}

func (e *ShortFrameError) Error() string {
	return fmt.Sprintf("command %s: payload has %d bytes, needs %d", e.Command, e.Have, e.Want)
}

func (e *ShortFrameError) Is(target error) bool { return target == ErrShortFrame }

type UnmappedValueError struct {
	Signal string
	Raw    int64
}

func (e *UnmappedValueError) Error() string {
	return fmt.Sprintf("signal %s: raw value %d has no lookup entry", e.Signal, e.Raw)
}

func (e *UnmappedValueError) Is(target error) bool { return target == ErrUnmapped }
