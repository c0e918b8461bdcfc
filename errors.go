package typedstream

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed matches every *MalformedError via errors.Is.
	ErrMalformed = errors.New("malformed typedstream")
	// ErrReaderUsed is returned when a Reader's events are requested twice.
	ErrReaderUsed = errors.New("typedstream reader already consumed")
)

// MalformedError reports a structurally invalid entry and where it starts.
type MalformedError struct {
	Offset int
	Detail string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed typedstream at offset %d: %s", e.Offset, e.Detail)
}

func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

func malformed(off int, format string, args ...any) error {
	return &MalformedError{Offset: off, Detail: fmt.Sprintf(format, args...)}
}

// errStop unwinds the walker when the consumer stops iterating.
var errStop = errors.New("typedstream: consumer stopped")
