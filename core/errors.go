package core

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineClosed is returned by every operation after Close.
	ErrEngineClosed = errors.New("mdf engine is closed")
	// ErrChannelNotFound is returned when a channel selector matches nothing.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrAborted is the sentinel result of a structural operation that
	// observed the cooperative terminate flag. The accompanying result is
	// always nil; callers must treat it as "operation aborted, no output",
	// never as a partial file.
	ErrAborted = errors.New("operation aborted")
)

// FormatError reports a malformed or unsupported block structure: bad
// magic, truncated length, cyclic component tree, unsupported version.
// It is fatal to the open/parse call that produced it.
type FormatError struct {
	Message string
	Address int64  // file offset of the offending block, 0 if not applicable
	Block   string // block tag, empty if not applicable
}

func (e *FormatError) Error() string {
	switch {
	case e.Block != "" && e.Address != 0:
		return fmt.Sprintf("format error in %s block at 0x%X: %s", e.Block, e.Address, e.Message)
	case e.Address != 0:
		return fmt.Sprintf("format error at 0x%X: %s", e.Address, e.Message)
	default:
		return fmt.Sprintf("format error: %s", e.Message)
	}
}

// IsFormatError checks if an error is a FormatError.
func IsFormatError(err error) bool {
	var formatError *FormatError
	return errors.As(err, &formatError)
}

// StructuralMismatchError reports incompatible inputs to a cross-file
// operation such as concatenate. Fatal to that call only.
type StructuralMismatchError struct {
	Message string
	File    int // index of the offending input file
}

func (e *StructuralMismatchError) Error() string {
	return fmt.Sprintf("structural mismatch in input %d: %s", e.File, e.Message)
}

// IsStructuralMismatch checks if an error is a StructuralMismatchError.
func IsStructuralMismatch(err error) bool {
	var mismatch *StructuralMismatchError
	return errors.As(err, &mismatch)
}
