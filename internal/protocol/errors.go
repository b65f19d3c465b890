// internal/protocol/errors.go
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode indexes the operator-facing result catalogue.
type ErrorCode int

const (
	CodeOK ErrorCode = iota
	CodeInvalidArguments
	CodeTimeout
	CodeUnexpectedReply
	CodePortUnavailable
	CodeChecksumMismatch
)

var codeDescriptions = [...]string{
	CodeOK:               "Ok, order completed",
	CodeInvalidArguments: "Invalid arguments",
	CodeTimeout:          "Timeout reached",
	CodeUnexpectedReply:  "Unexpected reply",
	CodePortUnavailable:  "Serial PORT not available",
	CodeChecksumMismatch: "Checksum error in the returned message",
}

// Description returns the catalogue text for the code.
func (c ErrorCode) Description() string {
	if c < 0 || int(c) >= len(codeDescriptions) {
		return fmt.Sprintf("Unknown error code %d", int(c))
	}
	return codeDescriptions[c]
}

func (c ErrorCode) String() string {
	return c.Description()
}

// Codes returns the whole catalogue in index order.
func Codes() []ErrorCode {
	codes := make([]ErrorCode, len(codeDescriptions))
	for i := range codes {
		codes[i] = ErrorCode(i)
	}
	return codes
}

var (
	ErrMalformedReply   = errors.New("usis: malformed reply")
	ErrChecksumMismatch = errors.New("usis: checksum mismatch")
	ErrInvalidArguments = errors.New("usis: invalid arguments")
	ErrDeviceError      = errors.New("usis: device reported an error")
)

// MalformedReplyError is returned by Decode when a reply has too few fields.
type MalformedReplyError struct {
	Line   string
	Fields int
}

func (e *MalformedReplyError) Error() string {
	return fmt.Sprintf("malformed reply %q: got %d fields, want at least %d",
		e.Line, e.Fields, MinReplyFields)
}

func (e *MalformedReplyError) Unwrap() error { return ErrMalformedReply }

// ChecksumMismatchError indicates a reply whose trailing checksum does not match its body.
type ChecksumMismatchError struct {
	Line     string
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch in reply %q: expected %s, got %s",
		e.Line, e.Expected, e.Actual)
}

func (e *ChecksumMismatchError) Unwrap() error { return ErrChecksumMismatch }

// InvalidArgumentError describes a command rejected before it reached the wire.
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return "invalid arguments: " + e.Reason
}

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArguments }

// ValidateCommand rejects text the device cannot accept: empty commands, non-ASCII
// text, more than one line, and frames larger than the device request buffer.
func ValidateCommand(frame string) error {
	body := trimTerminator(frame)
	switch {
	case body == "":
		return &InvalidArgumentError{Reason: "empty command"}
	case !IsASCII(frame):
		return &InvalidArgumentError{Reason: "command must be ASCII text"}
	case strings.ContainsAny(body, "\r\n"):
		return &InvalidArgumentError{Reason: "command must be a single line"}
	case len(frame) > MaxFrameLen:
		return &InvalidArgumentError{
			Reason: fmt.Sprintf("frame is %d bytes, device accepts at most %d", len(frame), MaxFrameLen),
		}
	}
	return nil
}
