// internal/protocol/protocol.go
package protocol

import "strings"

// Wire constants of the USIS line protocol.
const (
	// Separator delimits the fields of requests and replies
	Separator = ";"

	// ChecksumSeparator precedes the two hex digits of a frame checksum
	ChecksumSeparator = "*"

	// EOT terminates every request and reply line
	EOT = "\n"

	// MaxFrameLen is the device request buffer size, line terminator included
	MaxFrameLen = 150

	// SuccessMarker is the error field of a reply carrying a value
	SuccessMarker = "M00"
)

// Reply field positions.
const (
	FieldError     = 0
	FieldProperty  = 1
	FieldAttribute = 2
	FieldState     = 3
	FieldValue     = 4

	// MinReplyFields is the field count of a well-formed value reply
	MinReplyFields = FieldValue + 1
)

// Well-known commands understood by the device firmware.
const (
	CommandGet  = "GET"
	CommandSet  = "SET"
	CommandInfo = "INFO"
)

// BuildCommand joins parts with the field separator and terminates the line.
func BuildCommand(parts ...string) string {
	return strings.Join(parts, Separator) + EOT
}

// EnsureTerminated appends the line terminator when text does not end with one.
func EnsureTerminated(text string) string {
	if len(text) > 0 && text[len(text)-1] == '\n' {
		return text
	}
	return text + EOT
}

// IsASCII reports whether every byte of s is 7-bit ASCII.
func IsASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			return false
		}
	}
	return true
}
