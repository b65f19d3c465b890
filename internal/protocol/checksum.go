// internal/protocol/checksum.go
package protocol

import "strings"

// Checksum computes the running XOR of every byte of the UTF-8 encoding of text.
// The device computes the same value over the request body, separators included.
func Checksum(text string) byte {
	var cks byte
	for i := 0; i < len(text); i++ {
		cks ^= text[i]
	}
	return cks
}

// FormatChecksum renders a checksum as two zero-padded uppercase hex digits.
func FormatChecksum(cks byte) string {
	const hexDigits = "0123456789ABCDEF"
	return string([]byte{hexDigits[cks>>4], hexDigits[cks&0x0F]})
}

// Frame returns the bytes to transmit for command.
//
// When attach is false the command is returned unchanged, which is what the
// legacy host tool puts on the wire. When attach is true the line terminator is
// stripped and "*HH\n" is appended, HH being the checksum of the stripped body.
func Frame(command string, attach bool) string {
	if !attach {
		return command
	}

	body := trimTerminator(command)
	return body + ChecksumSeparator + FormatChecksum(Checksum(body)) + EOT
}

// SplitChecksum separates a trailing "*HH" checksum from line. The line terminator
// is not part of either result. ok is false when the line does not end with a
// separator followed by exactly two hex digits.
func SplitChecksum(line string) (body, sum string, ok bool) {
	trimmed := trimTerminator(line)
	idx := strings.LastIndex(trimmed, ChecksumSeparator)
	if idx < 0 || len(trimmed)-idx-1 != 2 || !isHex(trimmed[idx+1:]) {
		return trimmed, "", false
	}
	return trimmed[:idx], trimmed[idx+1:], true
}

// VerifyChecksum checks the trailing checksum of a reply line. Lines without a
// checksum verify trivially.
func VerifyChecksum(line string) error {
	body, sum, ok := SplitChecksum(line)
	if !ok {
		return nil
	}

	want := FormatChecksum(Checksum(body))
	if !strings.EqualFold(sum, want) {
		return &ChecksumMismatchError{Line: line, Expected: want, Actual: sum}
	}
	return nil
}

// StripChecksum removes a trailing checksum and returns the line newline-terminated.
func StripChecksum(line string) string {
	body, _, ok := SplitChecksum(line)
	if !ok {
		return line
	}
	return body + EOT
}

func trimTerminator(s string) string {
	return strings.TrimRight(s, "\r\n")
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'F' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
