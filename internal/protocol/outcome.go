// internal/protocol/outcome.go
package protocol

import "fmt"

// OutcomeKind tags the variant held by an Outcome.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeTimeout
	OutcomePortUnavailable
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeTimeout:
		return "timeout"
	case OutcomePortUnavailable:
		return "port_unavailable"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the result of one exchange. The frame is always the text that was
// sent, or attempted when the link was unavailable. Only OK outcomes carry a reply.
type Outcome struct {
	kind  OutcomeKind
	reply string
	frame string
}

// Ok builds a successful outcome.
func Ok(reply, frame string) Outcome {
	return Outcome{kind: OutcomeOK, reply: reply, frame: frame}
}

// Timeout builds an outcome for an exchange whose deadline passed without reply.
func Timeout(frame string) Outcome {
	return Outcome{kind: OutcomeTimeout, frame: frame}
}

// PortUnavailable builds an outcome for an absent or disconnected link.
func PortUnavailable(frame string) Outcome {
	return Outcome{kind: OutcomePortUnavailable, frame: frame}
}

func (o Outcome) Kind() OutcomeKind { return o.kind }

func (o Outcome) Frame() string { return o.frame }

// Reply returns the captured reply line; ok is false unless the outcome is OK.
func (o Outcome) Reply() (line string, ok bool) {
	return o.reply, o.kind == OutcomeOK
}

// Code maps the outcome onto the operator error catalogue.
func (o Outcome) Code() ErrorCode {
	switch o.kind {
	case OutcomeTimeout:
		return CodeTimeout
	case OutcomePortUnavailable:
		return CodePortUnavailable
	default:
		return CodeOK
	}
}

func (o Outcome) String() string {
	if o.kind == OutcomeOK {
		return fmt.Sprintf("%s(reply=%q, frame=%q)", o.kind, o.reply, o.frame)
	}
	return fmt.Sprintf("%s(frame=%q)", o.kind, o.frame)
}
