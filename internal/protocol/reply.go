// internal/protocol/reply.go
package protocol

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// DecodedReply holds the fields of a value reply.
// ErrorField and Value are always set by Decode; the middle fields are the
// property, attribute and state echoed by the device.
type DecodedReply struct {
	ErrorField string `json:"error_field"`
	Property   string `json:"property"`
	Attribute  string `json:"attribute"`
	State      string `json:"state"`
	Value      string `json:"value"`
}

// Decode splits a reply line on the field separator and extracts the error field
// (index 0) and the value (index 4, line terminator removed).
func Decode(line string) (DecodedReply, error) {
	fields := strings.Split(line, Separator)
	if len(fields) < MinReplyFields {
		return DecodedReply{}, &MalformedReplyError{Line: line, Fields: len(fields)}
	}

	return DecodedReply{
		ErrorField: fields[FieldError],
		Property:   fields[FieldProperty],
		Attribute:  fields[FieldAttribute],
		State:      fields[FieldState],
		Value:      strings.TrimRight(strings.SplitN(fields[FieldValue], EOT, 2)[0], "\r"),
	}, nil
}

// IsSuccess reports whether the device flagged the reply as successful.
func (r DecodedReply) IsSuccess() bool {
	return r.ErrorField == SuccessMarker
}

// Decimal parses the value as a decimal number.
func (r DecodedReply) Decimal() (decimal.Decimal, error) {
	v := strings.TrimSpace(r.Value)
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("value %q is not numeric: %w", r.Value, err)
	}
	return d, nil
}

// DeviceError is an error reply emitted by the device firmware, e.g. "M01;UNKNOWN PROPERTY".
type DeviceError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error %s: %s", e.Code, e.Description)
}

func (e *DeviceError) Unwrap() error { return ErrDeviceError }

// Device error codes.
const (
	DeviceErrTimeout          = "C01"
	DeviceErrBadRequest       = "C02"
	DeviceErrBadChecksum      = "C03"
	DeviceErrOverflow         = "C04"
	DeviceErrUnknownProperty  = "M01"
	DeviceErrUnknownAttribute = "M02"
	DeviceErrReadOnly         = "M03"
	DeviceErrBadValueType     = "M04"
	DeviceErrNoValue          = "M05"
	DeviceErrUnknownCommand   = "M06"
	DeviceErrBadValue         = "M08"
	DeviceErrBadIndex         = "M09"
)

var deviceErrorPattern = regexp.MustCompile(`^[CM][0-9]{2}$`)

// ParseDeviceError recognises a two-field error reply. Value replies (M00) and
// anything else return ok == false.
func ParseDeviceError(line string) (*DeviceError, bool) {
	fields := strings.Split(trimTerminator(line), Separator)
	if len(fields) != 2 || fields[0] == SuccessMarker || !deviceErrorPattern.MatchString(fields[0]) {
		return nil, false
	}
	return &DeviceError{Code: fields[0], Description: fields[1]}, true
}
