package protocol

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected DecodedReply
	}{
		{
			name:     "value reply",
			line:     "M00;VERSION;VALUE;OK;1.2.0\n",
			expected: DecodedReply{ErrorField: "M00", Property: "VERSION", Attribute: "VALUE", State: "OK", Value: "1.2.0"},
		},
		{
			name:     "carriage return",
			line:     "M00;VERSION;VALUE;OK;1.2.0\r\n",
			expected: DecodedReply{ErrorField: "M00", Property: "VERSION", Attribute: "VALUE", State: "OK", Value: "1.2.0"},
		},
		{
			name:     "unterminated",
			line:     "M00;TEMP;VALUE;BUSY;21.5",
			expected: DecodedReply{ErrorField: "M00", Property: "TEMP", Attribute: "VALUE", State: "BUSY", Value: "21.5"},
		},
		{
			name:     "empty value",
			line:     "M00;LED;VALUE;IDLE;\n",
			expected: DecodedReply{ErrorField: "M00", Property: "LED", Attribute: "VALUE", State: "IDLE", Value: ""},
		},
		{
			name:     "extra fields ignored",
			line:     "M00;LED;VALUE;OK;1;extra\n",
			expected: DecodedReply{ErrorField: "M00", Property: "LED", Attribute: "VALUE", State: "OK", Value: "1"},
		},
		{
			name:     "numeric error field",
			line:     "0;x;y;z;42\n",
			expected: DecodedReply{ErrorField: "0", Property: "x", Attribute: "y", State: "z", Value: "42"},
		},
		{
			name:     "error field kept verbatim",
			line:     "M08;LED;VALUE;NA;x\n",
			expected: DecodedReply{ErrorField: "M08", Property: "LED", Attribute: "VALUE", State: "NA", Value: "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, line := range []string{"", "\n", "M01;UNKNOWN PROPERTY\n", "M00;A;B;C\n"} {
		_, err := Decode(line)
		require.Error(t, err, "line %q", line)
		assert.ErrorIs(t, err, ErrMalformedReply)

		var malformed *MalformedReplyError
		require.ErrorAs(t, err, &malformed)
		assert.Equal(t, strings.Count(line, Separator)+1, malformed.Fields)
	}
}

func TestDecodedReply_IsSuccess(t *testing.T) {
	assert.True(t, DecodedReply{ErrorField: "M00"}.IsSuccess())
	assert.False(t, DecodedReply{ErrorField: "M08"}.IsSuccess())
}

func TestDecodedReply_Decimal(t *testing.T) {
	d, err := DecodedReply{Value: " 21.50 "}.Decimal()
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("21.5")))

	_, err = DecodedReply{Value: "on"}.Decimal()
	assert.Error(t, err)
}

func TestParseDeviceError(t *testing.T) {
	tests := []struct {
		name string
		line string
		code string
		desc string
		ok   bool
	}{
		{name: "transport error", line: "C03;BAD CHECKSUM\n", code: DeviceErrBadChecksum, desc: "BAD CHECKSUM", ok: true},
		{name: "message error", line: "M01;UNKNOWN PROPERTY\r\n", code: DeviceErrUnknownProperty, desc: "UNKNOWN PROPERTY", ok: true},
		{name: "value reply", line: "M00;VERSION;VALUE;OK;1\n"},
		{name: "success marker alone", line: "M00;OK\n"},
		{name: "unknown prefix", line: "X01;NOPE\n"},
		{name: "garbage", line: "hello\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			devErr, ok := ParseDeviceError(tt.line)
			require.Equal(t, tt.ok, ok)
			if !tt.ok {
				assert.Nil(t, devErr)
				return
			}
			assert.Equal(t, tt.code, devErr.Code)
			assert.Equal(t, tt.desc, devErr.Description)
			assert.ErrorIs(t, devErr, ErrDeviceError)
		})
	}
}
