package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCommand(t *testing.T) {
	assert.Equal(t, "GET;VERSION;VALUE\n", BuildCommand(CommandGet, "VERSION", "VALUE"))
	assert.Equal(t, "SET;LED;VALUE;1\n", BuildCommand(CommandSet, "LED", "VALUE", "1"))
	assert.Equal(t, "INFO;PROPERTY_NAME;0\n", BuildCommand(CommandInfo, "PROPERTY_NAME", "0"))
}

func TestEnsureTerminated(t *testing.T) {
	assert.Equal(t, "GET;A;VALUE\n", EnsureTerminated("GET;A;VALUE"))
	assert.Equal(t, "GET;A;VALUE\n", EnsureTerminated("GET;A;VALUE\n"))
	assert.Equal(t, "\n", EnsureTerminated(""))
}

func TestIsASCII(t *testing.T) {
	assert.True(t, IsASCII("GET;VERSION;VALUE\r\n"))
	assert.True(t, IsASCII(""))
	assert.False(t, IsASCII("SET;NAME;VALUE;café\n"))
	assert.False(t, IsASCII("\xff"))
}

func TestErrorCode_Catalogue(t *testing.T) {
	expected := []string{
		"Ok, order completed",
		"Invalid arguments",
		"Timeout reached",
		"Unexpected reply",
		"Serial PORT not available",
		"Checksum error in the returned message",
	}

	codes := Codes()
	require.Len(t, codes, len(expected))
	for i, code := range codes {
		assert.Equal(t, i, int(code))
		assert.Equal(t, expected[i], code.Description())
		assert.Equal(t, expected[i], code.String())
	}

	assert.Equal(t, "Unknown error code 42", ErrorCode(42).Description())
	assert.Equal(t, "Unknown error code -1", ErrorCode(-1).Description())
}

func TestValidateCommand(t *testing.T) {
	assert.NoError(t, ValidateCommand("GET;VERSION;VALUE\n"))
	assert.NoError(t, ValidateCommand("GET;VERSION;VALUE\r\n"))
	assert.NoError(t, ValidateCommand(strings.Repeat("A", MaxFrameLen-1)+"\n"))

	for _, frame := range []string{
		"",
		"\n",
		"SET;NAME;VALUE;café\n",
		"GET;VERSION;VALUE\nSET;LED;VALUE;1\n",
		"GET;VERSION;VALUE\rSET;LED;VALUE;1\n",
		strings.Repeat("A", MaxFrameLen) + "\n",
	} {
		err := ValidateCommand(frame)
		assert.ErrorIs(t, err, ErrInvalidArguments, "frame %q", frame)
	}
}

func TestOutcome(t *testing.T) {
	ok := Ok("M00;A;VALUE;OK;1\n", "GET;A;VALUE\n")
	assert.Equal(t, OutcomeOK, ok.Kind())
	assert.Equal(t, CodeOK, ok.Code())
	assert.Equal(t, "GET;A;VALUE\n", ok.Frame())
	reply, hasReply := ok.Reply()
	assert.True(t, hasReply)
	assert.Equal(t, "M00;A;VALUE;OK;1\n", reply)

	timeout := Timeout("GET;A;VALUE\n")
	assert.Equal(t, OutcomeTimeout, timeout.Kind())
	assert.Equal(t, CodeTimeout, timeout.Code())
	_, hasReply = timeout.Reply()
	assert.False(t, hasReply)

	unavailable := PortUnavailable("GET;A;VALUE\n")
	assert.Equal(t, OutcomePortUnavailable, unavailable.Kind())
	assert.Equal(t, CodePortUnavailable, unavailable.Code())
	assert.Equal(t, "GET;A;VALUE\n", unavailable.Frame())

	assert.Equal(t, "port_unavailable", OutcomePortUnavailable.String())
	assert.Contains(t, timeout.String(), "timeout")
}
