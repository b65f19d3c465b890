package shell

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"usis-service/internal/config"
	"usis-service/internal/model"
	"usis-service/internal/protocol"
	"usis-service/internal/repository"
	"usis-service/internal/service"
)

type stubLink struct {
	replies map[string]string
	down    bool
	raw     []string
	closed  int
}

func (l *stubLink) outcome(command string) protocol.Outcome {
	if l.down {
		return protocol.PortUnavailable(command)
	}
	if reply, ok := l.replies[command]; ok {
		return protocol.Ok(reply, command)
	}
	return protocol.Timeout(command)
}

func (l *stubLink) SendFramed(command string) protocol.Outcome { return l.outcome(command) }

func (l *stubLink) SendRaw(command string) protocol.Outcome {
	l.raw = append(l.raw, command)
	return l.outcome(command)
}

func (l *stubLink) IsOpen() bool     { return !l.down }
func (l *stubLink) PortName() string { return "COM3" }

func (l *stubLink) Close() error {
	l.closed++
	return nil
}

type stubPorts struct {
	ports []model.SerialPort
	err   error
}

func (p stubPorts) ListPorts(context.Context) ([]model.SerialPort, error) { return p.ports, p.err }

func newTestShell(t *testing.T, link *stubLink, ports PortLister, input string) (*Shell, *bytes.Buffer) {
	t.Helper()
	commands := service.NewCommandService(
		link,
		repository.NewMemoryExchangeRepository(10, nil),
		nil,
		&config.ProtocolConfig{VerifyReplyChecksum: true},
		zaptest.NewLogger(t),
	)
	out := &bytes.Buffer{}
	return New(commands, ports, link, strings.NewReader(input), out, zaptest.NewLogger(t)), out
}

func TestShell_RunVersionAndBye(t *testing.T) {
	link := &stubLink{replies: map[string]string{
		"GET;VERSION;VALUE\n": "M00;VERSION;VALUE;OK;1.2\n",
	}}
	sh, out := newTestShell(t, link, nil, "version\nbye\nversion\n")

	require.NoError(t, sh.Run(context.Background()))

	text := out.String()
	assert.True(t, strings.HasPrefix(text, Intro+"\n"+Prompt))
	assert.Contains(t, text, "Order sent: GET;VERSION;VALUE\n... reply: 0  - Ok, order completed\nMessage returned: M00;VERSION;VALUE;OK;1.2\n")
	assert.True(t, strings.HasSuffix(text, "End of the script.\nGood bye!\n"))
	assert.Equal(t, 1, strings.Count(text, "Order sent:"), "commands after bye are not run")
	assert.Equal(t, 1, link.closed)
}

func TestShell_EndOfInputQuits(t *testing.T) {
	link := &stubLink{}
	sh, out := newTestShell(t, link, nil, "")

	require.NoError(t, sh.Run(context.Background()))
	assert.Contains(t, out.String(), "Good bye!")
	assert.Equal(t, 1, link.closed)
}

func TestShell_CancelledContext(t *testing.T) {
	sh, _ := newTestShell(t, &stubLink{}, nil, "version\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sh.Run(ctx), context.Canceled)
}

func TestShell_Commands(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		link  *stubLink
		wants []string
	}{
		{
			name:  "version with argument",
			line:  "version now",
			wants: []string{"Requires no argument"},
		},
		{
			name:  "version timeout",
			line:  "version",
			wants: []string{"reply: 2  - Timeout reached", "Message returned: -1"},
		},
		{
			name:  "version port unavailable",
			line:  "version",
			link:  &stubLink{down: true},
			wants: []string{"reply: 4  - Serial PORT not available", "Message returned: -1"},
		},
		{
			name: "raw message",
			line: "rawMessage GET;LED;POWER",
			link: &stubLink{replies: map[string]string{"GET;LED;POWER\n": "M00;LED;POWER;OK;7\n"}},
			wants: []string{
				"Send the message: GET;LED;POWER\n",
				"Order sent: GET;LED;POWER\n... reply: 0 - Ok, order completed\n... Message returned: M00;LED;POWER;OK;7",
			},
		},
		{
			name:  "raw message argument count",
			line:  "rawMessage GET;LED;POWER extra",
			wants: []string{"Requires exactly 1 argument"},
		},
		{
			name:  "get",
			line:  "get LED POWER",
			link:  &stubLink{replies: map[string]string{"GET;LED;POWER\n": "M00;LED;POWER;OK;7\n"}},
			wants: []string{"Order sent: GET;LED;POWER... reply: 0 - Ok, order completed", "Value: 7"},
		},
		{
			name:  "get device error",
			line:  "get LED NOPE",
			link:  &stubLink{replies: map[string]string{"GET;LED;NOPE\n": "M02;UNKNOWN ATTRIBUTE\n"}},
			wants: []string{"reply: 3 - Unexpected reply", "Device error: M02 - UNKNOWN ATTRIBUTE"},
		},
		{
			name:  "set",
			line:  "set LED POWER 9",
			link:  &stubLink{replies: map[string]string{"SET;LED;POWER;9\n": "M00;LED;POWER;OK;9\n"}},
			wants: []string{"Value: 9"},
		},
		{
			name:  "set argument count",
			line:  "set LED POWER",
			wants: []string{"Requires exactly 3 arguments"},
		},
		{
			name: "info",
			line: "info",
			link: &stubLink{replies: map[string]string{
				"INFO;PROPERTY_COUNT\n":         "M00;PROPERTY_COUNT;;OK;1\n",
				"INFO;PROPERTY_NAME;0\n":        "M00;PROPERTY_NAME;;OK;LED\n",
				"INFO;PROPERTY_ATTR_COUNT;0\n":  "M00;PROPERTY_ATTR_COUNT;;OK;1\n",
				"INFO;PROPERTY_ATTR_NAME;0;0\n": "M00;PROPERTY_ATTR_NAME;;OK;POWER\n",
			}},
			wants: []string{"1 properties", "0 : LED [POWER]"},
		},
		{
			name:  "info failure",
			line:  "info",
			wants: []string{"Order sent: INFO;PROPERTY_COUNT\n... reply: 2 - Timeout reached"},
		},
		{
			name:  "unknown",
			line:  "reboot",
			wants: []string{"*** Unknown syntax: reboot"},
		},
		{
			name:  "help",
			line:  "help",
			wants: []string{"Documented commands", "bye  get  help  info  ports  rawMessage  set  version"},
		},
		{
			name:  "help topic",
			line:  "? version",
			wants: []string{"Returns the firmware and protocol (USIS) version"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := tt.link
			if link == nil {
				link = &stubLink{}
			}
			sh, out := newTestShell(t, link, nil, "")

			assert.False(t, sh.Exec(context.Background(), tt.line))
			for _, want := range tt.wants {
				assert.Contains(t, out.String(), want)
			}
		})
	}
}

func TestShell_Ports(t *testing.T) {
	sh, out := newTestShell(t, &stubLink{}, stubPorts{ports: []model.SerialPort{
		{Name: "COM1"},
		{Name: "COM3", IsUSB: true, VID: "0403", PID: "6001"},
	}}, "")

	sh.Exec(context.Background(), "ports")
	assert.Equal(t,
		"Here is the list of the available USB ports on your computer\n1 : COM1\n2 : COM3 [USB 0403:6001]\n",
		out.String())

	sh, out = newTestShell(t, &stubLink{}, stubPorts{err: errors.New("no enumerator")}, "")
	sh.Exec(context.Background(), "ports")
	assert.Equal(t, "No USB port is available\n", out.String())
}

func TestShell_EmptyLineDoesNothing(t *testing.T) {
	link := &stubLink{}
	sh, out := newTestShell(t, link, nil, "")

	assert.False(t, sh.Exec(context.Background(), "   "))
	assert.Empty(t, out.String())
	assert.Empty(t, link.raw)
}
