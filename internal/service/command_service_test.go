package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"usis-service/internal/config"
	"usis-service/internal/model"
	"usis-service/internal/protocol"
	"usis-service/internal/repository"
)

// fakeTransport answers framed commands from a script keyed by command text.
// Unscripted commands time out.
type fakeTransport struct {
	mu      sync.Mutex
	replies map[string]string
	down    bool
	sent    []string
	raw     []string
}

func newFakeTransport(replies map[string]string) *fakeTransport {
	return &fakeTransport{replies: replies}
}

func (f *fakeTransport) answer(command, frame string) protocol.Outcome {
	if f.down {
		return protocol.PortUnavailable(frame)
	}
	reply, ok := f.replies[command]
	if !ok {
		return protocol.Timeout(frame)
	}
	return protocol.Ok(reply, frame)
}

func (f *fakeTransport) SendFramed(command string) protocol.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, command)
	return f.answer(command, command)
}

func (f *fakeTransport) SendRaw(command string) protocol.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw = append(f.raw, command)
	return f.answer(command, command)
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.down
}

func (f *fakeTransport) PortName() string { return "/dev/ttyTEST" }

func (f *fakeTransport) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*model.Event
}

func (p *recordingPublisher) Publish(event *model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]model.EventType, len(p.events))
	for i, e := range p.events {
		types[i] = e.EventType
	}
	return types
}

type testEnv struct {
	transport *fakeTransport
	repo      repository.ExchangeRepository
	events    *recordingPublisher
	service   *CommandService
}

func newTestEnv(t *testing.T, replies map[string]string, cfg *config.ProtocolConfig) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = &config.ProtocolConfig{VerifyReplyChecksum: true}
	}

	env := &testEnv{
		transport: newFakeTransport(replies),
		repo:      repository.NewMemoryExchangeRepository(100, nil),
		events:    &recordingPublisher{},
	}
	env.service = NewCommandService(env.transport, env.repo, env.events, cfg, zaptest.NewLogger(t))
	return env
}

func TestCommandService_Version(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"GET;VERSION;VALUE\n": "M00;VERSION;VALUE;OK;1.4.2\n",
	}, nil)

	result, err := env.service.Version(context.Background())
	require.NoError(t, err)

	assert.True(t, result.OK())
	assert.Equal(t, protocol.CodeOK, result.Code)
	assert.Equal(t, "Ok, order completed", result.Description)
	assert.Equal(t, "GET;VERSION;VALUE\n", result.Frame)
	assert.Equal(t, "1.4.2", result.Value())
	require.NotNil(t, result.Decoded)
	assert.Equal(t, "VERSION", result.Decoded.Property)
}

func TestCommandService_Classification(t *testing.T) {
	tests := []struct {
		name        string
		reply       string
		code        protocol.ErrorCode
		deviceError string
	}{
		{name: "value reply", reply: "M00;LED;POWER;OK;42\n", code: protocol.CodeOK},
		{name: "device error", reply: "M01;UNKNOWN PROPERTY\n", code: protocol.CodeUnexpectedReply, deviceError: "M01"},
		{name: "non-success value reply", reply: "M03;LED;POWER;READ ONLY;0\n", code: protocol.CodeUnexpectedReply, deviceError: "M03"},
		{name: "too few fields", reply: "garbage\n", code: protocol.CodeUnexpectedReply},
		{name: "valid reply checksum", reply: "M00;LED;POWER;OK;42*" + protocol.FormatChecksum(protocol.Checksum("M00;LED;POWER;OK;42")) + "\n", code: protocol.CodeOK},
		{name: "bad reply checksum", reply: "M00;LED;POWER;OK;42*00\n", code: protocol.CodeChecksumMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, map[string]string{"GET;LED;POWER\n": tt.reply}, nil)

			result, err := env.service.Get(context.Background(), "LED", "POWER")
			require.NoError(t, err)
			assert.Equal(t, tt.code, result.Code)
			assert.Equal(t, tt.reply, result.Reply)

			if tt.deviceError != "" {
				require.NotNil(t, result.DeviceError)
				assert.Equal(t, tt.deviceError, result.DeviceError.Code)
				assert.ErrorIs(t, result.DeviceError, protocol.ErrDeviceError)
			} else {
				assert.Nil(t, result.DeviceError)
			}
		})
	}
}

func TestCommandService_ChecksumNotVerifiedWhenDisabled(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"GET;LED;POWER\n": "M00;LED;POWER;OK;42*00\n",
	}, &config.ProtocolConfig{VerifyReplyChecksum: false})

	result, err := env.service.Get(context.Background(), "LED", "POWER")
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeOK, result.Code)
	assert.Equal(t, "42", result.Value())
}

func TestCommandService_TimeoutAndUnavailable(t *testing.T) {
	env := newTestEnv(t, map[string]string{}, nil)

	result, err := env.service.Execute(context.Background(), &CommandRequest{Text: "GET;LED;POWER"})
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeTimeout, result.Code)
	assert.Equal(t, "Timeout reached", result.Description)
	assert.Empty(t, result.Reply)

	env.transport.setDown(true)
	result, err = env.service.Execute(context.Background(), &CommandRequest{Text: "GET;LED;POWER"})
	require.NoError(t, err)
	assert.Equal(t, protocol.CodePortUnavailable, result.Code)
	assert.Equal(t, "GET;LED;POWER\n", result.Frame)
}

func TestCommandService_ExecuteTerminatesAndRoutesRaw(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"GET;VERSION;VALUE\n": "M00;VERSION;VALUE;OK;1.0\n",
	}, nil)

	_, err := env.service.Execute(context.Background(), &CommandRequest{Text: "GET;VERSION;VALUE"})
	require.NoError(t, err)
	_, err = env.service.Execute(context.Background(), &CommandRequest{Text: "GET;VERSION;VALUE\n", Raw: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"GET;VERSION;VALUE\n"}, env.transport.sent)
	assert.Equal(t, []string{"GET;VERSION;VALUE\n"}, env.transport.raw)
}

func TestCommandService_InvalidArguments(t *testing.T) {
	long := make([]byte, protocol.MaxFrameLen)
	for i := range long {
		long[i] = 'A'
	}

	env := newTestEnv(t, map[string]string{}, &config.ProtocolConfig{AttachChecksum: true})
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() (*ExecutionResult, error)
	}{
		{name: "empty", run: func() (*ExecutionResult, error) {
			return env.service.Execute(ctx, &CommandRequest{Text: ""})
		}},
		{name: "non-ascii", run: func() (*ExecutionResult, error) {
			return env.service.Execute(ctx, &CommandRequest{Text: "SET;LED;NAME;é"})
		}},
		{name: "frame too long", run: func() (*ExecutionResult, error) {
			return env.service.Execute(ctx, &CommandRequest{Text: string(long[:protocol.MaxFrameLen-2])})
		}},
		{name: "separator in field", run: func() (*ExecutionResult, error) {
			return env.service.Set(ctx, "LED", "POWER", "1;2")
		}},
		{name: "checksum marker in field", run: func() (*ExecutionResult, error) {
			return env.service.Get(ctx, "LED*", "POWER")
		}},
		{name: "empty field", run: func() (*ExecutionResult, error) {
			return env.service.Get(ctx, "", "POWER")
		}},
		{name: "two lines raw", run: func() (*ExecutionResult, error) {
			return env.service.Execute(ctx, &CommandRequest{Text: "GET;VERSION;VALUE\nSET;LED;VALUE;1", Raw: true})
		}},
		{name: "two lines framed", run: func() (*ExecutionResult, error) {
			return env.service.Execute(ctx, &CommandRequest{Text: "GET;VERSION;VALUE\r\nGET;LED;POWER\n"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.run()
			require.NoError(t, err)
			assert.Equal(t, protocol.CodeInvalidArguments, result.Code)
			assert.Equal(t, "Invalid arguments", result.Description)
			assert.NotEmpty(t, result.Detail)
		})
	}

	assert.Empty(t, env.transport.sent, "invalid commands never reach the transport")
	assert.Empty(t, env.transport.raw)
}

func TestCommandService_CancelledContext(t *testing.T) {
	env := newTestEnv(t, map[string]string{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := env.service.Version(ctx)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, env.transport.sent)
}

func TestCommandService_JournalsExchanges(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"GET;LED;POWER\n": "M00;LED;POWER;OK;12.5\n",
		"GET;LED;NAME\n":  "M00;LED;NAME;OK;front\n",
	}, nil)
	ctx := context.Background()

	power, err := env.service.Get(ctx, "LED", "POWER")
	require.NoError(t, err)
	_, err = env.service.Get(ctx, "LED", "NAME")
	require.NoError(t, err)
	_, err = env.service.Get(ctx, "LED", "MISSING")
	require.NoError(t, err)

	history, err := env.service.History(ctx, nil)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, int(protocol.CodeTimeout), history[0].Code)
	assert.Nil(t, history[0].Reply)

	stored, err := env.service.GetExchange(ctx, power.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExchangeModeFramed, stored.Mode)
	require.NotNil(t, stored.Value)
	assert.Equal(t, "12.5", *stored.Value)
	require.True(t, stored.Numeric.Valid)
	assert.Equal(t, "12.5", stored.Numeric.Decimal.String())
	assert.Equal(t, "LED", stored.Decoded["property"])

	name := history[1]
	assert.False(t, name.Numeric.Valid)

	stats, err := env.service.JournalStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Total)
	assert.EqualValues(t, 2, stats.ByCode[int(protocol.CodeOK)])
}

func TestCommandService_PublishesEvents(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"GET;VERSION;VALUE\n": "M00;VERSION;VALUE;OK;1.0\n",
	}, nil)
	ctx := context.Background()

	_, err := env.service.Version(ctx)
	require.NoError(t, err)

	env.transport.setDown(true)
	_, err = env.service.Version(ctx)
	require.NoError(t, err)

	env.transport.setDown(false)
	_, err = env.service.Version(ctx)
	require.NoError(t, err)

	assert.Equal(t, []model.EventType{
		model.EventExchangeCompleted,
		model.EventExchangeFailed,
		model.EventLinkStatus,
		model.EventExchangeCompleted,
		model.EventLinkStatus,
	}, env.events.types())

	down := env.events.events[2]
	assert.Equal(t, "ERROR", down.Severity)
	assert.Equal(t, false, down.Data["connected"])
	assert.Equal(t, "/dev/ttyTEST", down.Data["port"])
}

func TestCommandService_Describe(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"INFO;PROPERTY_COUNT\n":          "M00;PROPERTY_COUNT;;OK;2\n",
		"INFO;PROPERTY_NAME;0\n":         "M00;PROPERTY_NAME;;OK;VERSION\n",
		"INFO;PROPERTY_ATTR_COUNT;0\n":   "M00;PROPERTY_ATTR_COUNT;;OK;1\n",
		"INFO;PROPERTY_ATTR_NAME;0;0\n":  "M00;PROPERTY_ATTR_NAME;;OK;VALUE\n",
		"INFO;PROPERTY_NAME;1\n":         "M00;PROPERTY_NAME;;OK;LED\n",
		"INFO;PROPERTY_ATTR_COUNT;1\n":   "M00;PROPERTY_ATTR_COUNT;;OK;2\n",
		"INFO;PROPERTY_ATTR_NAME;1;0\n":  "M00;PROPERTY_ATTR_NAME;;OK;POWER\n",
		"INFO;PROPERTY_ATTR_NAME;1;1\n":  "M00;PROPERTY_ATTR_NAME;;OK;STATE\n",
		"INFO;PROPERTY_ATTR_NAME;1;99\n": "M09;BAD INDEX\n",
	}, nil)

	properties, err := env.service.Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.Property{
		{Index: 0, Name: "VERSION", Attributes: []string{"VALUE"}},
		{Index: 1, Name: "LED", Attributes: []string{"POWER", "STATE"}},
	}, properties)
}

func TestCommandService_DescribeFailures(t *testing.T) {
	t.Run("device error", func(t *testing.T) {
		env := newTestEnv(t, map[string]string{
			"INFO;PROPERTY_COUNT\n":  "M00;PROPERTY_COUNT;;OK;1\n",
			"INFO;PROPERTY_NAME;0\n": "M09;BAD INDEX\n",
		}, nil)

		_, err := env.service.Describe(context.Background())
		var cmdErr *CommandError
		require.True(t, errors.As(err, &cmdErr))
		assert.Equal(t, protocol.CodeUnexpectedReply, cmdErr.Result.Code)
		assert.Equal(t, protocol.DeviceErrBadIndex, cmdErr.Result.DeviceError.Code)
	})

	t.Run("non-numeric count", func(t *testing.T) {
		env := newTestEnv(t, map[string]string{
			"INFO;PROPERTY_COUNT\n": "M00;PROPERTY_COUNT;;OK;many\n",
		}, nil)

		_, err := env.service.Describe(context.Background())
		var cmdErr *CommandError
		require.True(t, errors.As(err, &cmdErr))
		assert.Equal(t, protocol.CodeUnexpectedReply, cmdErr.Result.Code)
		assert.Contains(t, err.Error(), "INFO;PROPERTY_COUNT")
	})

	t.Run("oversized property count", func(t *testing.T) {
		env := newTestEnv(t, map[string]string{
			"INFO;PROPERTY_COUNT\n": "M00;PROPERTY_COUNT;;OK;9000000000000000000\n",
		}, nil)

		_, err := env.service.Describe(context.Background())
		var cmdErr *CommandError
		require.True(t, errors.As(err, &cmdErr))
		assert.Equal(t, protocol.CodeUnexpectedReply, cmdErr.Result.Code)
		assert.Len(t, env.transport.sent, 1)
	})

	t.Run("oversized attribute count", func(t *testing.T) {
		env := newTestEnv(t, map[string]string{
			"INFO;PROPERTY_COUNT\n":        "M00;PROPERTY_COUNT;;OK;1\n",
			"INFO;PROPERTY_NAME;0\n":       "M00;PROPERTY_NAME;;OK;LED\n",
			"INFO;PROPERTY_ATTR_COUNT;0\n": "M00;PROPERTY_ATTR_COUNT;;OK;256\n",
		}, nil)

		_, err := env.service.Describe(context.Background())
		var cmdErr *CommandError
		require.True(t, errors.As(err, &cmdErr))
		assert.Equal(t, protocol.CodeUnexpectedReply, cmdErr.Result.Code)
		assert.Contains(t, cmdErr.Result.Detail, "256")
		assert.Len(t, env.transport.sent, 3)
	})

	t.Run("count at the bound", func(t *testing.T) {
		env := newTestEnv(t, map[string]string{
			"INFO;PROPERTY_COUNT\n": "M00;PROPERTY_COUNT;;OK;255\n",
		}, nil)

		// the count is accepted, the first name query then times out
		_, err := env.service.Describe(context.Background())
		var cmdErr *CommandError
		require.True(t, errors.As(err, &cmdErr))
		assert.Equal(t, protocol.CodeTimeout, cmdErr.Result.Code)
		assert.Equal(t, "INFO;PROPERTY_NAME;0\n", cmdErr.Result.Frame)
	})

	t.Run("timeout", func(t *testing.T) {
		env := newTestEnv(t, map[string]string{}, nil)

		_, err := env.service.Describe(context.Background())
		var cmdErr *CommandError
		require.True(t, errors.As(err, &cmdErr))
		assert.Equal(t, protocol.CodeTimeout, cmdErr.Result.Code)
	})
}

func TestSelectPort(t *testing.T) {
	ports := []model.SerialPort{{Name: "COM1"}, {Name: "COM3"}}

	p, err := SelectPort(ports, 2)
	require.NoError(t, err)
	assert.Equal(t, "COM3", p.Name)

	_, err = SelectPort(ports, 0)
	assert.Error(t, err)
	_, err = SelectPort(ports, 3)
	assert.Error(t, err)
}
