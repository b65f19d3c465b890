// internal/service/command_service.go
package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"usis-service/internal/config"
	"usis-service/internal/model"
	"usis-service/internal/protocol"
	"usis-service/internal/repository"
	"usis-service/internal/utils"
)

// Transport is the part of the serial session the command service drives
type Transport interface {
	SendFramed(command string) protocol.Outcome
	SendRaw(command string) protocol.Outcome
	IsOpen() bool
	PortName() string
}

// EventPublisher receives exchange and link events
type EventPublisher interface {
	Publish(event *model.Event)
}

// CommandRequest represents a free-form command
type CommandRequest struct {
	Text string `json:"text" binding:"required"`
	Raw  bool   `json:"raw"`
}

// ExecutionResult represents the interpreted outcome of one exchange
type ExecutionResult struct {
	ID          uuid.UUID              `json:"id"`
	Mode        model.ExchangeMode     `json:"mode"`
	Code        protocol.ErrorCode     `json:"code"`
	Description string                 `json:"description"`
	Frame       string                 `json:"frame"`
	Reply       string                 `json:"reply,omitempty"`
	Decoded     *protocol.DecodedReply `json:"decoded,omitempty"`
	DeviceError *protocol.DeviceError  `json:"device_error,omitempty"`
	Detail      string                 `json:"detail,omitempty"`
	Duration    time.Duration          `json:"duration"`
}

// OK reports whether the exchange completed with code 0
func (r *ExecutionResult) OK() bool {
	return r.Code == protocol.CodeOK
}

// Value returns the decoded value, or "" when nothing was decoded
func (r *ExecutionResult) Value() string {
	if r.Decoded == nil {
		return ""
	}
	return r.Decoded.Value
}

// CommandError is returned by multi-step operations when one exchange fails
type CommandError struct {
	Result *ExecutionResult
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q failed: %d - %s", e.Result.Frame, int(e.Result.Code), e.Result.Description)
}

// CommandService handles command execution against the device
type CommandService struct {
	transport Transport
	exchanges repository.ExchangeRepository
	publisher EventPublisher
	config    *config.ProtocolConfig
	logger    *utils.ServiceLogger

	linkUp atomic.Bool
}

// NewCommandService creates a new command service instance. publisher may be nil.
func NewCommandService(
	transport Transport,
	exchanges repository.ExchangeRepository,
	publisher EventPublisher,
	cfg *config.ProtocolConfig,
	logger *zap.Logger,
) *CommandService {
	s := &CommandService{
		transport: transport,
		exchanges: exchanges,
		publisher: publisher,
		config:    cfg,
		logger:    utils.NewServiceLogger(logger, "command-service"),
	}
	s.linkUp.Store(transport.IsOpen())
	return s
}

// Execute sends a free-form command. The text is newline-terminated when it is
// not already. The only error is a context that is done before the exchange starts;
// every protocol failure is reported through the result code.
func (s *CommandService) Execute(ctx context.Context, req *CommandRequest) (*ExecutionResult, error) {
	return s.run(ctx, req.Text, req.Raw, nil)
}

// Version reads the firmware and protocol version
func (s *CommandService) Version(ctx context.Context) (*ExecutionResult, error) {
	return s.run(ctx, protocol.BuildCommand(protocol.CommandGet, "VERSION", "VALUE"), false, nil)
}

// Get reads one attribute of a property
func (s *CommandService) Get(ctx context.Context, property, attribute string) (*ExecutionResult, error) {
	return s.run(ctx,
		protocol.BuildCommand(protocol.CommandGet, property, attribute),
		false,
		validateFields(property, attribute),
	)
}

// Set writes one attribute of a property
func (s *CommandService) Set(ctx context.Context, property, attribute, value string) (*ExecutionResult, error) {
	return s.run(ctx,
		protocol.BuildCommand(protocol.CommandSet, property, attribute, value),
		false,
		validateFields(property, attribute, value),
	)
}

// Info runs an introspection query, e.g. Info(ctx, "PROPERTY_NAME", "0")
func (s *CommandService) Info(ctx context.Context, property string, args ...string) (*ExecutionResult, error) {
	parts := append([]string{protocol.CommandInfo, property}, args...)
	return s.run(ctx,
		protocol.BuildCommand(parts...),
		false,
		validateFields(append([]string{property}, args...)...),
	)
}

// Describe walks the device introspection table into a property list
func (s *CommandService) Describe(ctx context.Context) ([]model.Property, error) {
	count, err := s.infoInt(ctx, "PROPERTY_COUNT")
	if err != nil {
		return nil, err
	}

	properties := []model.Property{}
	for i := 0; i < count; i++ {
		idx := strconv.Itoa(i)

		name, err := s.infoValue(ctx, "PROPERTY_NAME", idx)
		if err != nil {
			return nil, err
		}

		attrCount, err := s.infoInt(ctx, "PROPERTY_ATTR_COUNT", idx)
		if err != nil {
			return nil, err
		}

		attributes := []string{}
		for j := 0; j < attrCount; j++ {
			attr, err := s.infoValue(ctx, "PROPERTY_ATTR_NAME", idx, strconv.Itoa(j))
			if err != nil {
				return nil, err
			}
			attributes = append(attributes, attr)
		}

		properties = append(properties, model.Property{Index: i, Name: name, Attributes: attributes})
	}

	s.logger.Info("Device described", zap.Int("properties", len(properties)))
	return properties, nil
}

// History returns journaled exchanges, newest first
func (s *CommandService) History(ctx context.Context, filter *repository.ExchangeFilter) ([]*model.Exchange, error) {
	exchanges, err := s.exchanges.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list exchanges: %w", err)
	}
	return exchanges, nil
}

// GetExchange returns one journaled exchange
func (s *CommandService) GetExchange(ctx context.Context, id uuid.UUID) (*model.Exchange, error) {
	return s.exchanges.GetByID(ctx, id)
}

// JournalStats summarises the exchange journal
func (s *CommandService) JournalStats(ctx context.Context) (*repository.ExchangeStats, error) {
	stats, err := s.exchanges.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get journal stats: %w", err)
	}
	return stats, nil
}

// CleanupJournal removes journal entries older than retention
func (s *CommandService) CleanupJournal(ctx context.Context, retention time.Duration) (int64, error) {
	return s.exchanges.DeleteOlderThan(ctx, retention)
}

func (s *CommandService) infoValue(ctx context.Context, property string, args ...string) (string, error) {
	result, err := s.Info(ctx, property, args...)
	if err != nil {
		return "", err
	}
	if !result.OK() {
		return "", &CommandError{Result: result}
	}
	return result.Value(), nil
}

func (s *CommandService) infoInt(ctx context.Context, property string, args ...string) (int, error) {
	result, err := s.Info(ctx, property, args...)
	if err != nil {
		return 0, err
	}
	if !result.OK() {
		return 0, &CommandError{Result: result}
	}

	d, err := result.Decoded.Decimal()
	if err != nil || !d.IsInteger() || d.IsNegative() || d.GreaterThan(decimal.NewFromInt(maxInfoCount)) {
		result.Code = protocol.CodeUnexpectedReply
		result.Description = result.Code.Description()
		result.Detail = fmt.Sprintf("expected a count between 0 and %d, got %q", maxInfoCount, result.Value())
		return 0, &CommandError{Result: result}
	}
	return int(d.IntPart()), nil
}

// maxInfoCount bounds the property and attribute counts reported by the device
const maxInfoCount = 255

// run validates, sends, interprets, journals and publishes one exchange
func (s *CommandService) run(ctx context.Context, text string, raw bool, invalid error) (*ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := model.ExchangeModeFramed
	if raw {
		mode = model.ExchangeModeRaw
	}

	command := protocol.EnsureTerminated(text)
	result := &ExecutionResult{ID: uuid.New(), Mode: mode}

	el := utils.NewExchangeLogger(s.logger.Logger, result.ID.String(), string(mode))
	el.Start(command)

	if invalid == nil {
		invalid = protocol.ValidateCommand(s.wireFrame(command, raw))
	}

	if invalid != nil {
		result.Code = protocol.CodeInvalidArguments
		result.Frame = command
		result.Detail = invalid.Error()
	} else {
		var outcome protocol.Outcome
		if raw {
			outcome = s.transport.SendRaw(command)
		} else {
			outcome = s.transport.SendFramed(command)
		}
		s.interpret(result, outcome)
	}

	result.Description = result.Code.Description()
	result.Duration = el.Elapsed()

	if result.OK() {
		el.Success(zap.String("frame", result.Frame), zap.String("value", result.Value()))
	} else {
		el.Failure(int(result.Code), result.Description,
			zap.String("frame", result.Frame),
			zap.String("detail", result.Detail),
		)
	}

	s.record(ctx, command, result)
	s.publishExchange(result)
	s.publishLinkChange()

	return result, nil
}

func (s *CommandService) wireFrame(command string, raw bool) string {
	if raw {
		return command
	}
	return protocol.Frame(command, s.config.AttachChecksum)
}

// interpret maps an outcome onto the error catalogue and decodes the reply
func (s *CommandService) interpret(result *ExecutionResult, outcome protocol.Outcome) {
	result.Frame = outcome.Frame()

	reply, ok := outcome.Reply()
	if !ok {
		result.Code = outcome.Code()
		return
	}
	result.Reply = reply

	if s.config.VerifyReplyChecksum {
		if err := protocol.VerifyChecksum(reply); err != nil {
			result.Code = protocol.CodeChecksumMismatch
			result.Detail = err.Error()
			return
		}
	}

	line := protocol.StripChecksum(reply)

	if devErr, ok := protocol.ParseDeviceError(line); ok {
		result.Code = protocol.CodeUnexpectedReply
		result.DeviceError = devErr
		result.Detail = devErr.Error()
		return
	}

	decoded, err := protocol.Decode(line)
	if err != nil {
		result.Code = protocol.CodeUnexpectedReply
		result.Detail = err.Error()
		return
	}
	result.Decoded = &decoded

	if !decoded.IsSuccess() {
		result.Code = protocol.CodeUnexpectedReply
		result.DeviceError = &protocol.DeviceError{Code: decoded.ErrorField, Description: decoded.State}
		result.Detail = result.DeviceError.Error()
		return
	}

	result.Code = protocol.CodeOK
}

func (s *CommandService) record(ctx context.Context, command string, result *ExecutionResult) {
	exchange := &model.Exchange{
		ID:          result.ID,
		Mode:        result.Mode,
		Command:     command,
		Frame:       result.Frame,
		Code:        int(result.Code),
		Description: result.Description,
		DurationMs:  int(result.Duration.Milliseconds()),
		CreatedAt:   time.Now(),
	}

	if result.Reply != "" {
		exchange.Reply = &result.Reply
	}
	if result.DeviceError != nil {
		exchange.DeviceError = &result.DeviceError.Code
	}
	if d := result.Decoded; d != nil {
		exchange.ErrorField = &d.ErrorField
		exchange.Value = &d.Value
		exchange.Decoded = model.JSONObject{
			"property":  d.Property,
			"attribute": d.Attribute,
			"state":     d.State,
		}
		if n, err := decimal.NewFromString(strings.TrimSpace(d.Value)); err == nil {
			exchange.Numeric = decimal.NullDecimal{Decimal: n, Valid: true}
		}
	}

	// the journal must not outlive a cancelled caller
	if err := s.exchanges.Create(context.WithoutCancel(ctx), exchange); err != nil {
		s.logger.Error("Failed to journal exchange",
			zap.Error(err),
			zap.String("exchange_id", exchange.ID.String()),
		)
	}
}

func (s *CommandService) publishExchange(result *ExecutionResult) {
	if s.publisher == nil {
		return
	}

	eventType := model.EventExchangeCompleted
	severity := "INFO"
	if !result.OK() {
		eventType = model.EventExchangeFailed
		severity = "WARNING"
	}

	data := model.ExchangeEventData{
		ExchangeID:  result.ID,
		Mode:        result.Mode,
		Frame:       result.Frame,
		Code:        int(result.Code),
		Description: result.Description,
		Reply:       result.Reply,
		Value:       result.Value(),
		DurationMs:  int(result.Duration.Milliseconds()),
	}
	s.publisher.Publish(model.NewEvent(eventType, "command-service", severity, data.Object()))
}

// publishLinkChange emits a LINK_STATUS event when the link availability flips
func (s *CommandService) publishLinkChange() {
	up := s.transport.IsOpen()
	if s.linkUp.Swap(up) == up || s.publisher == nil {
		return
	}

	severity := "INFO"
	if !up {
		severity = "ERROR"
	}
	data := model.LinkStatusEventData{Port: s.transport.PortName(), Connected: up}
	s.publisher.Publish(model.NewEvent(model.EventLinkStatus, "command-service", severity, data.Object()))
}

// validateFields rejects command fields that would break the frame structure
func validateFields(fields ...string) error {
	for _, f := range fields {
		if f == "" {
			return &protocol.InvalidArgumentError{Reason: "empty field"}
		}
		if strings.ContainsAny(f, protocol.Separator+protocol.ChecksumSeparator+"\r\n") {
			return &protocol.InvalidArgumentError{Reason: fmt.Sprintf("field %q contains a reserved character", f)}
		}
	}
	return nil
}
