// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventExchangeCompleted EventType = "EXCHANGE_COMPLETED"
	EventExchangeFailed    EventType = "EXCHANGE_FAILED"
	EventLinkStatus        EventType = "LINK_STATUS"
)

// Event represents an event pushed to subscribers
type Event struct {
	ID        uuid.UUID  `json:"id"`
	EventType EventType  `json:"event_type"`
	Data      JSONObject `json:"data"`
	Timestamp time.Time  `json:"timestamp"`
	Source    string     `json:"source"`
	Severity  string     `json:"severity"` // INFO, WARNING, ERROR
}

// NewEvent stamps a new event
func NewEvent(eventType EventType, source, severity string, data JSONObject) *Event {
	return &Event{
		ID:        uuid.New(),
		EventType: eventType,
		Data:      data,
		Timestamp: time.Now(),
		Source:    source,
		Severity:  severity,
	}
}

// ExchangeEventData represents a completed exchange
type ExchangeEventData struct {
	ExchangeID  uuid.UUID    `json:"exchange_id"`
	Mode        ExchangeMode `json:"mode"`
	Frame       string       `json:"frame"`
	Code        int          `json:"code"`
	Description string       `json:"description"`
	Reply       string       `json:"reply,omitempty"`
	Value       string       `json:"value,omitempty"`
	DurationMs  int          `json:"duration_ms"`
}

// LinkStatusEventData represents a change of serial link availability
type LinkStatusEventData struct {
	Port      string `json:"port"`
	Connected bool   `json:"connected"`
}

// Object converts the payload into event data
func (d ExchangeEventData) Object() JSONObject {
	obj := JSONObject{
		"exchange_id": d.ExchangeID.String(),
		"mode":        string(d.Mode),
		"frame":       d.Frame,
		"code":        d.Code,
		"description": d.Description,
		"duration_ms": d.DurationMs,
	}
	if d.Reply != "" {
		obj["reply"] = d.Reply
	}
	if d.Value != "" {
		obj["value"] = d.Value
	}
	return obj
}

// Object converts the payload into event data
func (d LinkStatusEventData) Object() JSONObject {
	return JSONObject{"port": d.Port, "connected": d.Connected}
}
