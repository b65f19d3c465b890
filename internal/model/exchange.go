// internal/model/exchange.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExchangeMode represents how a command was put on the wire
type ExchangeMode string

const (
	ExchangeModeFramed ExchangeMode = "FRAMED"
	ExchangeModeRaw    ExchangeMode = "RAW"
)

// Exchange is one journaled request/reply round trip with the device
type Exchange struct {
	ID          uuid.UUID           `json:"id" db:"id"`
	Mode        ExchangeMode        `json:"mode" db:"mode"`
	Command     string              `json:"command" db:"command"`
	Frame       string              `json:"frame" db:"frame"`
	Code        int                 `json:"code" db:"code"`
	Description string              `json:"description" db:"description"`
	Reply       *string             `json:"reply,omitempty" db:"reply"`
	ErrorField  *string             `json:"error_field,omitempty" db:"error_field"`
	Value       *string             `json:"value,omitempty" db:"value"`
	Numeric     decimal.NullDecimal `json:"numeric_value" db:"numeric_value"`
	DeviceError *string             `json:"device_error,omitempty" db:"device_error"`
	Decoded     JSONObject          `json:"decoded,omitempty" db:"decoded"`
	DurationMs  int                 `json:"duration_ms" db:"duration_ms"`
	CreatedAt   time.Time           `json:"created_at" db:"created_at"`
}

// IsSuccess checks if the exchange completed with code 0
func (e *Exchange) IsSuccess() bool {
	return e.Code == 0
}

// JSONObject type for PostgreSQL JSONB objects
type JSONObject map[string]interface{}

func (j *JSONObject) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("cannot scan %T into JSONObject", value)
	}
}

func (j JSONObject) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}
