// internal/repository/interfaces.go
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"usis-service/internal/model"
)

// ErrNotFound is returned when a journal entry does not exist
var ErrNotFound = errors.New("exchange not found")

// DefaultListLimit caps List when the filter sets no limit
const DefaultListLimit = 100

// ExchangeRepository defines exchange journal operations
type ExchangeRepository interface {
	Create(ctx context.Context, exchange *model.Exchange) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exchange, error)

	// List returns matching exchanges, newest first
	List(ctx context.Context, filter *ExchangeFilter) ([]*model.Exchange, error)

	GetStats(ctx context.Context) (*ExchangeStats, error)

	// Cleanup
	DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// ExchangeFilter represents journal query filters
type ExchangeFilter struct {
	Mode  *model.ExchangeMode `json:"mode,omitempty"`
	Code  *int                `json:"code,omitempty"`
	Since *time.Time          `json:"since,omitempty"`
	Limit int                 `json:"limit"`
}

func (f *ExchangeFilter) limit() int {
	if f == nil || f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

func (f *ExchangeFilter) matches(e *model.Exchange) bool {
	if f == nil {
		return true
	}
	if f.Mode != nil && e.Mode != *f.Mode {
		return false
	}
	if f.Code != nil && e.Code != *f.Code {
		return false
	}
	if f.Since != nil && e.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// ExchangeStats summarises the journal
type ExchangeStats struct {
	Total         int64         `json:"total"`
	ByCode        map[int]int64 `json:"by_code"`
	AvgDurationMs float64       `json:"avg_duration_ms"`
	LastAt        *time.Time    `json:"last_at,omitempty"`
}
