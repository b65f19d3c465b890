// internal/repository/memory_repository.go
package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"usis-service/internal/model"
)

// memoryExchangeRepository keeps the most recent exchanges in a fixed-size ring.
// It backs the journal when no database is configured.
type memoryExchangeRepository struct {
	mu      sync.RWMutex
	entries []*model.Exchange
	next    int
	full    bool
	logger  *zap.Logger
}

// NewMemoryExchangeRepository creates an in-memory journal holding up to capacity entries
func NewMemoryExchangeRepository(capacity int, logger *zap.Logger) ExchangeRepository {
	if capacity <= 0 {
		capacity = DefaultListLimit
	}
	return &memoryExchangeRepository{
		entries: make([]*model.Exchange, capacity),
		logger:  logger,
	}
}

func (r *memoryExchangeRepository) Create(_ context.Context, e *model.Exchange) error {
	if e == nil {
		return fmt.Errorf("failed to create exchange: nil exchange")
	}

	cp := *e

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.next] = &cp
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

func (r *memoryExchangeRepository) GetByID(_ context.Context, id uuid.UUID) (*model.Exchange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e != nil && e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (r *memoryExchangeRepository) List(_ context.Context, filter *ExchangeFilter) ([]*model.Exchange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limit := filter.limit()
	result := make([]*model.Exchange, 0)

	r.newestFirst(func(e *model.Exchange) bool {
		if filter.matches(e) {
			cp := *e
			result = append(result, &cp)
		}
		return len(result) < limit
	})

	return result, nil
}

func (r *memoryExchangeRepository) GetStats(_ context.Context) (*ExchangeStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &ExchangeStats{ByCode: make(map[int]int64)}
	var totalDuration int64

	r.newestFirst(func(e *model.Exchange) bool {
		if stats.LastAt == nil {
			last := e.CreatedAt
			stats.LastAt = &last
		}
		stats.Total++
		stats.ByCode[e.Code]++
		totalDuration += int64(e.DurationMs)
		return true
	})

	if stats.Total > 0 {
		stats.AvgDurationMs = float64(totalDuration) / float64(stats.Total)
	}
	return stats, nil
}

func (r *memoryExchangeRepository) DeleteOlderThan(_ context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	var kept []*model.Exchange
	var deleted int64
	r.oldestFirst(func(e *model.Exchange) {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			return
		}
		kept = append(kept, e)
	})

	if deleted == 0 {
		return 0, nil
	}

	capacity := len(r.entries)
	r.entries = make([]*model.Exchange, capacity)
	copy(r.entries, kept)
	r.next = len(kept) % capacity
	r.full = len(kept) == capacity

	if r.logger != nil {
		r.logger.Info("Deleted old exchanges",
			zap.Int64("rows_deleted", deleted),
			zap.Duration("retention", retention),
		)
	}
	return deleted, nil
}

// newestFirst walks stored entries from the most recent; fn returns false to stop
func (r *memoryExchangeRepository) newestFirst(fn func(*model.Exchange) bool) {
	n := r.count()
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.entries)) % len(r.entries)
		if !fn(r.entries[idx]) {
			return
		}
	}
}

func (r *memoryExchangeRepository) oldestFirst(fn func(*model.Exchange)) {
	n := r.count()
	start := 0
	if r.full {
		start = r.next
	}
	for i := 0; i < n; i++ {
		fn(r.entries[(start+i)%len(r.entries)])
	}
}

func (r *memoryExchangeRepository) count() int {
	if r.full {
		return len(r.entries)
	}
	return r.next
}
