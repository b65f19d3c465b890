// internal/repository/exchange_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"usis-service/internal/database"
	"usis-service/internal/model"
	"usis-service/internal/utils"
)

const exchangeColumns = `id, mode, command, frame, code, description, reply, error_field,
	value, numeric_value, device_error, decoded, duration_ms, created_at`

// exchangeRepository implements ExchangeRepository on postgres
type exchangeRepository struct {
	db     *database.DB
	logger *utils.ServiceLogger
}

// NewExchangeRepository creates a postgres-backed exchange journal
func NewExchangeRepository(db *database.DB, logger *zap.Logger) ExchangeRepository {
	return &exchangeRepository{
		db:     db,
		logger: utils.NewServiceLogger(logger, "exchange-repository"),
	}
}

// Create inserts a journal entry
func (r *exchangeRepository) Create(ctx context.Context, e *model.Exchange) error {
	query := `
		INSERT INTO exchanges (` + exchangeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	start := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.Mode, e.Command, e.Frame, e.Code, e.Description, e.Reply,
		e.ErrorField, e.Value, e.Numeric, e.DeviceError, e.Decoded,
		e.DurationMs, e.CreatedAt,
	)
	r.logger.LogDatabaseQuery("insert exchange", time.Since(start), err)

	if err != nil {
		return fmt.Errorf("failed to create exchange: %w", err)
	}

	return nil
}

// GetByID retrieves an exchange by ID
func (r *exchangeRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exchange, error) {
	query := `SELECT ` + exchangeColumns + ` FROM exchanges WHERE id = $1`

	e, err := scanExchange(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get exchange: %w", err)
	}

	return e, nil
}

// List retrieves exchanges matching filter, newest first
func (r *exchangeRepository) List(ctx context.Context, filter *ExchangeFilter) ([]*model.Exchange, error) {
	whereClause, args := buildExchangeWhere(filter)

	query := fmt.Sprintf(`SELECT %s FROM exchanges %s ORDER BY created_at DESC LIMIT $%d`,
		exchangeColumns, whereClause, len(args)+1)
	args = append(args, filter.limit())

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, args...)
	r.logger.LogDatabaseQuery("list exchanges", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []*model.Exchange
	for rows.Next() {
		e, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		exchanges = append(exchanges, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate exchanges: %w", err)
	}

	return exchanges, nil
}

// GetStats aggregates the journal
func (r *exchangeRepository) GetStats(ctx context.Context) (*ExchangeStats, error) {
	stats := &ExchangeStats{ByCode: make(map[int]int64)}

	var avgDurationMs sql.NullFloat64
	var lastAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(duration_ms), MAX(created_at) FROM exchanges
	`).Scan(&stats.Total, &avgDurationMs, &lastAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange stats: %w", err)
	}

	if avgDurationMs.Valid {
		stats.AvgDurationMs = avgDurationMs.Float64
	}
	if lastAt.Valid {
		stats.LastAt = &lastAt.Time
	}

	rows, err := r.db.QueryContext(ctx, `SELECT code, COUNT(*) FROM exchanges GROUP BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange stats by code: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var code int
		var count int64
		if err := rows.Scan(&code, &count); err != nil {
			return nil, fmt.Errorf("failed to scan code stats: %w", err)
		}
		stats.ByCode[code] = count
	}

	return stats, rows.Err()
}

// DeleteOlderThan removes entries older than retention
func (r *exchangeRepository) DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	var deleted int64
	err := r.db.QueryRowContext(ctx,
		`SELECT cleanup_old_exchanges($1::interval)`,
		fmt.Sprintf("%d milliseconds", retention.Milliseconds()),
	).Scan(&deleted)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old exchanges: %w", err)
	}

	r.logger.Info("Deleted old exchanges",
		zap.Int64("rows_deleted", deleted),
		zap.Duration("retention", retention),
	)

	return deleted, nil
}

// buildExchangeWhere renders filter as a WHERE clause with positional args
func buildExchangeWhere(filter *ExchangeFilter) (string, []interface{}) {
	if filter == nil {
		return "", nil
	}

	whereConditions := []string{}
	args := []interface{}{}

	if filter.Mode != nil {
		args = append(args, *filter.Mode)
		whereConditions = append(whereConditions, fmt.Sprintf("mode = $%d", len(args)))
	}

	if filter.Code != nil {
		args = append(args, *filter.Code)
		whereConditions = append(whereConditions, fmt.Sprintf("code = $%d", len(args)))
	}

	if filter.Since != nil {
		args = append(args, *filter.Since)
		whereConditions = append(whereConditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	if len(whereConditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(whereConditions, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExchange(row rowScanner) (*model.Exchange, error) {
	e := &model.Exchange{}
	err := row.Scan(
		&e.ID, &e.Mode, &e.Command, &e.Frame, &e.Code, &e.Description,
		&e.Reply, &e.ErrorField, &e.Value, &e.Numeric, &e.DeviceError,
		&e.Decoded, &e.DurationMs, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}
