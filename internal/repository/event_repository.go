package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"

	"leverage/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Ошибки репозитория событий
var (
	ErrEventNotFound = errors.New("event not found")
)

// EventRepository - работа с таблицей events.
// Журнал только дописывается, метаданные хранятся в JSONB.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository создает новый экземпляр репозитория
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Insert добавляет запись о событии
func (r *EventRepository) Insert(ctx context.Context, ev *models.Event) error {
	query := `
		INSERT INTO events (timestamp, type, severity, owner, position_id, message, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	meta, err := json.Marshal(ev.Meta)
	if err != nil {
		return err
	}

	return r.db.QueryRowContext(
		ctx,
		query,
		ev.Timestamp,
		ev.Type,
		ev.Severity,
		ev.Owner,
		ev.PositionID,
		ev.Message,
		meta,
	).Scan(&ev.ID)
}

// GetRecent возвращает последние N событий
func (r *EventRepository) GetRecent(ctx context.Context, limit int) ([]*models.Event, error) {
	query := `
		SELECT id, timestamp, type, severity, owner, position_id, message, meta
		FROM events
		ORDER BY timestamp DESC
		LIMIT $1`

	return r.queryEvents(ctx, query, limit)
}

// GetByOwner возвращает события конкретного владельца
func (r *EventRepository) GetByOwner(ctx context.Context, owner string, limit int) ([]*models.Event, error) {
	query := `
		SELECT id, timestamp, type, severity, owner, position_id, message, meta
		FROM events
		WHERE owner = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	return r.queryEvents(ctx, query, owner, limit)
}

// GetByPosition возвращает события конкретной позиции
func (r *EventRepository) GetByPosition(ctx context.Context, owner string, positionID int64, limit int) ([]*models.Event, error) {
	query := `
		SELECT id, timestamp, type, severity, owner, position_id, message, meta
		FROM events
		WHERE owner = $1 AND position_id = $2
		ORDER BY timestamp DESC
		LIMIT $3`

	return r.queryEvents(ctx, query, owner, positionID, limit)
}

// GetByType возвращает события определенного типа
func (r *EventRepository) GetByType(ctx context.Context, eventType string, limit int) ([]*models.Event, error) {
	query := `
		SELECT id, timestamp, type, severity, owner, position_id, message, meta
		FROM events
		WHERE type = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	return r.queryEvents(ctx, query, eventType, limit)
}

// DeleteOlderThan удаляет события старше указанной даты
func (r *EventRepository) DeleteOlderThan(ctx context.Context, timestamp time.Time) (int64, error) {
	query := `DELETE FROM events WHERE timestamp < $1`

	result, err := r.db.ExecContext(ctx, query, timestamp)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// Count возвращает общее количество событий
func (r *EventRepository) Count(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM events`

	var count int
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

func (r *EventRepository) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*models.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		ev := &models.Event{}
		var meta []byte
		err := rows.Scan(
			&ev.ID,
			&ev.Timestamp,
			&ev.Type,
			&ev.Severity,
			&ev.Owner,
			&ev.PositionID,
			&ev.Message,
			&meta,
		)
		if err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ev.Meta); err != nil {
				return nil, err
			}
		}
		events = append(events, ev)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}
