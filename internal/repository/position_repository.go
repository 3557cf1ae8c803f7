package repository

import (
	"context"
	"database/sql"
	"errors"

	"leverage/internal/models"
)

// Ошибки репозитория позиций
var (
	ErrPositionNotFound = errors.New("position not found")
)

// PositionRepository - работа с таблицей positions.
// Первичный ключ составной (owner, id): идентификаторы позиций
// монотонны в пределах владельца.
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Save записывает позицию, перезаписывая существующую запись.
// Ядро вызывает его после каждой зафиксированной мутации.
func (r *PositionRepository) Save(ctx context.Context, pos *models.Position) error {
	query := `
		INSERT INTO positions (id, owner, collateral_asset, borrow_asset, collateral_amount, borrow_amount,
			target_leverage_bps, rebalance_threshold_bps, stop_loss_price, status, opened_at, closed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (owner, id) DO UPDATE SET
			collateral_amount = EXCLUDED.collateral_amount,
			borrow_amount = EXCLUDED.borrow_amount,
			target_leverage_bps = EXCLUDED.target_leverage_bps,
			rebalance_threshold_bps = EXCLUDED.rebalance_threshold_bps,
			stop_loss_price = EXCLUDED.stop_loss_price,
			status = EXCLUDED.status,
			closed_at = EXCLUDED.closed_at,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(
		ctx,
		query,
		pos.ID,
		pos.Owner,
		pos.CollateralAsset,
		pos.BorrowAsset,
		pos.CollateralAmount,
		pos.BorrowAmount,
		pos.TargetLeverageBps,
		pos.RebalanceThresholdBps,
		pos.StopLossPrice,
		pos.Status,
		pos.OpenedAt,
		pos.ClosedAt,
		pos.CreatedAt,
		pos.UpdatedAt,
	)

	return err
}

// Get возвращает позицию по владельцу и идентификатору
func (r *PositionRepository) Get(ctx context.Context, owner string, id int64) (*models.Position, error) {
	query := `
		SELECT id, owner, collateral_asset, borrow_asset, collateral_amount, borrow_amount,
			target_leverage_bps, rebalance_threshold_bps, stop_loss_price, status, opened_at, closed_at, created_at, updated_at
		FROM positions
		WHERE owner = $1 AND id = $2`

	pos := &models.Position{}
	err := r.db.QueryRowContext(ctx, query, owner, id).Scan(
		&pos.ID,
		&pos.Owner,
		&pos.CollateralAsset,
		&pos.BorrowAsset,
		&pos.CollateralAmount,
		&pos.BorrowAmount,
		&pos.TargetLeverageBps,
		&pos.RebalanceThresholdBps,
		&pos.StopLossPrice,
		&pos.Status,
		&pos.OpenedAt,
		&pos.ClosedAt,
		&pos.CreatedAt,
		&pos.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}

	return pos, nil
}

// GetByOwner возвращает все позиции владельца
func (r *PositionRepository) GetByOwner(ctx context.Context, owner string) ([]*models.Position, error) {
	query := `
		SELECT id, owner, collateral_asset, borrow_asset, collateral_amount, borrow_amount,
			target_leverage_bps, rebalance_threshold_bps, stop_loss_price, status, opened_at, closed_at, created_at, updated_at
		FROM positions
		WHERE owner = $1
		ORDER BY id`

	return r.queryPositions(ctx, query, owner)
}

// GetActive возвращает все активные позиции.
// Вызывается при старте для восстановления журнала позиций в памяти.
func (r *PositionRepository) GetActive(ctx context.Context) ([]*models.Position, error) {
	query := `
		SELECT id, owner, collateral_asset, borrow_asset, collateral_amount, borrow_amount,
			target_leverage_bps, rebalance_threshold_bps, stop_loss_price, status, opened_at, closed_at, created_at, updated_at
		FROM positions
		WHERE status = $1
		ORDER BY owner, id`

	return r.queryPositions(ctx, query, models.StatusActive)
}

// GetAll возвращает все позиции, включая закрытые
func (r *PositionRepository) GetAll(ctx context.Context) ([]*models.Position, error) {
	query := `
		SELECT id, owner, collateral_asset, borrow_asset, collateral_amount, borrow_amount,
			target_leverage_bps, rebalance_threshold_bps, stop_loss_price, status, opened_at, closed_at, created_at, updated_at
		FROM positions
		ORDER BY owner, id`

	return r.queryPositions(ctx, query)
}

// CountByStatus возвращает количество позиций в заданном статусе
func (r *PositionRepository) CountByStatus(ctx context.Context, status string) (int, error) {
	query := `SELECT COUNT(*) FROM positions WHERE status = $1`

	var count int
	err := r.db.QueryRowContext(ctx, query, status).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Delete удаляет позицию
func (r *PositionRepository) Delete(ctx context.Context, owner string, id int64) error {
	query := `DELETE FROM positions WHERE owner = $1 AND id = $2`

	result, err := r.db.ExecContext(ctx, query, owner, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrPositionNotFound
	}

	return nil
}

func (r *PositionRepository) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*models.Position, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		pos := &models.Position{}
		err := rows.Scan(
			&pos.ID,
			&pos.Owner,
			&pos.CollateralAsset,
			&pos.BorrowAsset,
			&pos.CollateralAmount,
			&pos.BorrowAmount,
			&pos.TargetLeverageBps,
			&pos.RebalanceThresholdBps,
			&pos.StopLossPrice,
			&pos.Status,
			&pos.OpenedAt,
			&pos.ClosedAt,
			&pos.CreatedAt,
			&pos.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return positions, nil
}
