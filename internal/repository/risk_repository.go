package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"leverage/internal/models"
)

// Ошибки репозитория риск-параметров
var (
	ErrCollateralNotFound  = errors.New("collateral config not found")
	ErrBorrowAssetNotFound = errors.New("borrow asset config not found")
	ErrUserLimitNotFound   = errors.New("user risk limit not found")
)

// RiskRepository - работа с таблицами риск-реестра: параметры залоговых
// и заёмных активов и лимиты заимствования пользователей
type RiskRepository struct {
	db *sql.DB
}

// NewRiskRepository создает новый экземпляр репозитория
func NewRiskRepository(db *sql.DB) *RiskRepository {
	return &RiskRepository{db: db}
}

// UpsertCollateral записывает параметры залогового актива
func (r *RiskRepository) UpsertCollateral(ctx context.Context, cfg *models.CollateralConfig) error {
	query := `
		INSERT INTO collateral_configs (symbol, ltv_bps, liq_threshold_bps, liq_bonus_bps, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol) DO UPDATE SET
			ltv_bps = EXCLUDED.ltv_bps,
			liq_threshold_bps = EXCLUDED.liq_threshold_bps,
			liq_bonus_bps = EXCLUDED.liq_bonus_bps,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`

	now := time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	_, err := r.db.ExecContext(
		ctx,
		query,
		cfg.Symbol,
		cfg.LTVBps,
		cfg.LiqThresholdBps,
		cfg.LiqBonusBps,
		cfg.Active,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	)

	return err
}

// GetCollateral возвращает параметры залогового актива
func (r *RiskRepository) GetCollateral(ctx context.Context, symbol string) (*models.CollateralConfig, error) {
	query := `
		SELECT symbol, ltv_bps, liq_threshold_bps, liq_bonus_bps, active, created_at, updated_at
		FROM collateral_configs
		WHERE symbol = $1`

	cfg := &models.CollateralConfig{}
	err := r.db.QueryRowContext(ctx, query, symbol).Scan(
		&cfg.Symbol,
		&cfg.LTVBps,
		&cfg.LiqThresholdBps,
		&cfg.LiqBonusBps,
		&cfg.Active,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCollateralNotFound
		}
		return nil, err
	}

	return cfg, nil
}

// GetAllCollateral возвращает параметры всех залоговых активов
func (r *RiskRepository) GetAllCollateral(ctx context.Context) ([]*models.CollateralConfig, error) {
	query := `
		SELECT symbol, ltv_bps, liq_threshold_bps, liq_bonus_bps, active, created_at, updated_at
		FROM collateral_configs
		ORDER BY symbol`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*models.CollateralConfig
	for rows.Next() {
		cfg := &models.CollateralConfig{}
		err := rows.Scan(
			&cfg.Symbol,
			&cfg.LTVBps,
			&cfg.LiqThresholdBps,
			&cfg.LiqBonusBps,
			&cfg.Active,
			&cfg.CreatedAt,
			&cfg.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return configs, nil
}

// UpsertBorrowAsset записывает параметры заёмного актива
func (r *RiskRepository) UpsertBorrowAsset(ctx context.Context, cfg *models.BorrowAssetConfig) error {
	query := `
		INSERT INTO borrow_asset_configs (symbol, max_leverage_bps, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (symbol) DO UPDATE SET
			max_leverage_bps = EXCLUDED.max_leverage_bps,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`

	now := time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	_, err := r.db.ExecContext(
		ctx,
		query,
		cfg.Symbol,
		cfg.MaxLeverageBps,
		cfg.Active,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	)

	return err
}

// GetAllBorrowAssets возвращает параметры всех заёмных активов
func (r *RiskRepository) GetAllBorrowAssets(ctx context.Context) ([]*models.BorrowAssetConfig, error) {
	query := `
		SELECT symbol, max_leverage_bps, active, created_at, updated_at
		FROM borrow_asset_configs
		ORDER BY symbol`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*models.BorrowAssetConfig
	for rows.Next() {
		cfg := &models.BorrowAssetConfig{}
		err := rows.Scan(
			&cfg.Symbol,
			&cfg.MaxLeverageBps,
			&cfg.Active,
			&cfg.CreatedAt,
			&cfg.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return configs, nil
}

// UpsertUserLimit записывает лимит заимствования пользователя
func (r *RiskRepository) UpsertUserLimit(ctx context.Context, limit *models.UserRiskLimit) error {
	query := `
		INSERT INTO user_risk_limits (owner, max_borrow_value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner) DO UPDATE SET
			max_borrow_value = EXCLUDED.max_borrow_value,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query, limit.Owner, limit.MaxBorrowValue, time.Now())
	return err
}

// GetAllUserLimits возвращает лимиты всех пользователей
func (r *RiskRepository) GetAllUserLimits(ctx context.Context) ([]*models.UserRiskLimit, error) {
	query := `
		SELECT owner, max_borrow_value
		FROM user_risk_limits
		ORDER BY owner`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var limits []*models.UserRiskLimit
	for rows.Next() {
		limit := &models.UserRiskLimit{}
		if err := rows.Scan(&limit.Owner, &limit.MaxBorrowValue); err != nil {
			return nil, err
		}
		limits = append(limits, limit)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return limits, nil
}

// DeleteUserLimit удаляет лимит пользователя
func (r *RiskRepository) DeleteUserLimit(ctx context.Context, owner string) error {
	query := `DELETE FROM user_risk_limits WHERE owner = $1`

	result, err := r.db.ExecContext(ctx, query, owner)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrUserLimitNotFound
	}

	return nil
}
