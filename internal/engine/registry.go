package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"leverage/internal/models"
	"leverage/pkg/utils"
)

// Registry - реестр риск-параметров. Читается каждой операцией движка,
// пишется только административной поверхностью.
//
// Инжектируется во все компоненты явно, без глобального состояния:
// независимые экземпляры позволяют детерминированные параллельные тесты.
type Registry struct {
	mu          sync.RWMutex
	collateral  map[string]models.CollateralConfig
	borrow      map[string]models.BorrowAssetConfig
	borrowLimit map[string]models.UserRiskLimit
}

// NewRegistry создаёт пустой реестр
func NewRegistry() *Registry {
	return &Registry{
		collateral:  make(map[string]models.CollateralConfig),
		borrow:      make(map[string]models.BorrowAssetConfig),
		borrowLimit: make(map[string]models.UserRiskLimit),
	}
}

// SetCollateralConfig добавляет или обновляет залоговый актив.
// Порог ликвидации обязан быть строго выше LTV, иначе позиция
// становилась бы ликвидируемой сразу после открытия на максимум.
func (r *Registry) SetCollateralConfig(cfg models.CollateralConfig) error {
	if err := utils.ValidateAssetSymbol(cfg.Symbol); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.LTVBps <= 0 || cfg.LTVBps > utils.BpsDenominator {
		return fmt.Errorf("%w: ltv %d вне диапазона (0, 10000]", ErrInvalidConfig, cfg.LTVBps)
	}
	if cfg.LiqThresholdBps <= cfg.LTVBps || cfg.LiqThresholdBps > utils.BpsDenominator {
		return fmt.Errorf("%w: порог ликвидации %d должен быть в (%d, 10000]",
			ErrInvalidConfig, cfg.LiqThresholdBps, cfg.LTVBps)
	}
	if cfg.LiqBonusBps < utils.BpsDenominator {
		return fmt.Errorf("%w: бонус ликвидатора %d должен быть не меньше 10000",
			ErrInvalidConfig, cfg.LiqBonusBps)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if existing, ok := r.collateral[cfg.Symbol]; ok {
		cfg.ID = existing.ID
		cfg.CreatedAt = existing.CreatedAt
	} else {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	r.collateral[cfg.Symbol] = cfg
	return nil
}

// SetBorrowAssetConfig добавляет или обновляет заёмный актив.
// Плечо ниже 1x для этого движка бессмысленно.
func (r *Registry) SetBorrowAssetConfig(cfg models.BorrowAssetConfig) error {
	if err := utils.ValidateAssetSymbol(cfg.Symbol); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := utils.ValidateLeverageBps(cfg.MaxLeverageBps); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if existing, ok := r.borrow[cfg.Symbol]; ok {
		cfg.ID = existing.ID
		cfg.CreatedAt = existing.CreatedAt
	} else {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	r.borrow[cfg.Symbol] = cfg
	return nil
}

// SetUserBorrowLimit задаёт лимит суммарного долга владельца
func (r *Registry) SetUserBorrowLimit(limit models.UserRiskLimit) error {
	if err := utils.ValidateOwner(limit.Owner); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if limit.MaxBorrowValue.IsNegative() {
		return fmt.Errorf("%w: отрицательный лимит долга", ErrInvalidConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if existing, ok := r.borrowLimit[limit.Owner]; ok {
		limit.ID = existing.ID
		limit.CreatedAt = existing.CreatedAt
	} else {
		limit.CreatedAt = now
	}
	limit.UpdatedAt = now
	r.borrowLimit[limit.Owner] = limit
	return nil
}

// RemoveUserBorrowLimit снимает лимит владельца
func (r *Registry) RemoveUserBorrowLimit(owner string) {
	r.mu.Lock()
	delete(r.borrowLimit, owner)
	r.mu.Unlock()
}

// CollateralConfig возвращает конфигурацию залогового актива
func (r *Registry) CollateralConfig(symbol string) (models.CollateralConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.collateral[symbol]
	return cfg, ok
}

// BorrowAssetConfig возвращает конфигурацию заёмного актива
func (r *Registry) BorrowAssetConfig(symbol string) (models.BorrowAssetConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.borrow[symbol]
	return cfg, ok
}

// UserBorrowLimit возвращает лимит долга владельца.
// false означает отсутствие лимита.
func (r *Registry) UserBorrowLimit(owner string) (decimal.Decimal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	limit, ok := r.borrowLimit[owner]
	if !ok {
		return decimal.Zero, false
	}
	return limit.MaxBorrowValue, true
}

// ListCollateral возвращает все залоговые активы
func (r *Registry) ListCollateral() []models.CollateralConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.CollateralConfig, 0, len(r.collateral))
	for _, cfg := range r.collateral {
		out = append(out, cfg)
	}
	return out
}

// ListBorrowAssets возвращает все заёмные активы
func (r *Registry) ListBorrowAssets() []models.BorrowAssetConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.BorrowAssetConfig, 0, len(r.borrow))
	for _, cfg := range r.borrow {
		out = append(out, cfg)
	}
	return out
}

// Load наполняет реестр сохранёнными конфигурациями без валидации.
// Используется при старте для восстановления из БД.
func (r *Registry) Load(collateral []models.CollateralConfig, borrow []models.BorrowAssetConfig, limits []models.UserRiskLimit) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cfg := range collateral {
		r.collateral[cfg.Symbol] = cfg
	}
	for _, cfg := range borrow {
		r.borrow[cfg.Symbol] = cfg
	}
	for _, limit := range limits {
		r.borrowLimit[limit.Owner] = limit
	}
}
