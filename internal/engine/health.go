package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"leverage/internal/models"
	"leverage/pkg/utils"
)

// Сентинелы для неактивных и бездолговых позиций. Боты могут звать
// калькулятор на любой позиции без спецобработки закрытых.
var (
	// MaxHealthFactor - health factor позиции без долга или закрытой
	MaxHealthFactor = decimal.New(1, 9) // 1e9
)

// InfiniteLeverageBps - плечо позиции с неположительным equity
const InfiniteLeverageBps = 1 << 30

// one - граница безопасности health factor
var one = decimal.New(1, 0)

// Calculator вычисляет метрики безопасности позиций.
// Чистые функции над реестром и снимком цен, без побочных эффектов.
type Calculator struct {
	registry *Registry
}

// NewCalculator создаёт калькулятор поверх реестра
func NewCalculator(registry *Registry) *Calculator {
	return &Calculator{registry: registry}
}

// HealthFactor вычисляет health factor позиции:
//
//	(залог * цена * порог_ликвидации / 10000) / (долг * цена)
//
// Значения ниже 1.0 означают небезопасную позицию.
// Для закрытой позиции возвращает MaxHealthFactor.
func (c *Calculator) HealthFactor(ctx context.Context, pos *models.Position, view *PriceView) (decimal.Decimal, error) {
	if !pos.IsActive() {
		return MaxHealthFactor, nil
	}
	if !pos.BorrowAmount.IsPositive() {
		return MaxHealthFactor, nil
	}

	cfg, ok := c.registry.CollateralConfig(pos.CollateralAsset)
	if !ok {
		return decimal.Zero, ErrAssetNotSupported
	}

	collateralValue, err := view.Value(ctx, pos.CollateralAsset, pos.CollateralAmount)
	if err != nil {
		return decimal.Zero, err
	}
	debtValue, err := view.Value(ctx, pos.BorrowAsset, pos.BorrowAmount)
	if err != nil {
		return decimal.Zero, err
	}
	if !debtValue.IsPositive() {
		return MaxHealthFactor, nil
	}

	adjusted := utils.BpsOf(collateralValue, cfg.LiqThresholdBps)
	return adjusted.Div(debtValue), nil
}

// CurrentLeverageBps вычисляет текущее плечо позиции в bps:
// суммарная экспозиция к чистому equity (20000 = 2x).
// Для закрытой позиции возвращает 0, при неположительном equity
// возвращает InfiniteLeverageBps.
func (c *Calculator) CurrentLeverageBps(ctx context.Context, pos *models.Position, view *PriceView) (int, error) {
	if !pos.IsActive() {
		return 0, nil
	}

	collateralValue, err := view.Value(ctx, pos.CollateralAsset, pos.CollateralAmount)
	if err != nil {
		return 0, err
	}
	debtValue, err := view.Value(ctx, pos.BorrowAsset, pos.BorrowAmount)
	if err != nil {
		return 0, err
	}

	equity := collateralValue.Sub(debtValue)
	if !equity.IsPositive() {
		return InfiniteLeverageBps, nil
	}
	return utils.RatioBps(collateralValue, equity), nil
}

// NeedsRebalance возвращает true если текущее плечо отклонилось от
// целевого больше чем на thresholdBps. Для закрытой позиции false.
func (c *Calculator) NeedsRebalance(ctx context.Context, pos *models.Position, thresholdBps int, view *PriceView) (bool, error) {
	if !pos.IsActive() {
		return false, nil
	}

	current, err := c.CurrentLeverageBps(ctx, pos, view)
	if err != nil {
		return false, err
	}
	return utils.AbsDiffBps(current, pos.TargetLeverageBps) > thresholdBps, nil
}

// Snapshot собирает полный расчёт состояния позиции по текущим ценам
func (c *Calculator) Snapshot(ctx context.Context, pos *models.Position, view *PriceView) (*models.HealthSnapshot, error) {
	hf, err := c.HealthFactor(ctx, pos, view)
	if err != nil {
		return nil, err
	}
	leverage, err := c.CurrentLeverageBps(ctx, pos, view)
	if err != nil {
		return nil, err
	}

	collateralValue := decimal.Zero
	debtValue := decimal.Zero
	if pos.IsActive() {
		if collateralValue, err = view.Value(ctx, pos.CollateralAsset, pos.CollateralAmount); err != nil {
			return nil, err
		}
		if debtValue, err = view.Value(ctx, pos.BorrowAsset, pos.BorrowAmount); err != nil {
			return nil, err
		}
	}

	return &models.HealthSnapshot{
		PositionID:         pos.ID,
		Owner:              pos.Owner,
		HealthFactor:       hf,
		CurrentLeverageBps: leverage,
		CollateralValue:    collateralValue,
		DebtValue:          debtValue,
		Equity:             collateralValue.Sub(debtValue),
		Timestamp:          time.Now(),
	}, nil
}
