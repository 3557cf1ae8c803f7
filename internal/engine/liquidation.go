package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"leverage/internal/models"
	"leverage/pkg/utils"
)

// LiquidationResult - результат ликвидации
type LiquidationResult struct {
	// Фактически погашенный долг в единицах заёмного актива
	DebtRepaid decimal.Decimal `json:"debt_repaid"`
	// Залог, изъятый в пользу ликвидатора
	CollateralSeized decimal.Decimal `json:"collateral_seized"`
	// true если позиция закрыта этой ликвидацией
	PositionClosed bool `json:"position_closed"`
	// Непокрытая часть погашения в расчётной валюте
	BadDebtValue decimal.Decimal `json:"bad_debt_value"`
}

// Liquidate выполняет частичную или полную ликвидацию небезопасной позиции.
// Вызывается любым ликвидатором. Предусловие health factor < 1.0
// перепроверяется в момент извлечения из журнала операций: если более
// ранняя ликвидация уже вернула позицию в безопасную зону, вызов чисто
// завершается ошибкой ErrPositionHealthy.
func (e *Engine) Liquidate(ctx context.Context, liquidator, owner string, id int64, debtToCover decimal.Decimal) (*LiquidationResult, error) {
	var out *LiquidationResult
	err := e.submit(ctx, "liquidate", func(ctx context.Context) error {
		res, err := e.doLiquidate(ctx, liquidator, owner, id, debtToCover)
		out = res
		return err
	})
	return out, err
}

func (e *Engine) doLiquidate(ctx context.Context, liquidator, owner string, id int64, debtToCover decimal.Decimal) (*LiquidationResult, error) {
	if !debtToCover.IsPositive() {
		return nil, fmt.Errorf("%w: debtToCover должен быть положительным", ErrInvalidAmount)
	}

	pos, ok := e.ledger.Get(owner, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", ErrPositionNotFound, owner, id)
	}
	if !pos.IsActive() {
		return nil, fmt.Errorf("%w: %s/%d", ErrPositionNotActive, owner, id)
	}

	collCfg, ok := e.registry.CollateralConfig(pos.CollateralAsset)
	if !ok {
		return nil, fmt.Errorf("%w: залог %s", ErrAssetNotSupported, pos.CollateralAsset)
	}

	view := NewPriceView(e.prices)

	hf, err := e.calc.HealthFactor(ctx, pos, view)
	if err != nil {
		return nil, err
	}
	if hf.GreaterThanOrEqual(one) {
		return nil, fmt.Errorf("%w: health factor %s", ErrPositionHealthy, hf)
	}

	// Ограничение close factor защищает от избыточной ликвидации:
	// за один вызов гасится не больше доли долга
	maxCover := utils.BpsOf(pos.BorrowAmount, e.cfg.CloseFactorBps)
	cover := utils.MinDecimal(debtToCover, maxCover)
	cover = utils.MinDecimal(cover, pos.BorrowAmount)

	priceBorrow, err := view.Price(ctx, pos.BorrowAsset)
	if err != nil {
		return nil, err
	}
	priceColl, err := view.Price(ctx, pos.CollateralAsset)
	if err != nil {
		return nil, err
	}

	// Изъятие: покрытый долг в единицах залога плюс бонус ликвидатора
	coverValue := cover.Mul(priceBorrow)
	seizure := utils.BpsOf(coverValue.Div(priceColl), collCfg.LiqBonusBps)

	badDebtValue := decimal.Zero
	if seizure.GreaterThan(pos.CollateralAmount) {
		// Залога не хватает: изымаем остаток, недостача фиксируется
		// как безнадёжный долг, а не откатом
		shortfall := seizure.Sub(pos.CollateralAmount)
		badDebtValue = shortfall.Mul(priceColl)
		seizure = pos.CollateralAmount
	}

	// Ликвидатор гасит долг в пул и забирает изъятый залог
	repaid, err := e.pool.Repay(ctx, pos.BorrowAsset, cover)
	if err != nil {
		return nil, fmt.Errorf("погашение ликвидатором: %w", err)
	}

	if seizure.IsPositive() {
		if err := e.pool.Withdraw(ctx, pos.CollateralAsset, seizure); err != nil {
			e.compensate(ctx, "liquidate", owner,
				func(ctx context.Context) error {
					return e.pool.Borrow(ctx, pos.BorrowAsset, repaid)
				})
			return nil, fmt.Errorf("изъятие залога: %w", err)
		}
	}

	pos.BorrowAmount = pos.BorrowAmount.Sub(repaid)
	pos.CollateralAmount = pos.CollateralAmount.Sub(seizure)

	closed := !pos.BorrowAmount.IsPositive() || !pos.CollateralAmount.IsPositive()
	returned := decimal.Zero
	if closed {
		// Остаток залога после полного погашения принадлежит владельцу
		if pos.CollateralAmount.IsPositive() {
			returned = pos.CollateralAmount
			if err := e.pool.Withdraw(ctx, pos.CollateralAsset, returned); err != nil {
				e.compensate(ctx, "liquidate", owner,
					func(ctx context.Context) error {
						return e.pool.Borrow(ctx, pos.BorrowAsset, repaid)
					},
					func(ctx context.Context) error {
						return e.pool.Supply(ctx, pos.CollateralAsset, seizure)
					})
				return nil, fmt.Errorf("возврат остатка залога: %w", err)
			}
			pos.CollateralAmount = decimal.Zero
		}
		pos.Status = models.StatusLiquidated
		pos.ClosedAt = nowPtr()
	}

	if err := e.ledger.Update(pos); err != nil {
		return nil, err
	}

	LiquidationsTotal.Inc()
	e.persist(ctx, pos)
	e.emit(ctx, &models.Event{
		Type:       models.EventTypeLiquidation,
		Severity:   models.SeverityWarn,
		Owner:      owner,
		PositionID: &pos.ID,
		Message:    fmt.Sprintf("ликвидация: погашено %s %s, изъято %s %s", repaid, pos.BorrowAsset, seizure, pos.CollateralAsset),
		Meta: map[string]interface{}{
			"liquidator":          liquidator,
			"debt_repaid":         repaid.String(),
			"collateral_seized":   seizure.String(),
			"health_factor":       hf.String(),
			"closed":              closed,
			"collateral_returned": returned.String(),
		},
	})

	if badDebtValue.IsPositive() {
		BadDebtTotal.Inc()
		e.emit(ctx, &models.Event{
			Type:       models.EventTypeBadDebt,
			Severity:   models.SeverityError,
			Owner:      owner,
			PositionID: &pos.ID,
			Message:    fmt.Sprintf("безнадёжный долг %s: изъятый залог не покрыл погашение", badDebtValue),
			Meta: map[string]interface{}{
				"liquidator":     liquidator,
				"bad_debt_value": badDebtValue.String(),
			},
		})
	}

	return &LiquidationResult{
		DebtRepaid:       repaid,
		CollateralSeized: seizure,
		PositionClosed:   closed,
		BadDebtValue:     badDebtValue,
	}, nil
}
