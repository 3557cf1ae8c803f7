package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"leverage/internal/models"
	"leverage/pkg/utils"
)

// Rebalance возвращает фактическое плечо позиции к целевому, когда дрейф
// превысил порог. Вызывается любым кипером, проверки владения нет:
// корректная ребалансировка работает на безопасность протокола.
// Целевое плечо при этом не меняется.
func (e *Engine) Rebalance(ctx context.Context, caller, owner string, id int64) (*models.Position, error) {
	var out *models.Position
	err := e.submit(ctx, "rebalance", func(ctx context.Context) error {
		pos, err := e.doRebalance(ctx, caller, owner, id)
		out = pos
		return err
	})
	return out, err
}

func (e *Engine) doRebalance(ctx context.Context, caller, owner string, id int64) (*models.Position, error) {
	pos, ok := e.ledger.Get(owner, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", ErrPositionNotFound, owner, id)
	}
	if !pos.IsActive() {
		return nil, fmt.Errorf("%w: %s/%d", ErrPositionNotActive, owner, id)
	}

	threshold := pos.RebalanceThresholdBps
	if threshold <= 0 {
		threshold = e.cfg.DefaultRebalanceThresholdBps
	}

	view := NewPriceView(e.prices)

	needs, err := e.calc.NeedsRebalance(ctx, pos, threshold, view)
	if err != nil {
		return nil, err
	}
	if !needs {
		return nil, fmt.Errorf("%w: %s/%d, порог %d bps", ErrRebalanceNotNeeded, owner, id, threshold)
	}

	oldLeverage, newLeverage, err := e.convergeToTarget(ctx, pos, view)
	if err != nil {
		return nil, err
	}

	if err := e.ledger.Update(pos); err != nil {
		return nil, err
	}

	RebalancesTotal.Inc()
	e.persist(ctx, pos)
	e.emit(ctx, &models.Event{
		Type:       models.EventTypeRebalance,
		Severity:   models.SeverityInfo,
		Owner:      owner,
		PositionID: &pos.ID,
		Message:    fmt.Sprintf("ребалансировка: плечо %d -> %d bps, цель %d bps", oldLeverage, newLeverage, pos.TargetLeverageBps),
		Meta: map[string]interface{}{
			"caller":           caller,
			"old_leverage_bps": oldLeverage,
			"new_leverage_bps": newLeverage,
			"target_bps":       pos.TargetLeverageBps,
		},
	})

	return pos, nil
}

// convergeToTarget сводит фактическое плечо позиции к целевому,
// мутируя суммы позиции. Запись в журнал позиций остаётся за вызывающим.
//
// При equity E и целевом плече λ целевая стоимость залога равна λE,
// целевой долг (λ-1)E. Плечо выше цели гасится продажей залога,
// плечо ниже цели добирается займом против уже внесённого залога,
// симметрично шагам открытия.
func (e *Engine) convergeToTarget(ctx context.Context, pos *models.Position, view *PriceView) (int, int, error) {
	oldLeverage, err := e.calc.CurrentLeverageBps(ctx, pos, view)
	if err != nil {
		return 0, 0, err
	}

	collateralValue, err := view.Value(ctx, pos.CollateralAsset, pos.CollateralAmount)
	if err != nil {
		return 0, 0, err
	}
	debtValue, err := view.Value(ctx, pos.BorrowAsset, pos.BorrowAmount)
	if err != nil {
		return 0, 0, err
	}
	priceColl, err := view.Price(ctx, pos.CollateralAsset)
	if err != nil {
		return 0, 0, err
	}
	priceBorrow, err := view.Price(ctx, pos.BorrowAsset)
	if err != nil {
		return 0, 0, err
	}

	equity := collateralValue.Sub(debtValue)
	if !equity.IsPositive() {
		return 0, 0, fmt.Errorf("неположительный equity %s: сведение к цели невозможно", equity)
	}

	targetDebtValue := utils.BpsOf(equity, pos.TargetLeverageBps-utils.BpsDenominator)

	switch {
	case debtValue.GreaterThan(targetDebtValue):
		// Плечо выше цели: продаём залог и гасим часть долга
		repayValue := debtValue.Sub(targetDebtValue)
		repayAmount := repayValue.Div(priceBorrow)

		toSell := utils.BpsOf(utils.AmountFor(repayValue, priceColl),
			utils.BpsDenominator+e.cfg.MaxSlippageBps)
		toSell = utils.MinDecimal(toSell, pos.CollateralAmount)

		if err := e.pool.Withdraw(ctx, pos.CollateralAsset, toSell); err != nil {
			return 0, 0, fmt.Errorf("вывод залога на продажу: %w", err)
		}

		out, err := e.exchange.SwapExactInput(ctx, pos.CollateralAsset, pos.BorrowAsset, toSell, repayAmount)
		if err != nil {
			e.compensate(ctx, "rebalance", pos.Owner,
				func(ctx context.Context) error {
					return e.pool.Supply(ctx, pos.CollateralAsset, toSell)
				})
			return 0, 0, fmt.Errorf("продажа залога: %w", err)
		}

		repaid, err := e.pool.Repay(ctx, pos.BorrowAsset, out)
		if err != nil {
			e.compensate(ctx, "rebalance", pos.Owner,
				func(ctx context.Context) error {
					back, serr := e.exchange.SwapExactInput(ctx, pos.BorrowAsset, pos.CollateralAsset, out, decimal.Zero)
					if serr != nil {
						return serr
					}
					return e.pool.Supply(ctx, pos.CollateralAsset, back)
				})
			return 0, 0, fmt.Errorf("погашение долга: %w", err)
		}

		pos.CollateralAmount = pos.CollateralAmount.Sub(toSell)
		pos.BorrowAmount = pos.BorrowAmount.Sub(repaid)

	case debtValue.LessThan(targetDebtValue):
		// Плечо ниже цели: добираем заём против внесённого залога
		addValue := targetDebtValue.Sub(debtValue)

		if err := e.checkBorrowLimit(ctx, pos.Owner, addValue, view); err != nil {
			return 0, 0, err
		}

		addAmount := addValue.Div(priceBorrow)
		if err := e.pool.Borrow(ctx, pos.BorrowAsset, addAmount); err != nil {
			return 0, 0, fmt.Errorf("заём: %w", err)
		}

		minOut := utils.BpsOf(utils.AmountFor(addValue, priceColl),
			utils.BpsDenominator-e.cfg.MaxSlippageBps)
		swapped, err := e.exchange.SwapExactInput(ctx, pos.BorrowAsset, pos.CollateralAsset, addAmount, minOut)
		if err != nil {
			e.compensate(ctx, "rebalance", pos.Owner,
				func(ctx context.Context) error {
					_, rerr := e.pool.Repay(ctx, pos.BorrowAsset, addAmount)
					return rerr
				})
			return 0, 0, fmt.Errorf("своп займа: %w", err)
		}

		if err := e.pool.Supply(ctx, pos.CollateralAsset, swapped); err != nil {
			e.compensate(ctx, "rebalance", pos.Owner,
				func(ctx context.Context) error {
					back, serr := e.exchange.SwapExactInput(ctx, pos.CollateralAsset, pos.BorrowAsset, swapped, decimal.Zero)
					if serr != nil {
						return serr
					}
					_, rerr := e.pool.Repay(ctx, pos.BorrowAsset, back)
					return rerr
				})
			return 0, 0, fmt.Errorf("довнесение залога: %w", err)
		}

		pos.CollateralAmount = pos.CollateralAmount.Add(swapped)
		pos.BorrowAmount = pos.BorrowAmount.Add(addAmount)
	}

	newLeverage, err := e.calc.CurrentLeverageBps(ctx, pos, view)
	if err != nil {
		return 0, 0, err
	}
	return oldLeverage, newLeverage, nil
}
