package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"leverage/internal/models"
	"leverage/pkg/utils"
)

func nowPtr() *time.Time {
	t := time.Now()
	return &t
}

// OpenParams - параметры открытия позиции
type OpenParams struct {
	CollateralAsset   string          `json:"collateral_asset"`
	BorrowAsset       string          `json:"borrow_asset"`
	CollateralAmount  decimal.Decimal `json:"collateral_amount"`
	TargetLeverageBps int             `json:"target_leverage_bps"`
	// Нижняя граница фактического займа, защита от проскальзывания
	MinBorrowAmount decimal.Decimal `json:"min_borrow_amount"`
	// 0 = порог ребалансировки по умолчанию
	RebalanceThresholdBps int `json:"rebalance_threshold_bps"`
	// 0 = без stop-loss
	StopLossPrice decimal.Decimal `json:"stop_loss_price"`
}

// CloseResult - результат закрытия позиции
type CloseResult struct {
	// Залог, возвращённый владельцу
	CollateralReturned decimal.Decimal `json:"collateral_returned"`
	// Остаток заёмного актива сверх долга, возвращённый владельцу
	BorrowRefund decimal.Decimal `json:"borrow_refund"`
}

// OpenPosition открывает плечевую позицию владельца.
//
// Последовательность: залог вносится в пул, против него занимается
// заёмный актив в объёме collateralValue * (плечо - 1), заём меняется
// на залоговый актив и довносится в пул. Итоговая экспозиция равна
// целевому плечу. Сбой любого внешнего шага откатывает предыдущие.
func (e *Engine) OpenPosition(ctx context.Context, owner string, p OpenParams) (*models.Position, error) {
	var out *models.Position
	err := e.submit(ctx, "open", func(ctx context.Context) error {
		pos, err := e.doOpen(ctx, owner, p)
		out = pos
		return err
	})
	return out, err
}

func (e *Engine) doOpen(ctx context.Context, owner string, p OpenParams) (*models.Position, error) {
	if err := utils.ValidateOwner(owner); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if !p.CollateralAmount.IsPositive() {
		return nil, fmt.Errorf("%w: залог должен быть положительным", ErrInvalidAmount)
	}
	if p.MinBorrowAmount.IsNegative() || p.StopLossPrice.IsNegative() {
		return nil, fmt.Errorf("%w: отрицательный параметр", ErrInvalidAmount)
	}

	collCfg, ok := e.registry.CollateralConfig(p.CollateralAsset)
	if !ok || !collCfg.Active {
		return nil, fmt.Errorf("%w: залог %s", ErrAssetNotSupported, p.CollateralAsset)
	}
	borrowCfg, ok := e.registry.BorrowAssetConfig(p.BorrowAsset)
	if !ok || !borrowCfg.Active {
		return nil, fmt.Errorf("%w: заём %s", ErrAssetNotSupported, p.BorrowAsset)
	}

	if err := utils.ValidateLeverageBps(p.TargetLeverageBps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if p.TargetLeverageBps > borrowCfg.MaxLeverageBps {
		return nil, fmt.Errorf("%w: %d > максимума %d для %s",
			ErrLeverageTooHigh, p.TargetLeverageBps, borrowCfg.MaxLeverageBps, p.BorrowAsset)
	}

	thresholdBps := p.RebalanceThresholdBps
	if thresholdBps == 0 {
		thresholdBps = e.cfg.DefaultRebalanceThresholdBps
	}
	if err := utils.ValidatePctBps(thresholdBps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	view := NewPriceView(e.prices)

	collateralValue, err := view.Value(ctx, p.CollateralAsset, p.CollateralAmount)
	if err != nil {
		return nil, err
	}

	// Займ на (плечо - 1) от стоимости залога; при 1x займа нет
	borrowTargetValue := utils.BpsOf(collateralValue, p.TargetLeverageBps-utils.BpsDenominator)

	if err := e.checkBorrowLimit(ctx, owner, borrowTargetValue, view); err != nil {
		return nil, err
	}

	borrowAmount := decimal.Zero
	if borrowTargetValue.IsPositive() {
		priceBorrow, err := view.Price(ctx, p.BorrowAsset)
		if err != nil {
			return nil, err
		}
		borrowAmount = borrowTargetValue.Div(priceBorrow)
		if borrowAmount.LessThan(p.MinBorrowAmount) {
			return nil, fmt.Errorf("%w: заём %s ниже минимума %s",
				ErrSlippageExceeded, borrowAmount, p.MinBorrowAmount)
		}
	}

	// Внешние шаги: внесение залога, заём, своп, довнесение.
	// Каждый сбой компенсирует уже выполненные шаги.
	if err := e.pool.Supply(ctx, p.CollateralAsset, p.CollateralAmount); err != nil {
		return nil, fmt.Errorf("внесение залога: %w", err)
	}

	swapped := decimal.Zero
	if borrowAmount.IsPositive() {
		if err := e.pool.Borrow(ctx, p.BorrowAsset, borrowAmount); err != nil {
			e.compensate(ctx, "open", owner,
				func(ctx context.Context) error {
					return e.pool.Withdraw(ctx, p.CollateralAsset, p.CollateralAmount)
				})
			return nil, fmt.Errorf("заём: %w", err)
		}

		// Цена залога уже в кэше снимка, второе чтение совпадает с первым
		priceColl, err := view.Price(ctx, p.CollateralAsset)
		if err != nil {
			return nil, err
		}
		minOut := utils.BpsOf(utils.AmountFor(borrowTargetValue, priceColl),
			utils.BpsDenominator-e.cfg.MaxSlippageBps)

		swapped, err = e.exchange.SwapExactInput(ctx, p.BorrowAsset, p.CollateralAsset, borrowAmount, minOut)
		if err != nil {
			e.compensate(ctx, "open", owner,
				func(ctx context.Context) error {
					_, rerr := e.pool.Repay(ctx, p.BorrowAsset, borrowAmount)
					return rerr
				},
				func(ctx context.Context) error {
					return e.pool.Withdraw(ctx, p.CollateralAsset, p.CollateralAmount)
				})
			return nil, fmt.Errorf("своп займа: %w", err)
		}

		if err := e.pool.Supply(ctx, p.CollateralAsset, swapped); err != nil {
			e.compensate(ctx, "open", owner,
				func(ctx context.Context) error {
					out, serr := e.exchange.SwapExactInput(ctx, p.CollateralAsset, p.BorrowAsset, swapped, decimal.Zero)
					if serr != nil {
						return serr
					}
					_, rerr := e.pool.Repay(ctx, p.BorrowAsset, out)
					return rerr
				},
				func(ctx context.Context) error {
					return e.pool.Withdraw(ctx, p.CollateralAsset, p.CollateralAmount)
				})
			return nil, fmt.Errorf("довнесение залога: %w", err)
		}
	}

	pos := e.ledger.Create(&models.Position{
		Owner:                 owner,
		CollateralAsset:       p.CollateralAsset,
		BorrowAsset:           p.BorrowAsset,
		CollateralAmount:      p.CollateralAmount.Add(swapped),
		BorrowAmount:          borrowAmount,
		TargetLeverageBps:     p.TargetLeverageBps,
		RebalanceThresholdBps: thresholdBps,
		StopLossPrice:         p.StopLossPrice,
		Status:                models.StatusActive,
	})

	e.persist(ctx, pos)
	e.emit(ctx, &models.Event{
		Type:       models.EventTypeOpen,
		Severity:   models.SeverityInfo,
		Owner:      owner,
		PositionID: &pos.ID,
		Message:    fmt.Sprintf("позиция открыта: %s под %s, плечо %d bps", pos.CollateralAsset, pos.BorrowAsset, pos.TargetLeverageBps),
		Meta: map[string]interface{}{
			"collateral_amount": pos.CollateralAmount.String(),
			"borrow_amount":     pos.BorrowAmount.String(),
		},
	})

	return pos, nil
}

// checkBorrowLimit проверяет лимит суммарного долга владельца
func (e *Engine) checkBorrowLimit(ctx context.Context, owner string, addedDebtValue decimal.Decimal, view *PriceView) error {
	limit, ok := e.registry.UserBorrowLimit(owner)
	if !ok {
		return nil
	}

	existing := decimal.Zero
	for _, pos := range e.ledger.ActiveByOwner(owner) {
		debtValue, err := view.Value(ctx, pos.BorrowAsset, pos.BorrowAmount)
		if err != nil {
			return err
		}
		existing = existing.Add(debtValue)
	}

	if existing.Add(addedDebtValue).GreaterThan(limit) {
		return fmt.Errorf("%w: долг %s + %s превышает лимит %s",
			ErrExceedsBorrowLimit, existing, addedDebtValue, limit)
	}
	return nil
}

// ClosePosition закрывает позицию владельца: продаёт часть залога для
// полного погашения долга и возвращает остаток залога владельцу.
// minCollateralOut - нижняя граница возвращаемого залога.
func (e *Engine) ClosePosition(ctx context.Context, owner string, id int64, minCollateralOut decimal.Decimal) (*CloseResult, error) {
	var out *CloseResult
	err := e.submit(ctx, "close", func(ctx context.Context) error {
		res, err := e.doClose(ctx, owner, id, minCollateralOut, models.StatusClosed)
		out = res
		return err
	})
	return out, err
}

// doClose выполняет последовательность погашения и вывода.
// finalStatus различает закрытие владельцем и срабатывание stop-loss.
func (e *Engine) doClose(ctx context.Context, owner string, id int64, minCollateralOut decimal.Decimal, finalStatus string) (*CloseResult, error) {
	pos, ok := e.ledger.Get(owner, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", ErrPositionNotFound, owner, id)
	}
	if !pos.IsActive() {
		return nil, fmt.Errorf("%w: %s/%d", ErrPositionNotActive, owner, id)
	}

	view := NewPriceView(e.prices)

	collateralToSell := decimal.Zero
	refund := decimal.Zero
	debt := pos.BorrowAmount

	if debt.IsPositive() {
		debtValue, err := view.Value(ctx, pos.BorrowAsset, debt)
		if err != nil {
			return nil, err
		}
		priceColl, err := view.Price(ctx, pos.CollateralAsset)
		if err != nil {
			return nil, err
		}

		// Продаём с запасом на проскальзывание, чтобы выручки хватило
		// на полное погашение
		collateralToSell = utils.BpsOf(utils.AmountFor(debtValue, priceColl),
			utils.BpsDenominator+e.cfg.MaxSlippageBps)
		collateralToSell = utils.MinDecimal(collateralToSell, pos.CollateralAmount)
	}

	remaining := pos.CollateralAmount.Sub(collateralToSell)
	if remaining.LessThan(minCollateralOut) {
		return nil, fmt.Errorf("%w: возврат залога %s ниже минимума %s",
			ErrSlippageExceeded, remaining, minCollateralOut)
	}

	if debt.IsPositive() {
		if err := e.pool.Withdraw(ctx, pos.CollateralAsset, collateralToSell); err != nil {
			return nil, fmt.Errorf("вывод залога на продажу: %w", err)
		}

		// Минимальный выход равен долгу: либо гасим целиком, либо откат
		out, err := e.exchange.SwapExactInput(ctx, pos.CollateralAsset, pos.BorrowAsset, collateralToSell, debt)
		if err != nil {
			e.compensate(ctx, "close", owner,
				func(ctx context.Context) error {
					return e.pool.Supply(ctx, pos.CollateralAsset, collateralToSell)
				})
			return nil, fmt.Errorf("продажа залога: %w", err)
		}

		repaid, err := e.pool.Repay(ctx, pos.BorrowAsset, debt)
		if err != nil {
			e.compensate(ctx, "close", owner,
				func(ctx context.Context) error {
					back, serr := e.exchange.SwapExactInput(ctx, pos.BorrowAsset, pos.CollateralAsset, out, decimal.Zero)
					if serr != nil {
						return serr
					}
					return e.pool.Supply(ctx, pos.CollateralAsset, back)
				})
			return nil, fmt.Errorf("погашение долга: %w", err)
		}
		refund = out.Sub(repaid)
	}

	if remaining.IsPositive() {
		if err := e.pool.Withdraw(ctx, pos.CollateralAsset, remaining); err != nil {
			e.compensate(ctx, "close", owner,
				func(ctx context.Context) error {
					return e.pool.Borrow(ctx, pos.BorrowAsset, debt)
				},
				func(ctx context.Context) error {
					back, serr := e.exchange.SwapExactInput(ctx, pos.BorrowAsset, pos.CollateralAsset, debt, decimal.Zero)
					if serr != nil {
						return serr
					}
					return e.pool.Supply(ctx, pos.CollateralAsset, back)
				})
			return nil, fmt.Errorf("вывод остатка залога: %w", err)
		}
	}

	now := nowPtr()
	pos.Status = finalStatus
	pos.ClosedAt = now
	pos.CollateralAmount = decimal.Zero
	pos.BorrowAmount = decimal.Zero
	if err := e.ledger.Update(pos); err != nil {
		return nil, err
	}

	eventType := models.EventTypeClose
	if finalStatus == models.StatusStopped {
		eventType = models.EventTypeStopLoss
		StopLossTotal.Inc()
	}

	e.persist(ctx, pos)
	e.emit(ctx, &models.Event{
		Type:       eventType,
		Severity:   models.SeverityInfo,
		Owner:      owner,
		PositionID: &pos.ID,
		Message:    fmt.Sprintf("позиция закрыта, возвращено %s %s", remaining, pos.CollateralAsset),
		Meta: map[string]interface{}{
			"collateral_returned": remaining.String(),
			"borrow_refund":       refund.String(),
		},
	})

	return &CloseResult{CollateralReturned: remaining, BorrowRefund: refund}, nil
}

// AdjustPosition меняет целевое плечо активной позиции и сводит
// фактическое плечо к новому целевому.
func (e *Engine) AdjustPosition(ctx context.Context, owner string, id int64, newTargetBps int) (*models.Position, error) {
	var out *models.Position
	err := e.submit(ctx, "adjust", func(ctx context.Context) error {
		pos, err := e.doAdjust(ctx, owner, id, newTargetBps)
		out = pos
		return err
	})
	return out, err
}

func (e *Engine) doAdjust(ctx context.Context, owner string, id int64, newTargetBps int) (*models.Position, error) {
	pos, ok := e.ledger.Get(owner, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", ErrPositionNotFound, owner, id)
	}
	if !pos.IsActive() {
		return nil, fmt.Errorf("%w: %s/%d", ErrPositionNotActive, owner, id)
	}

	borrowCfg, ok := e.registry.BorrowAssetConfig(pos.BorrowAsset)
	if !ok || !borrowCfg.Active {
		return nil, fmt.Errorf("%w: заём %s", ErrAssetNotSupported, pos.BorrowAsset)
	}
	if err := utils.ValidateLeverageBps(newTargetBps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if newTargetBps > borrowCfg.MaxLeverageBps {
		return nil, fmt.Errorf("%w: %d > максимума %d для %s",
			ErrLeverageTooHigh, newTargetBps, borrowCfg.MaxLeverageBps, pos.BorrowAsset)
	}

	oldTarget := pos.TargetLeverageBps
	pos.TargetLeverageBps = newTargetBps

	view := NewPriceView(e.prices)
	oldLeverage, newLeverage, err := e.convergeToTarget(ctx, pos, view)
	if err != nil {
		return nil, err
	}

	if err := e.ledger.Update(pos); err != nil {
		return nil, err
	}

	e.persist(ctx, pos)
	e.emit(ctx, &models.Event{
		Type:       models.EventTypeAdjust,
		Severity:   models.SeverityInfo,
		Owner:      owner,
		PositionID: &pos.ID,
		Message:    fmt.Sprintf("целевое плечо изменено %d -> %d bps", oldTarget, newTargetBps),
		Meta: map[string]interface{}{
			"old_target_bps":   oldTarget,
			"new_target_bps":   newTargetBps,
			"old_leverage_bps": oldLeverage,
			"new_leverage_bps": newLeverage,
		},
	})

	return pos, nil
}

// SetStopLoss устанавливает или снимает (price = 0) stop-loss владельца
func (e *Engine) SetStopLoss(ctx context.Context, owner string, id int64, price decimal.Decimal) error {
	return e.submit(ctx, "set_stop_loss", func(ctx context.Context) error {
		if price.IsNegative() {
			return fmt.Errorf("%w: отрицательная цена stop-loss", ErrInvalidAmount)
		}

		pos, ok := e.ledger.Get(owner, id)
		if !ok {
			return fmt.Errorf("%w: %s/%d", ErrPositionNotFound, owner, id)
		}
		if !pos.IsActive() {
			return fmt.Errorf("%w: %s/%d", ErrPositionNotActive, owner, id)
		}

		pos.StopLossPrice = price
		if err := e.ledger.Update(pos); err != nil {
			return err
		}
		e.persist(ctx, pos)

		e.logger.Info("stop-loss обновлён",
			zap.String("owner", owner),
			zap.Int64("position_id", id),
			zap.String("price", price.String()))
		return nil
	})
}

// SetRebalanceThreshold меняет порог ребалансировки позиции
func (e *Engine) SetRebalanceThreshold(ctx context.Context, owner string, id int64, thresholdBps int) error {
	return e.submit(ctx, "set_rebalance_threshold", func(ctx context.Context) error {
		if err := utils.ValidatePctBps(thresholdBps); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}

		pos, ok := e.ledger.Get(owner, id)
		if !ok {
			return fmt.Errorf("%w: %s/%d", ErrPositionNotFound, owner, id)
		}
		if !pos.IsActive() {
			return fmt.Errorf("%w: %s/%d", ErrPositionNotActive, owner, id)
		}

		pos.RebalanceThresholdBps = thresholdBps
		if err := e.ledger.Update(pos); err != nil {
			return err
		}
		e.persist(ctx, pos)
		return nil
	})
}

// AddCollateral довносит залог в активную позицию. Долг не меняется,
// плечо и health factor улучшаются.
func (e *Engine) AddCollateral(ctx context.Context, owner string, id int64, amount decimal.Decimal) (*models.Position, error) {
	var out *models.Position
	err := e.submit(ctx, "add_collateral", func(ctx context.Context) error {
		pos, err := e.doAddCollateral(ctx, owner, id, amount)
		out = pos
		return err
	})
	return out, err
}

func (e *Engine) doAddCollateral(ctx context.Context, owner string, id int64, amount decimal.Decimal) (*models.Position, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: довнесение должно быть положительным", ErrInvalidAmount)
	}

	pos, ok := e.ledger.Get(owner, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", ErrPositionNotFound, owner, id)
	}
	if !pos.IsActive() {
		return nil, fmt.Errorf("%w: %s/%d", ErrPositionNotActive, owner, id)
	}

	if err := e.pool.Supply(ctx, pos.CollateralAsset, amount); err != nil {
		return nil, err
	}

	pos.CollateralAmount = pos.CollateralAmount.Add(amount)
	if err := e.ledger.Update(pos); err != nil {
		e.compensate(ctx, "add_collateral", owner, func(ctx context.Context) error {
			return e.pool.Withdraw(ctx, pos.CollateralAsset, amount)
		})
		return nil, err
	}

	e.persist(ctx, pos)
	e.emit(ctx, &models.Event{
		Type:       models.EventTypeAdjust,
		Severity:   models.SeverityInfo,
		Owner:      owner,
		PositionID: &pos.ID,
		Message:    fmt.Sprintf("довнесено %s %s залога", amount, pos.CollateralAsset),
		Meta: map[string]interface{}{
			"collateral_added": amount.String(),
			"collateral_total": pos.CollateralAmount.String(),
		},
	})

	return pos, nil
}

// WithdrawCollateral выводит свободный залог из активной позиции.
// Вывод отклоняется, если после него health factor опустится ниже единицы.
func (e *Engine) WithdrawCollateral(ctx context.Context, owner string, id int64, amount decimal.Decimal) (*models.Position, error) {
	var out *models.Position
	err := e.submit(ctx, "withdraw_collateral", func(ctx context.Context) error {
		pos, err := e.doWithdrawCollateral(ctx, owner, id, amount)
		out = pos
		return err
	})
	return out, err
}

func (e *Engine) doWithdrawCollateral(ctx context.Context, owner string, id int64, amount decimal.Decimal) (*models.Position, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: вывод должен быть положительным", ErrInvalidAmount)
	}

	pos, ok := e.ledger.Get(owner, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", ErrPositionNotFound, owner, id)
	}
	if !pos.IsActive() {
		return nil, fmt.Errorf("%w: %s/%d", ErrPositionNotActive, owner, id)
	}
	if amount.GreaterThan(pos.CollateralAmount) {
		return nil, fmt.Errorf("%w: вывод %s больше залога %s", ErrInvalidAmount, amount, pos.CollateralAmount)
	}

	// Проверка по состоянию после вывода, до движения средств
	trial := *pos
	trial.CollateralAmount = pos.CollateralAmount.Sub(amount)
	view := NewPriceView(e.prices)
	hf, err := e.calc.HealthFactor(ctx, &trial, view)
	if err != nil {
		return nil, err
	}
	if hf.LessThan(one) {
		return nil, fmt.Errorf("%w: health factor после вывода %s", ErrWithdrawUnsafe, hf)
	}

	if err := e.pool.Withdraw(ctx, pos.CollateralAsset, amount); err != nil {
		return nil, err
	}

	pos.CollateralAmount = pos.CollateralAmount.Sub(amount)
	if err := e.ledger.Update(pos); err != nil {
		e.compensate(ctx, "withdraw_collateral", owner, func(ctx context.Context) error {
			return e.pool.Supply(ctx, pos.CollateralAsset, amount)
		})
		return nil, err
	}

	e.persist(ctx, pos)
	e.emit(ctx, &models.Event{
		Type:       models.EventTypeAdjust,
		Severity:   models.SeverityInfo,
		Owner:      owner,
		PositionID: &pos.ID,
		Message:    fmt.Sprintf("выведено %s %s залога", amount, pos.CollateralAsset),
		Meta: map[string]interface{}{
			"collateral_withdrawn": amount.String(),
			"collateral_total":     pos.CollateralAmount.String(),
		},
	})

	return pos, nil
}

// compensate откатывает уже выполненные внешние шаги сорвавшейся операции.
// Сбой самой компенсации фиксируется как событие ERROR, не теряется.
func (e *Engine) compensate(ctx context.Context, op, owner string, steps ...func(context.Context) error) {
	for i, step := range steps {
		if err := step(ctx); err != nil {
			e.logger.Error("ошибка компенсации",
				zap.String("op", op),
				zap.String("owner", owner),
				zap.Int("step", i),
				zap.Error(err))
			e.emit(ctx, &models.Event{
				Type:     models.EventTypeError,
				Severity: models.SeverityError,
				Owner:    owner,
				Message:  fmt.Sprintf("компенсация операции %s не выполнена: %v", op, err),
			})
		}
	}
}
