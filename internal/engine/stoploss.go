package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"leverage/internal/models"
)

// TriggerStopLoss принудительно закрывает позицию по stop-loss.
// Вызывается любым кипером; срабатывает только если текущая цена залога
// опустилась до триггера или ниже. Stop-loss защищает от обесценивания
// залога, рост цены триггером не является.
func (e *Engine) TriggerStopLoss(ctx context.Context, caller, owner string, id int64) (*CloseResult, error) {
	var out *CloseResult
	err := e.submit(ctx, "stop_loss", func(ctx context.Context) error {
		res, err := e.doTriggerStopLoss(ctx, caller, owner, id)
		out = res
		return err
	})
	return out, err
}

func (e *Engine) doTriggerStopLoss(ctx context.Context, caller, owner string, id int64) (*CloseResult, error) {
	pos, ok := e.ledger.Get(owner, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", ErrPositionNotFound, owner, id)
	}
	if !pos.IsActive() {
		return nil, fmt.Errorf("%w: %s/%d", ErrPositionNotActive, owner, id)
	}
	if !pos.HasStopLoss() {
		return nil, fmt.Errorf("%w: stop-loss не установлен", ErrStopLossNotTriggered)
	}

	view := NewPriceView(e.prices)
	price, err := view.Price(ctx, pos.CollateralAsset)
	if err != nil {
		return nil, err
	}
	if price.GreaterThan(pos.StopLossPrice) {
		return nil, fmt.Errorf("%w: цена %s выше триггера %s",
			ErrStopLossNotTriggered, price, pos.StopLossPrice)
	}

	res, err := e.doClose(ctx, owner, id, decimal.Zero, models.StatusStopped)
	if err != nil {
		return nil, err
	}

	e.logger.Info("stop-loss исполнен",
		zap.String("caller", caller),
		zap.String("owner", owner),
		zap.Int64("position_id", id),
		zap.String("price", price.String()),
		zap.String("trigger", pos.StopLossPrice.String()))
	return res, nil
}
