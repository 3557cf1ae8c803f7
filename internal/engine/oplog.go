package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// operation - единица журнала операций
type operation struct {
	name string
	ctx  context.Context
	run  func(ctx context.Context) error
	done chan error
}

// submit ставит операцию в журнал и ждёт её результата.
// Журнал обрабатывается строго по одной операции, порядок поступления
// и есть порядок исполнения.
func (e *Engine) submit(ctx context.Context, name string, run func(ctx context.Context) error) error {
	op := &operation{
		name: name,
		ctx:  ctx,
		run:  run,
		done: make(chan error, 1),
	}

	select {
	case e.ops <- op:
	case <-e.shutdown:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	OpQueueDepth.Set(float64(len(e.ops)))

	select {
	case err := <-op.done:
		return err
	case <-e.shutdown:
		return ErrEngineStopped
	}
}

// drain обрабатывает журнал операций до остановки ядра
func (e *Engine) drain() {
	defer e.wg.Done()

	for {
		select {
		case <-e.shutdown:
			// Отклоняем всё, что осталось в очереди
			for {
				select {
				case op := <-e.ops:
					op.done <- ErrEngineStopped
				default:
					return
				}
			}
		case op := <-e.ops:
			e.execute(op)
		}
	}
}

// execute выполняет одну операцию и публикует метрики
func (e *Engine) execute(op *operation) {
	OpQueueDepth.Set(float64(len(e.ops)))

	start := time.Now()
	err := op.run(op.ctx)
	elapsed := time.Since(start)

	OperationDuration.WithLabelValues(op.name).Observe(float64(elapsed.Microseconds()) / 1000.0)
	OperationsTotal.WithLabelValues(op.name, resultLabel(err)).Inc()

	if err != nil {
		e.logger.Debug("операция отклонена",
			zap.String("op", op.name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	}

	op.done <- err
}

// resultLabel классифицирует результат операции для метрик
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPositionNotActive),
		errors.Is(err, ErrPositionHealthy),
		errors.Is(err, ErrRebalanceNotNeeded),
		errors.Is(err, ErrStopLossNotTriggered):
		return "stale"
	default:
		return "error"
	}
}
