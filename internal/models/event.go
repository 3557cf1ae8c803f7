package models

import "time"

// Event представляет запись журнала операций поверх позиций
type Event struct {
	ID         int                    `json:"id" db:"id"`
	Timestamp  time.Time              `json:"timestamp" db:"timestamp"`
	Type       string                 `json:"type" db:"type"`         // OPEN, CLOSE, ADJUST, LIQUIDATION, REBALANCE, STOP_LOSS, BAD_DEBT, ERROR
	Severity   string                 `json:"severity" db:"severity"` // info, warn, error
	Owner      string                 `json:"owner" db:"owner"`
	PositionID *int64                 `json:"position_id,omitempty" db:"position_id"`
	Message    string                 `json:"message" db:"message"`
	Meta       map[string]interface{} `json:"meta,omitempty" db:"meta"` // дополнительные данные (JSON в БД)
}

// Типы событий
const (
	EventTypeOpen        = "OPEN"        // открытие позиции
	EventTypeClose       = "CLOSE"       // закрытие позиции владельцем
	EventTypeAdjust      = "ADJUST"      // изменение плеча
	EventTypeLiquidation = "LIQUIDATION" // принудительная ликвидация
	EventTypeRebalance   = "REBALANCE"   // возврат к целевому плечу
	EventTypeStopLoss    = "STOP_LOSS"   // срабатывание stop-loss
	EventTypeBadDebt     = "BAD_DEBT"    // залога не хватило покрыть долг
	EventTypeError       = "ERROR"       // ошибка операции
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
