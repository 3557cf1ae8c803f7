package websocket

import (
	"time"

	"github.com/shopspring/decimal"

	"leverage/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypePositionUpdate - обновление состояния позиции
	// Отправляется после каждой зафиксированной мутации: открытие,
	// закрытие, ребалансировка, ликвидация, stop-loss
	MessageTypePositionUpdate MessageType = "positionUpdate"

	// MessageTypeEvent - новая запись журнала событий
	MessageTypeEvent MessageType = "event"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// PositionUpdateMessage - сообщение об обновлении позиции
//
// Содержит полное состояние позиции после мутации. Клиенту не нужно
// собирать состояние из дельт: каждое сообщение самодостаточно.
type PositionUpdateMessage struct {
	BaseMessage
	Owner      string              `json:"owner"`
	PositionID int64               `json:"position_id"`
	Data       *PositionUpdateData `json:"data"`
}

// PositionUpdateData - данные обновления позиции
type PositionUpdateData struct {
	// Статус позиции (active, closed, liquidated, stopped)
	Status string `json:"status"`

	// Залоговый и заёмный активы
	CollateralAsset string `json:"collateral_asset"`
	BorrowAsset     string `json:"borrow_asset"`

	// Текущие объёмы
	CollateralAmount decimal.Decimal `json:"collateral_amount"`
	BorrowAmount     decimal.Decimal `json:"borrow_amount"`

	// Целевое плечо и порог ребалансировки
	TargetLeverageBps     int `json:"target_leverage_bps"`
	RebalanceThresholdBps int `json:"rebalance_threshold_bps"`

	// Стоп-цена, ноль когда stop-loss не установлен
	StopLossPrice decimal.Decimal `json:"stop_loss_price"`

	// Время последнего обновления
	UpdatedAt time.Time `json:"updated_at"`
}

// EventMessage - сообщение о новой записи журнала событий
//
// Содержит информацию о событии:
// - Тип события (OPEN, CLOSE, LIQUIDATION, REBALANCE, STOP_LOSS, и т.д.)
// - Уровень важности (info, warn, error)
// - Текст сообщения
// - Дополнительные метаданные
type EventMessage struct {
	BaseMessage
	Data *EventData `json:"data"`
}

// EventData - данные события
type EventData struct {
	// ID события в БД
	ID int64 `json:"id"`

	// Тип события
	Type string `json:"type"`

	// Уровень важности (info, warn, error)
	Severity string `json:"severity"`

	// Владелец затронутой позиции
	Owner string `json:"owner"`

	// ID связанной позиции (если применимо)
	PositionID *int64 `json:"position_id,omitempty"`

	// Текст сообщения
	Message string `json:"message"`

	// Дополнительные метаданные (ликвидатор, объёмы, health factor и т.д.)
	Meta map[string]interface{} `json:"meta,omitempty"`

	// Время события
	Timestamp time.Time `json:"timestamp"`
}

// ============ Фабричные функции для создания сообщений ============

// NewPositionUpdateMessage создает сообщение обновления позиции
func NewPositionUpdateMessage(pos *models.Position) *PositionUpdateMessage {
	return &PositionUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypePositionUpdate,
			Timestamp: time.Now(),
		},
		Owner:      pos.Owner,
		PositionID: pos.ID,
		Data: &PositionUpdateData{
			Status:                pos.Status,
			CollateralAsset:       pos.CollateralAsset,
			BorrowAsset:           pos.BorrowAsset,
			CollateralAmount:      pos.CollateralAmount,
			BorrowAmount:          pos.BorrowAmount,
			TargetLeverageBps:     pos.TargetLeverageBps,
			RebalanceThresholdBps: pos.RebalanceThresholdBps,
			StopLossPrice:         pos.StopLossPrice,
			UpdatedAt:             pos.UpdatedAt,
		},
	}
}

// NewEventMessage создает сообщение о событии
func NewEventMessage(ev *models.Event) *EventMessage {
	return &EventMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeEvent,
			Timestamp: time.Now(),
		},
		Data: &EventData{
			ID:         int64(ev.ID),
			Type:       ev.Type,
			Severity:   ev.Severity,
			Owner:      ev.Owner,
			PositionID: ev.PositionID,
			Message:    ev.Message,
			Meta:       ev.Meta,
			Timestamp:  ev.Timestamp,
		},
	}
}
