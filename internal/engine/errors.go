package engine

import (
	"errors"

	"leverage/internal/market"
)

// Ошибки конфигурации: вызывающий должен исправить вход, не транзиентны
var (
	ErrAssetNotSupported = errors.New("asset not supported")
	ErrInvalidConfig     = errors.New("invalid config")
)

// Ошибки риск-лимитов: отклоняются при открытии
var (
	ErrLeverageTooHigh    = errors.New("leverage too high")
	ErrExceedsBorrowLimit = errors.New("exceeds borrow limit")
)

// Рыночные ошибки: транзиентны, вызывающий может повторить с другими параметрами
var ErrSlippageExceeded = market.ErrSlippageExceeded

// Ошибки состояния: предусловие операции больше не выполняется.
// Боты должны пересканировать и выбросить устаревшего кандидата.
var (
	ErrPositionNotFound     = errors.New("position not found")
	ErrPositionNotActive    = errors.New("position not active")
	ErrPositionHealthy      = errors.New("position healthy")
	ErrRebalanceNotNeeded   = errors.New("rebalance not needed")
	ErrStopLossNotTriggered = errors.New("stop loss not triggered")
)

// Ошибки параметров операций
var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrEngineStopped = errors.New("engine stopped")
)

// ErrWithdrawUnsafe - вывод залога опустил бы health factor ниже единицы
var ErrWithdrawUnsafe = errors.New("withdraw would make position unsafe")
