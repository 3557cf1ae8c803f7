package engine

import "leverage/internal/models"

// ValidTransitions определяет допустимые переходы между статусами позиции.
// Все конечные статусы терминальны: позиция деактивируется ровно один раз.
var ValidTransitions = map[string][]string{
	models.StatusActive: {models.StatusClosed, models.StatusLiquidated, models.StatusStopped},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true если из статуса нет переходов
func IsTerminal(s string) bool {
	return len(ValidTransitions[s]) == 0
}

// StateInfo возвращает описание статуса для UI
func StateInfo(s string) string {
	switch s {
	case models.StatusActive:
		return "Позиция открыта"
	case models.StatusClosed:
		return "Позиция закрыта владельцем"
	case models.StatusLiquidated:
		return "Позиция ликвидирована"
	case models.StatusStopped:
		return "Позиция закрыта по stop-loss"
	default:
		return "Неизвестный статус"
	}
}
