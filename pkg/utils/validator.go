package utils

import (
	"errors"
	"regexp"
)

// validator.go - валидация входных данных
//
// Назначение:
// Проверка корректности параметров, приходящих из API и конфигурации,
// до того как они попадут в реестр рисков или движок позиций.
//
// Функции:
// - ValidateAssetSymbol: формат символа актива (WETH, USDC)
// - ValidateOwner: формат идентификатора аккаунта
// - ValidatePctBps: bps-значение с семантикой "доля от единицы" (0..10000)
// - ValidateLeverageBps: bps-значение плеча (>= 10000)

// Ошибки валидации
var (
	ErrInvalidAssetSymbol = errors.New("invalid asset symbol format")
	ErrInvalidOwner       = errors.New("invalid owner account format")
	ErrBpsOutOfRange      = errors.New("bps value out of range 0..10000")
	ErrLeverageBelowOne   = errors.New("leverage must be at least 10000 bps (1x)")
)

// MaxLeverageBpsBound - верхняя техническая граница плеча (100x),
// защита от опечаток в конфигурации
const MaxLeverageBpsBound = 1000000

var (
	assetSymbolRe = regexp.MustCompile(`^[A-Z0-9]{2,12}$`)
	ownerRe       = regexp.MustCompile(`^[a-zA-Z0-9_.:-]{1,64}$`)
)

// ValidateAssetSymbol проверяет формат символа актива.
// Допустимы 2-12 символов A-Z, 0-9 (WETH, USDC, DAI, WBTC).
func ValidateAssetSymbol(symbol string) error {
	if !assetSymbolRe.MatchString(symbol) {
		return ErrInvalidAssetSymbol
	}
	return nil
}

// ValidateOwner проверяет формат идентификатора аккаунта владельца
func ValidateOwner(owner string) error {
	if !ownerRe.MatchString(owner) {
		return ErrInvalidOwner
	}
	return nil
}

// ValidatePctBps проверяет bps-значение с семантикой "процент от единицы":
// LTV, порог ликвидации, close factor. Допустимый диапазон 0..10000.
func ValidatePctBps(bps int) error {
	if bps < 0 || bps > BpsDenominator {
		return ErrBpsOutOfRange
	}
	return nil
}

// ValidateLeverageBps проверяет bps-значение плеча.
// Плечо ниже 1x (10000) для этого движка не имеет смысла.
func ValidateLeverageBps(bps int) error {
	if bps < BpsDenominator {
		return ErrLeverageBelowOne
	}
	if bps > MaxLeverageBpsBound {
		return ErrBpsOutOfRange
	}
	return nil
}
