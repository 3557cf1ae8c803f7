package utils

import (
	"github.com/shopspring/decimal"
)

// math.go - математические утилиты для расчётов в базисных пунктах
//
// Назначение:
// Вспомогательные функции для денежной математики движка позиций.
// Все функции являются чистыми (pure functions) без побочных эффектов.
//
// Соглашение о единицах:
// - Суммы, цены и стоимости - decimal.Decimal (без float64 в денежных путях)
// - Доли и коэффициенты - базисные пункты (bps), int: 10000 = 100% = 1.00x
//
// Функции:
// - BpsOf: доля значения в bps
// - RatioBps: отношение двух значений в bps
// - AbsDiffBps: абсолютная разница двух величин в bps
// - ValueOf / AmountFor: переводы количество <-> стоимость по цене

// BpsDenominator - знаменатель базисных пунктов (10000 = 100%)
const BpsDenominator = 10000

var bpsDenomDec = decimal.NewFromInt(BpsDenominator)

// BpsOf возвращает долю value, заданную в базисных пунктах.
//
// Примеры:
//   - BpsOf(2000, 5000) = 1000  (50% от 2000)
//   - BpsOf(100, 10500) = 105   (105% от 100)
func BpsOf(value decimal.Decimal, bps int) decimal.Decimal {
	return value.Mul(decimal.NewFromInt(int64(bps))).Div(bpsDenomDec)
}

// RatioBps возвращает отношение num/den в базисных пунктах,
// округлённое до целого bps.
//
// Если den == 0, возвращает 0 (вызывающий обязан обработать этот случай
// до вызова; деление на ноль в денежной математике недопустимо).
//
// Примеры:
//   - RatioBps(4000, 2000) = 20000 (2.00x)
//   - RatioBps(1, 3)       = 3333
func RatioBps(num, den decimal.Decimal) int {
	if den.IsZero() {
		return 0
	}
	ratio := num.Mul(bpsDenomDec).Div(den)
	return int(ratio.Round(0).IntPart())
}

// AbsDiffBps возвращает |a - b| для двух величин в bps
func AbsDiffBps(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// ValueOf возвращает стоимость количества актива по цене за единицу
func ValueOf(amount, price decimal.Decimal) decimal.Decimal {
	return amount.Mul(price)
}

// AmountFor возвращает количество актива, соответствующее стоимости
// value по цене price за единицу.
//
// Если price == 0, возвращает 0.
func AmountFor(value, price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	return value.Div(price)
}

// MinDecimal возвращает меньшее из двух значений
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
