package utils

import (
	"testing"

	"github.com/shopspring/decimal"
)

// ============================================================
// Тесты bps математики
// ============================================================

func TestBpsOf(t *testing.T) {
	tests := []struct {
		name  string
		value string
		bps   int
		want  string
	}{
		{"50 percent", "2000", 5000, "1000"},
		{"100 percent", "123.45", 10000, "123.45"},
		{"105 percent (liquidation bonus)", "100", 10500, "105"},
		{"zero bps", "2000", 0, "0"},
		{"1x minus one (leverage premium)", "2000", 10000, "2000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value := decimal.RequireFromString(tt.value)
			want := decimal.RequireFromString(tt.want)

			got := BpsOf(value, tt.bps)
			if !got.Equal(want) {
				t.Errorf("BpsOf(%s, %d) = %s, want %s", tt.value, tt.bps, got, tt.want)
			}
		})
	}
}

func TestRatioBps(t *testing.T) {
	tests := []struct {
		name string
		num  string
		den  string
		want int
	}{
		{"2x", "4000", "2000", 20000},
		{"1x", "2000", "2000", 10000},
		{"below 1x", "1000", "2000", 5000},
		{"rounding", "1", "3", 3333},
		{"zero denominator", "100", "0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			num := decimal.RequireFromString(tt.num)
			den := decimal.RequireFromString(tt.den)

			if got := RatioBps(num, den); got != tt.want {
				t.Errorf("RatioBps(%s, %s) = %d, want %d", tt.num, tt.den, got, tt.want)
			}
		})
	}
}

func TestAbsDiffBps(t *testing.T) {
	if got := AbsDiffBps(20300, 20000); got != 300 {
		t.Errorf("AbsDiffBps(20300, 20000) = %d, want 300", got)
	}
	if got := AbsDiffBps(19700, 20000); got != 300 {
		t.Errorf("AbsDiffBps(19700, 20000) = %d, want 300", got)
	}
	if got := AbsDiffBps(20000, 20000); got != 0 {
		t.Errorf("AbsDiffBps(20000, 20000) = %d, want 0", got)
	}
}

// ============================================================
// Тесты переводов количество <-> стоимость
// ============================================================

func TestValueOfAmountFor(t *testing.T) {
	price := decimal.RequireFromString("2000")
	amount := decimal.RequireFromString("1.5")

	value := ValueOf(amount, price)
	if !value.Equal(decimal.RequireFromString("3000")) {
		t.Errorf("ValueOf = %s, want 3000", value)
	}

	back := AmountFor(value, price)
	if !back.Equal(amount) {
		t.Errorf("AmountFor = %s, want %s", back, amount)
	}

	// Деление на нулевую цену не допускается - возвращается ноль
	if !AmountFor(value, decimal.Zero).IsZero() {
		t.Error("AmountFor with zero price should return zero")
	}
}

func TestMinDecimal(t *testing.T) {
	a := decimal.RequireFromString("1.5")
	b := decimal.RequireFromString("2")

	if !MinDecimal(a, b).Equal(a) {
		t.Error("MinDecimal(1.5, 2) should be 1.5")
	}
	if !MinDecimal(b, a).Equal(a) {
		t.Error("MinDecimal(2, 1.5) should be 1.5")
	}
	if !MinDecimal(a, a).Equal(a) {
		t.Error("MinDecimal(a, a) should be a")
	}
}
