package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"leverage/internal/market"
	"leverage/internal/models"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()

	r := NewRegistry()
	if err := r.SetCollateralConfig(validCollateral()); err != nil {
		t.Fatalf("конфигурация залога: %v", err)
	}
	if err := r.SetBorrowAssetConfig(models.BorrowAssetConfig{Symbol: "USDC", MaxLeverageBps: 30000, Active: true}); err != nil {
		t.Fatalf("конфигурация займа: %v", err)
	}
	return r
}

func viewAt(t *testing.T, collateralPrice string) *PriceView {
	t.Helper()

	prices, err := market.NewStaticPrices(map[string]string{"WETH": collateralPrice, "USDC": "1"})
	if err != nil {
		t.Fatalf("источник цен: %v", err)
	}
	return NewPriceView(prices)
}

func TestCalculator_HealthFactor(t *testing.T) {
	calc := NewCalculator(testRegistry(t))
	pos := newPosition("alice") // 2 WETH залога, 2000 USDC долга

	// HF = 2 * 2000 * 0.85 / 2000 = 1.7
	hf, err := calc.HealthFactor(context.Background(), pos, viewAt(t, "2000"))
	if err != nil {
		t.Fatalf("HealthFactor: %v", err)
	}
	if !hf.Equal(d("1.7")) {
		t.Errorf("health factor = %s, ожидалось 1.7", hf)
	}

	// HF = 2 * 800 * 0.85 / 2000 = 0.68, позиция небезопасна
	hf, err = calc.HealthFactor(context.Background(), pos, viewAt(t, "800"))
	if err != nil {
		t.Fatalf("HealthFactor: %v", err)
	}
	if !hf.Equal(d("0.68")) {
		t.Errorf("health factor = %s, ожидалось 0.68", hf)
	}
}

// Падение цены залога никогда не повышает health factor, рост не понижает
func TestCalculator_HealthMonotonicity(t *testing.T) {
	calc := NewCalculator(testRegistry(t))
	pos := newPosition("alice")

	prices := []string{"400", "800", "1200", "1600", "2000", "2400", "2800"}
	prev := decimal.Zero
	for _, p := range prices {
		hf, err := calc.HealthFactor(context.Background(), pos, viewAt(t, p))
		if err != nil {
			t.Fatalf("HealthFactor при цене %s: %v", p, err)
		}
		if hf.LessThan(prev) {
			t.Errorf("health factor убывает при росте цены: %s при %s после %s", hf, p, prev)
		}
		prev = hf
	}
}

func TestCalculator_InactiveSentinels(t *testing.T) {
	calc := NewCalculator(testRegistry(t))
	pos := newPosition("alice")
	pos.Status = models.StatusClosed

	ctx := context.Background()
	view := viewAt(t, "2000")

	hf, err := calc.HealthFactor(ctx, pos, view)
	if err != nil || !hf.Equal(MaxHealthFactor) {
		t.Errorf("HF закрытой позиции = %s, %v, ожидался сентинел", hf, err)
	}

	lev, err := calc.CurrentLeverageBps(ctx, pos, view)
	if err != nil || lev != 0 {
		t.Errorf("плечо закрытой позиции = %d, %v, ожидалось 0", lev, err)
	}

	needs, err := calc.NeedsRebalance(ctx, pos, 200, view)
	if err != nil || needs {
		t.Errorf("NeedsRebalance закрытой позиции = %v, %v, ожидалось false", needs, err)
	}
}

func TestCalculator_NoDebt(t *testing.T) {
	calc := NewCalculator(testRegistry(t))
	pos := newPosition("alice")
	pos.BorrowAmount = decimal.Zero

	hf, err := calc.HealthFactor(context.Background(), pos, viewAt(t, "2000"))
	if err != nil || !hf.Equal(MaxHealthFactor) {
		t.Errorf("HF без долга = %s, %v, ожидался сентинел", hf, err)
	}
}

func TestCalculator_CurrentLeverageBps(t *testing.T) {
	calc := NewCalculator(testRegistry(t))
	pos := newPosition("alice")

	// Экспозиция 4000, equity 2000 -> 2x
	lev, err := calc.CurrentLeverageBps(context.Background(), pos, viewAt(t, "2000"))
	if err != nil {
		t.Fatalf("CurrentLeverageBps: %v", err)
	}
	if lev != 20000 {
		t.Errorf("плечо = %d bps, ожидалось 20000", lev)
	}

	// Неположительный equity: долг 2000, залог 2*1000=2000
	lev, err = calc.CurrentLeverageBps(context.Background(), pos, viewAt(t, "1000"))
	if err != nil {
		t.Fatalf("CurrentLeverageBps: %v", err)
	}
	if lev != InfiniteLeverageBps {
		t.Errorf("плечо при нулевом equity = %d, ожидался сентинел", lev)
	}
}

func TestCalculator_NeedsRebalance(t *testing.T) {
	calc := NewCalculator(testRegistry(t))
	pos := newPosition("alice")

	// При 2000 плечо ровно 20000, дрейфа нет
	needs, err := calc.NeedsRebalance(context.Background(), pos, 200, viewAt(t, "2000"))
	if err != nil || needs {
		t.Errorf("NeedsRebalance без дрейфа = %v, %v", needs, err)
	}

	// При 1970 плечо ~20309, дрейф 309 > 200
	needs, err = calc.NeedsRebalance(context.Background(), pos, 200, viewAt(t, "1970"))
	if err != nil || !needs {
		t.Errorf("NeedsRebalance с дрейфом = %v, %v, ожидалось true", needs, err)
	}
}

// Два чтения одного актива внутри снимка совпадают, даже если источник
// поменял цену между ними
func TestPriceView_Pinning(t *testing.T) {
	prices, _ := market.NewStaticPrices(map[string]string{"WETH": "2000"})
	view := NewPriceView(prices)

	first, err := view.Price(context.Background(), "WETH")
	if err != nil {
		t.Fatalf("первое чтение: %v", err)
	}

	prices.Set("WETH", d("1500"))

	second, err := view.Price(context.Background(), "WETH")
	if err != nil {
		t.Fatalf("второе чтение: %v", err)
	}
	if !second.Equal(first) {
		t.Errorf("цены внутри снимка разошлись: %s и %s", first, second)
	}
}
