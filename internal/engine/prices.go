package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"leverage/internal/market"
)

// PriceView - снимок цен в рамках одной операции. Первое чтение актива
// кэшируется, повторные чтения возвращают то же значение: два чтения
// одного актива внутри атомарной операции не могут расходиться.
type PriceView struct {
	source market.PriceSource
	cache  map[string]decimal.Decimal
}

// NewPriceView создаёт снимок поверх источника цен
func NewPriceView(source market.PriceSource) *PriceView {
	return &PriceView{
		source: source,
		cache:  make(map[string]decimal.Decimal),
	}
}

// Price возвращает цену актива, кэшируя первое чтение
func (v *PriceView) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if p, ok := v.cache[symbol]; ok {
		return p, nil
	}
	p, err := v.source.GetPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	v.cache[symbol] = p
	return p, nil
}

// Value возвращает стоимость amount единиц актива в расчётной валюте
func (v *PriceView) Value(ctx context.Context, symbol string, amount decimal.Decimal) (decimal.Decimal, error) {
	p, err := v.Price(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(p), nil
}
