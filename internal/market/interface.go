package market

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Ошибки внешних площадок
var (
	// ErrSlippageExceeded - фактический выход свопа ниже minAmountOut
	ErrSlippageExceeded = errors.New("slippage exceeded")
	// ErrInsufficientLiquidity - в пуле недостаточно ликвидности для займа или вывода
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	// ErrPriceUnavailable - цена актива неизвестна источнику
	ErrPriceUnavailable = errors.New("price unavailable")
)

// PriceSource предоставляет текущие цены активов в расчётной валюте
type PriceSource interface {
	// GetPrice возвращает текущую цену актива
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// LendingPool определяет интерфейс кредитного пула
type LendingPool interface {
	// Supply вносит залог в пул
	Supply(ctx context.Context, asset string, amount decimal.Decimal) error

	// Withdraw забирает залог из пула
	Withdraw(ctx context.Context, asset string, amount decimal.Decimal) error

	// Borrow занимает актив из пула
	Borrow(ctx context.Context, asset string, amount decimal.Decimal) error

	// Repay погашает долг, возвращает фактически погашенную сумму
	Repay(ctx context.Context, asset string, amount decimal.Decimal) (decimal.Decimal, error)
}

// Exchange определяет интерфейс обмена активов
type Exchange interface {
	// SwapExactInput меняет точное количество amountIn актива from на актив to.
	// Возвращает полученное количество. Если выход меньше minAmountOut,
	// обмен не выполняется и возвращается ErrSlippageExceeded.
	SwapExactInput(ctx context.Context, from, to string, amountIn, minAmountOut decimal.Decimal) (decimal.Decimal, error)
}

// Quote содержит цену актива с моментом наблюдения
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarketError представляет ошибку внешней площадки
type MarketError struct {
	Venue    string // pool, exchange, pricefeed
	Op       string // borrow, swap, price
	Message  string
	Original error
}

func (e *MarketError) Error() string {
	return e.Venue + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *MarketError) Unwrap() error {
	return e.Original
}
