package market

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"leverage/pkg/utils"
)

// ============ StaticPrices ============

// StaticPrices - источник цен в памяти.
// Используется в тестах и как запасной источник при недоступности фида.
type StaticPrices struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticPrices создаёт источник с начальными ценами (символ -> цена строкой)
func NewStaticPrices(initial map[string]string) (*StaticPrices, error) {
	s := &StaticPrices{prices: make(map[string]decimal.Decimal, len(initial))}
	for symbol, raw := range initial {
		p, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("некорректная цена %q для %s: %w", raw, symbol, err)
		}
		s.prices[symbol] = p
	}
	return s, nil
}

// Set устанавливает цену актива
func (s *StaticPrices) Set(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	s.prices[symbol] = price
	s.mu.Unlock()
}

// GetPrice возвращает текущую цену актива
func (s *StaticPrices) GetPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.RLock()
	p, ok := s.prices[symbol]
	s.mu.RUnlock()

	if !ok || !p.IsPositive() {
		return decimal.Zero, &MarketError{
			Venue:    "pricefeed",
			Op:       "price",
			Message:  "нет цены для " + symbol,
			Original: ErrPriceUnavailable,
		}
	}
	return p, nil
}

// ============ SimPool ============

// SimPool - кредитный пул в памяти. Ведёт залог, долг и свободную
// ликвидность по каждому активу.
type SimPool struct {
	mu        sync.Mutex
	liquidity map[string]decimal.Decimal // свободная ликвидность
	supplied  map[string]decimal.Decimal // внесённый залог
	borrowed  map[string]decimal.Decimal // выданный долг

	// Инъекция ошибок для тестов: операция -> ошибка
	failOn map[string]error
}

// NewSimPool создаёт пустой пул
func NewSimPool() *SimPool {
	return &SimPool{
		liquidity: make(map[string]decimal.Decimal),
		supplied:  make(map[string]decimal.Decimal),
		borrowed:  make(map[string]decimal.Decimal),
		failOn:    make(map[string]error),
	}
}

// SetLiquidity задаёт свободную ликвидность актива
func (p *SimPool) SetLiquidity(asset string, amount decimal.Decimal) {
	p.mu.Lock()
	p.liquidity[asset] = amount
	p.mu.Unlock()
}

// FailOn заставляет следующую операцию op вернуть err (nil снимает инъекцию)
func (p *SimPool) FailOn(op string, err error) {
	p.mu.Lock()
	if err == nil {
		delete(p.failOn, op)
	} else {
		p.failOn[op] = err
	}
	p.mu.Unlock()
}

// Supplied возвращает внесённый залог актива
func (p *SimPool) Supplied(asset string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.supplied[asset]
}

// Borrowed возвращает выданный долг актива
func (p *SimPool) Borrowed(asset string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.borrowed[asset]
}

// injected возвращает инъецированную ошибку операции, снимая её.
// ВАЖНО: вызывается под lock'ом.
func (p *SimPool) injected(op string) error {
	err, ok := p.failOn[op]
	if !ok {
		return nil
	}
	delete(p.failOn, op)
	return err
}

// Supply вносит залог в пул
func (p *SimPool) Supply(_ context.Context, asset string, amount decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.injected("supply"); err != nil {
		return err
	}

	p.supplied[asset] = p.supplied[asset].Add(amount)
	p.liquidity[asset] = p.liquidity[asset].Add(amount)
	return nil
}

// Withdraw забирает залог из пула
func (p *SimPool) Withdraw(_ context.Context, asset string, amount decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.injected("withdraw"); err != nil {
		return err
	}

	if p.supplied[asset].LessThan(amount) {
		return &MarketError{
			Venue:    "pool",
			Op:       "withdraw",
			Message:  "залог меньше запрошенного вывода " + asset,
			Original: ErrInsufficientLiquidity,
		}
	}
	p.supplied[asset] = p.supplied[asset].Sub(amount)
	p.liquidity[asset] = p.liquidity[asset].Sub(amount)
	return nil
}

// Borrow занимает актив из пула
func (p *SimPool) Borrow(_ context.Context, asset string, amount decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.injected("borrow"); err != nil {
		return err
	}

	if p.liquidity[asset].LessThan(amount) {
		return &MarketError{
			Venue:    "pool",
			Op:       "borrow",
			Message:  "недостаточно ликвидности " + asset,
			Original: ErrInsufficientLiquidity,
		}
	}
	p.borrowed[asset] = p.borrowed[asset].Add(amount)
	p.liquidity[asset] = p.liquidity[asset].Sub(amount)
	return nil
}

// Repay погашает долг, не больше фактического. Возвращает погашенную сумму.
func (p *SimPool) Repay(_ context.Context, asset string, amount decimal.Decimal) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.injected("repay"); err != nil {
		return decimal.Zero, err
	}

	repaid := utils.MinDecimal(amount, p.borrowed[asset])
	p.borrowed[asset] = p.borrowed[asset].Sub(repaid)
	p.liquidity[asset] = p.liquidity[asset].Add(repaid)
	return repaid, nil
}

// ============ SimExchange ============

// SimExchange - обмен активов по ценам источника с комиссией и
// настраиваемым проскальзыванием.
type SimExchange struct {
	prices PriceSource
	feeBps int

	mu          sync.Mutex
	slippageBps int
}

// NewSimExchange создаёт обмен с комиссией feeBps (30 = 0.3%)
func NewSimExchange(prices PriceSource, feeBps int) *SimExchange {
	return &SimExchange{prices: prices, feeBps: feeBps}
}

// SetSlippageBps задаёт дополнительное проскальзывание для следующих свопов
func (e *SimExchange) SetSlippageBps(bps int) {
	e.mu.Lock()
	e.slippageBps = bps
	e.mu.Unlock()
}

// SwapExactInput меняет amountIn актива from на актив to
func (e *SimExchange) SwapExactInput(ctx context.Context, from, to string, amountIn, minAmountOut decimal.Decimal) (decimal.Decimal, error) {
	priceFrom, err := e.prices.GetPrice(ctx, from)
	if err != nil {
		return decimal.Zero, err
	}
	priceTo, err := e.prices.GetPrice(ctx, to)
	if err != nil {
		return decimal.Zero, err
	}

	e.mu.Lock()
	haircutBps := e.feeBps + e.slippageBps
	e.mu.Unlock()

	gross := amountIn.Mul(priceFrom).Div(priceTo)
	out := utils.BpsOf(gross, utils.BpsDenominator-haircutBps)

	if out.LessThan(minAmountOut) {
		return decimal.Zero, &MarketError{
			Venue:    "exchange",
			Op:       "swap",
			Message:  fmt.Sprintf("выход %s меньше минимума %s", out, minAmountOut),
			Original: ErrSlippageExceeded,
		}
	}
	return out, nil
}
