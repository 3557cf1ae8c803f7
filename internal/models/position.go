package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position представляет плечевую позицию владельца
type Position struct {
	ID                    int64           `json:"id" db:"id"` // монотонный внутри владельца
	Owner                 string          `json:"owner" db:"owner"`
	CollateralAsset       string          `json:"collateral_asset" db:"collateral_asset"`       // WETH
	BorrowAsset           string          `json:"borrow_asset" db:"borrow_asset"`               // USDC
	CollateralAmount      decimal.Decimal `json:"collateral_amount" db:"collateral_amount"`     // в единицах залога
	BorrowAmount          decimal.Decimal `json:"borrow_amount" db:"borrow_amount"`             // долг в единицах займа
	TargetLeverageBps     int             `json:"target_leverage_bps" db:"target_leverage_bps"` // 20000 = 2x
	RebalanceThresholdBps int             `json:"rebalance_threshold_bps" db:"rebalance_threshold_bps"`
	StopLossPrice         decimal.Decimal `json:"stop_loss_price" db:"stop_loss_price"` // цена залога; 0 = отключён
	Status                string          `json:"status" db:"status"`
	OpenedAt              time.Time       `json:"opened_at" db:"opened_at"`
	ClosedAt              *time.Time      `json:"closed_at,omitempty" db:"closed_at"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at" db:"updated_at"`
}

// Статусы позиции
const (
	StatusActive     = "active"     // позиция открыта
	StatusClosed     = "closed"     // закрыта владельцем
	StatusLiquidated = "liquidated" // принудительно ликвидирована
	StatusStopped    = "stopped"    // закрыта по stop-loss
)

// IsActive возвращает true если позиция открыта
func (p *Position) IsActive() bool {
	return p.Status == StatusActive
}

// HasStopLoss возвращает true если на позиции установлен stop-loss
func (p *Position) HasStopLoss() bool {
	return p.StopLossPrice.IsPositive()
}

// HealthSnapshot представляет расчётное состояние позиции по текущим ценам
type HealthSnapshot struct {
	PositionID         int64           `json:"position_id"`
	Owner              string          `json:"owner"`
	HealthFactor       decimal.Decimal `json:"health_factor"`
	CurrentLeverageBps int             `json:"current_leverage_bps"`
	CollateralValue    decimal.Decimal `json:"collateral_value"`
	DebtValue          decimal.Decimal `json:"debt_value"`
	Equity             decimal.Decimal `json:"equity"`
	Timestamp          time.Time       `json:"timestamp"`
}
