package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CollateralConfig представляет риск-параметры залогового актива
type CollateralConfig struct {
	ID              int       `json:"id" db:"id"`
	Symbol          string    `json:"symbol" db:"symbol"`                       // WETH, WBTC
	LTVBps          int       `json:"ltv_bps" db:"ltv_bps"`                     // максимальный loan-to-value, 8000 = 80%
	LiqThresholdBps int       `json:"liq_threshold_bps" db:"liq_threshold_bps"` // порог ликвидации, 8500 = 85%
	LiqBonusBps     int       `json:"liq_bonus_bps" db:"liq_bonus_bps"`         // бонус ликвидатора, 10500 = 105%
	Active          bool      `json:"active" db:"active"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// BorrowAssetConfig представляет параметры заёмного актива
type BorrowAssetConfig struct {
	ID             int       `json:"id" db:"id"`
	Symbol         string    `json:"symbol" db:"symbol"`                     // USDC, DAI
	MaxLeverageBps int       `json:"max_leverage_bps" db:"max_leverage_bps"` // 30000 = 3x
	Active         bool      `json:"active" db:"active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// UserRiskLimit представляет индивидуальный лимит суммарного долга владельца
// в расчётной валюте. Отсутствие записи означает отсутствие лимита.
type UserRiskLimit struct {
	ID             int             `json:"id" db:"id"`
	Owner          string          `json:"owner" db:"owner"`
	MaxBorrowValue decimal.Decimal `json:"max_borrow_value" db:"max_borrow_value"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}
