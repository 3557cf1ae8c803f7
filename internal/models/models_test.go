package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// ============ Position Tests ============

func TestPosition_JSONSerialization(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	pos := Position{
		ID:                3,
		Owner:             "alice",
		CollateralAsset:   "WETH",
		BorrowAsset:       "USDC",
		CollateralAmount:  decimal.RequireFromString("1.5"),
		BorrowAmount:      decimal.RequireFromString("3000"),
		TargetLeverageBps: 20000,
		Status:            StatusActive,
		OpenedAt:          now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	data, err := json.Marshal(pos)
	if err != nil {
		t.Fatalf("ошибка сериализации: %v", err)
	}

	jsonStr := string(data)

	// Проверяем что ключевые поля присутствуют
	fields := []string{"id", "owner", "collateral_asset", "borrow_asset", "target_leverage_bps", "status"}
	for _, field := range fields {
		if !strings.Contains(jsonStr, field) {
			t.Errorf("поле %q должно быть в JSON", field)
		}
	}

	// closed_at пустой и не должен попадать в JSON
	if strings.Contains(jsonStr, "closed_at") {
		t.Error("пустое поле closed_at не должно быть в JSON")
	}
}

func TestPosition_JSONDeserialization(t *testing.T) {
	jsonData := `{
		"id": 7,
		"owner": "bob",
		"collateral_asset": "WBTC",
		"borrow_asset": "DAI",
		"collateral_amount": "0.25",
		"borrow_amount": "5000",
		"target_leverage_bps": 30000,
		"stop_loss_price": "1500",
		"status": "active",
		"opened_at": "2024-01-15T10:30:00Z"
	}`

	var pos Position
	if err := json.Unmarshal([]byte(jsonData), &pos); err != nil {
		t.Fatalf("ошибка десериализации: %v", err)
	}

	if pos.ID != 7 {
		t.Errorf("ID = %d, ожидалось 7", pos.ID)
	}
	if pos.Owner != "bob" {
		t.Errorf("Owner = %q, ожидалось bob", pos.Owner)
	}
	if !pos.CollateralAmount.Equal(decimal.RequireFromString("0.25")) {
		t.Errorf("CollateralAmount = %s, ожидалось 0.25", pos.CollateralAmount)
	}
	if !pos.StopLossPrice.Equal(decimal.RequireFromString("1500")) {
		t.Errorf("StopLossPrice = %s, ожидалось 1500", pos.StopLossPrice)
	}
}

func TestPosition_IsActive(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{StatusActive, true},
		{StatusClosed, false},
		{StatusLiquidated, false},
		{StatusStopped, false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			p := Position{Status: tt.status}
			if got := p.IsActive(); got != tt.want {
				t.Errorf("IsActive() при статусе %q = %v, ожидалось %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestPosition_HasStopLoss(t *testing.T) {
	p := Position{}
	if p.HasStopLoss() {
		t.Error("HasStopLoss() без триггера должен быть false")
	}

	p.StopLossPrice = decimal.RequireFromString("1500")
	if !p.HasStopLoss() {
		t.Error("HasStopLoss() с триггером 1500 должен быть true")
	}
}

// ============ Event Tests ============

func TestEvent_JSONSerialization(t *testing.T) {
	posID := int64(42)
	ev := Event{
		ID:         1,
		Timestamp:  time.Now(),
		Type:       EventTypeLiquidation,
		Severity:   SeverityWarn,
		Owner:      "alice",
		PositionID: &posID,
		Message:    "позиция ликвидирована",
		Meta: map[string]interface{}{
			"debt_covered": "1000",
			"seized":       "0.55",
		},
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("ошибка сериализации: %v", err)
	}

	jsonStr := string(data)
	if !strings.Contains(jsonStr, `"type":"LIQUIDATION"`) {
		t.Errorf("тип события не попал в JSON: %s", jsonStr)
	}
	if !strings.Contains(jsonStr, `"position_id":42`) {
		t.Errorf("position_id не попал в JSON: %s", jsonStr)
	}
}

func TestEvent_OptionalPositionID(t *testing.T) {
	ev := Event{
		Type:     EventTypeError,
		Severity: SeverityError,
		Owner:    "bob",
		Message:  "актив не поддерживается",
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("ошибка сериализации: %v", err)
	}

	if strings.Contains(string(data), "position_id") {
		t.Error("пустой position_id не должен быть в JSON")
	}
}
