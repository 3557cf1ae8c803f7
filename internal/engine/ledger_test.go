package engine

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"leverage/internal/models"
)

func newPosition(owner string) *models.Position {
	return &models.Position{
		Owner:             owner,
		CollateralAsset:   "WETH",
		BorrowAsset:       "USDC",
		CollateralAmount:  decimal.RequireFromString("2"),
		BorrowAmount:      decimal.RequireFromString("2000"),
		TargetLeverageBps: 20000,
		Status:            models.StatusActive,
	}
}

func TestLedger_CreateAssignsMonotonicIDs(t *testing.T) {
	l := NewLedger()

	a1 := l.Create(newPosition("alice"))
	a2 := l.Create(newPosition("alice"))
	b1 := l.Create(newPosition("bob"))

	if a1.ID != 1 || a2.ID != 2 {
		t.Errorf("id позиций alice = %d, %d, ожидалось 1, 2", a1.ID, a2.ID)
	}
	// Счётчик монотонный внутри владельца, не глобальный
	if b1.ID != 1 {
		t.Errorf("id первой позиции bob = %d, ожидалось 1", b1.ID)
	}
}

func TestLedger_GetReturnsCopy(t *testing.T) {
	l := NewLedger()
	created := l.Create(newPosition("alice"))

	got, ok := l.Get("alice", created.ID)
	if !ok {
		t.Fatal("позиция должна существовать")
	}

	// Мутация копии не должна влиять на хранилище
	got.BorrowAmount = decimal.RequireFromString("9999")

	again, _ := l.Get("alice", created.ID)
	if !again.BorrowAmount.Equal(decimal.RequireFromString("2000")) {
		t.Error("мутация копии просочилась в журнал")
	}
}

func TestLedger_UpdateTerminalStatus(t *testing.T) {
	l := NewLedger()
	pos := l.Create(newPosition("alice"))

	pos.Status = models.StatusClosed
	if err := l.Update(pos); err != nil {
		t.Fatalf("переход active -> closed: %v", err)
	}

	// Закрытая позиция терминальна: любая мутация отклоняется
	pos.BorrowAmount = decimal.Zero
	if err := l.Update(pos); !errors.Is(err, ErrPositionNotActive) {
		t.Errorf("мутация закрытой позиции: ошибка = %v, ожидалась ErrPositionNotActive", err)
	}

	pos.Status = models.StatusActive
	if err := l.Update(pos); !errors.Is(err, ErrPositionNotActive) {
		t.Errorf("повторное открытие: ошибка = %v, ожидалась ErrPositionNotActive", err)
	}
}

func TestLedger_UpdateUnknownPosition(t *testing.T) {
	l := NewLedger()
	pos := newPosition("alice")
	pos.ID = 42

	if err := l.Update(pos); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("ошибка = %v, ожидалась ErrPositionNotFound", err)
	}
}

func TestLedger_ListActive(t *testing.T) {
	l := NewLedger()
	l.Create(newPosition("alice"))
	p2 := l.Create(newPosition("alice"))
	l.Create(newPosition("bob"))

	p2.Status = models.StatusLiquidated
	if err := l.Update(p2); err != nil {
		t.Fatalf("ликвидация: %v", err)
	}

	active := l.ListActive()
	if len(active) != 2 {
		t.Fatalf("открытых позиций %d, ожидалось 2", len(active))
	}
	if l.CountActive() != 2 {
		t.Errorf("CountActive = %d, ожидалось 2", l.CountActive())
	}

	byOwner := l.ActiveByOwner("alice")
	if len(byOwner) != 1 || byOwner[0].ID != 1 {
		t.Errorf("открытые позиции alice = %+v, ожидалась одна с id 1", byOwner)
	}
}

func TestLedger_LoadRestoresCounters(t *testing.T) {
	l := NewLedger()

	saved := newPosition("alice")
	saved.ID = 7
	l.Load([]*models.Position{saved})

	next := l.Create(newPosition("alice"))
	if next.ID != 8 {
		t.Errorf("id после восстановления = %d, ожидалось 8", next.ID)
	}
}
