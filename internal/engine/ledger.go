package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"leverage/internal/models"
)

// Ledger - авторитетное хранилище позиций в памяти, индексированное
// по (владелец, id позиции). Id монотонно растут внутри владельца.
//
// Get возвращает копию записи: мутации проходят только через Update,
// что позволяет контролировать терминальность статусов в одном месте.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]map[int64]*models.Position
	nextID    map[string]int64
}

// NewLedger создаёт пустой журнал позиций
func NewLedger() *Ledger {
	return &Ledger{
		positions: make(map[string]map[int64]*models.Position),
		nextID:    make(map[string]int64),
	}
}

// Create присваивает позиции следующий id владельца и сохраняет её
func (l *Ledger) Create(pos *models.Position) *models.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID[pos.Owner]++
	pos.ID = l.nextID[pos.Owner]

	now := time.Now()
	pos.CreatedAt = now
	pos.UpdatedAt = now
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = now
	}

	if l.positions[pos.Owner] == nil {
		l.positions[pos.Owner] = make(map[int64]*models.Position)
	}
	stored := *pos
	l.positions[pos.Owner][pos.ID] = &stored

	created := stored
	return &created
}

// Get возвращает копию позиции
func (l *Ledger) Get(owner string, id int64) (*models.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.positions[owner][id]
	if !ok {
		return nil, false
	}
	found := *pos
	return &found, true
}

// Update заменяет запись позиции. Терминальные статусы неизменяемы:
// любая мутация закрытой позиции отклоняется.
func (l *Ledger) Update(pos *models.Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.positions[pos.Owner][pos.ID]
	if !ok {
		return fmt.Errorf("%w: %s/%d", ErrPositionNotFound, pos.Owner, pos.ID)
	}

	if current.Status != pos.Status {
		if !CanTransition(current.Status, pos.Status) {
			return fmt.Errorf("%w: переход %s -> %s", ErrPositionNotActive, current.Status, pos.Status)
		}
	} else if IsTerminal(current.Status) {
		return fmt.Errorf("%w: %s/%d", ErrPositionNotActive, pos.Owner, pos.ID)
	}

	pos.UpdatedAt = time.Now()
	stored := *pos
	l.positions[pos.Owner][pos.ID] = &stored
	return nil
}

// ListByOwner возвращает копии всех позиций владельца, по возрастанию id
func (l *Ledger) ListByOwner(owner string) []*models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*models.Position, 0, len(l.positions[owner]))
	for _, pos := range l.positions[owner] {
		cp := *pos
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListActive возвращает копии всех открытых позиций
func (l *Ledger) ListActive() []*models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*models.Position
	for _, byID := range l.positions {
		for _, pos := range byID {
			if pos.IsActive() {
				cp := *pos
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Owner != out[j].Owner {
			return out[i].Owner < out[j].Owner
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveByOwner возвращает копии открытых позиций владельца
func (l *Ledger) ActiveByOwner(owner string) []*models.Position {
	var out []*models.Position
	for _, pos := range l.ListByOwner(owner) {
		if pos.IsActive() {
			out = append(out, pos)
		}
	}
	return out
}

// CountActive возвращает число открытых позиций
func (l *Ledger) CountActive() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, byID := range l.positions {
		for _, pos := range byID {
			if pos.IsActive() {
				n++
			}
		}
	}
	return n
}

// Load наполняет журнал сохранёнными позициями и восстанавливает
// счётчики id. Используется при старте для восстановления из БД.
func (l *Ledger) Load(positions []*models.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, pos := range positions {
		if l.positions[pos.Owner] == nil {
			l.positions[pos.Owner] = make(map[int64]*models.Position)
		}
		stored := *pos
		l.positions[pos.Owner][pos.ID] = &stored
		if pos.ID > l.nextID[pos.Owner] {
			l.nextID[pos.Owner] = pos.ID
		}
	}
}
