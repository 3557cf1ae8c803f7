package service

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"leverage/internal/engine"
	"leverage/internal/models"
	"leverage/internal/repository"
)

// Ошибки сервиса позиций
var (
	ErrPositionNotFound = errors.New("position not found")
)

// PositionDetail - позиция вместе с текущим снимком здоровья.
// Снимок может отсутствовать, если цена залога временно недоступна.
type PositionDetail struct {
	Position *models.Position       `json:"position"`
	Health   *models.HealthSnapshot `json:"health,omitempty"`
}

// PositionService предоставляет бизнес-логику работы с позициями.
//
// Все мутации проходят через ядро и его журнал операций. Сервис
// добавляет только чтения: списки позиций, снимки здоровья и выборки
// из журнала событий.
type PositionService struct {
	engine    *engine.Engine
	eventRepo EventRepositoryInterface
	posRepo   PositionRepositoryInterface
}

// NewPositionService создает новый экземпляр PositionService
func NewPositionService(eng *engine.Engine, posRepo PositionRepositoryInterface, eventRepo EventRepositoryInterface) *PositionService {
	return &PositionService{
		engine:    eng,
		eventRepo: eventRepo,
		posRepo:   posRepo,
	}
}

// LoadFromStorage восстанавливает активные позиции из хранилища при старте
func (s *PositionService) LoadFromStorage(ctx context.Context) error {
	positions, err := s.posRepo.GetActive(ctx)
	if err != nil {
		return err
	}
	s.engine.Ledger().Load(positions)
	return nil
}

// Open открывает плечевую позицию
func (s *PositionService) Open(ctx context.Context, owner string, params engine.OpenParams) (*models.Position, error) {
	return s.engine.OpenPosition(ctx, owner, params)
}

// Close закрывает позицию с возвратом остатка залога владельцу
func (s *PositionService) Close(ctx context.Context, owner string, id int64, minCollateralOut decimal.Decimal) (*engine.CloseResult, error) {
	return s.engine.ClosePosition(ctx, owner, id, minCollateralOut)
}

// Adjust изменяет целевое плечо позиции
func (s *PositionService) Adjust(ctx context.Context, owner string, id int64, newTargetBps int) (*models.Position, error) {
	return s.engine.AdjustPosition(ctx, owner, id, newTargetBps)
}

// AddCollateral довносит залог в активную позицию
func (s *PositionService) AddCollateral(ctx context.Context, owner string, id int64, amount decimal.Decimal) (*models.Position, error) {
	return s.engine.AddCollateral(ctx, owner, id, amount)
}

// WithdrawCollateral выводит свободный залог из активной позиции
func (s *PositionService) WithdrawCollateral(ctx context.Context, owner string, id int64, amount decimal.Decimal) (*models.Position, error) {
	return s.engine.WithdrawCollateral(ctx, owner, id, amount)
}

// SetStopLoss устанавливает или снимает стоп-цену позиции
func (s *PositionService) SetStopLoss(ctx context.Context, owner string, id int64, price decimal.Decimal) error {
	return s.engine.SetStopLoss(ctx, owner, id, price)
}

// SetRebalanceThreshold изменяет порог ребалансировки позиции
func (s *PositionService) SetRebalanceThreshold(ctx context.Context, owner string, id int64, thresholdBps int) error {
	return s.engine.SetRebalanceThreshold(ctx, owner, id, thresholdBps)
}

// Liquidate выполняет ликвидацию небезопасной позиции от имени ликвидатора
func (s *PositionService) Liquidate(ctx context.Context, liquidator, owner string, id int64, debtToCover decimal.Decimal) (*engine.LiquidationResult, error) {
	return s.engine.Liquidate(ctx, liquidator, owner, id, debtToCover)
}

// Rebalance возвращает плечо позиции к целевому значению
func (s *PositionService) Rebalance(ctx context.Context, caller, owner string, id int64) (*models.Position, error) {
	return s.engine.Rebalance(ctx, caller, owner, id)
}

// TriggerStopLoss исполняет сработавший stop-loss позиции
func (s *PositionService) TriggerStopLoss(ctx context.Context, caller, owner string, id int64) (*engine.CloseResult, error) {
	return s.engine.TriggerStopLoss(ctx, caller, owner, id)
}

// Get возвращает позицию со снимком здоровья
func (s *PositionService) Get(ctx context.Context, owner string, id int64) (*PositionDetail, error) {
	pos, ok := s.engine.Ledger().Get(owner, id)
	if !ok {
		// Закрытые позиции могли быть вытеснены из памяти, ищем в хранилище
		stored, err := s.posRepo.Get(ctx, owner, id)
		if err != nil {
			if errors.Is(err, repository.ErrPositionNotFound) {
				return nil, ErrPositionNotFound
			}
			return nil, err
		}
		pos = stored
	}

	return s.detail(ctx, pos), nil
}

// List возвращает все позиции владельца со снимками здоровья
func (s *PositionService) List(ctx context.Context, owner string) ([]*PositionDetail, error) {
	positions := s.engine.Ledger().ListByOwner(owner)

	details := make([]*PositionDetail, 0, len(positions))
	for _, pos := range positions {
		details = append(details, s.detail(ctx, pos))
	}
	return details, nil
}

// ListActive возвращает все активные позиции со снимками здоровья
func (s *PositionService) ListActive(ctx context.Context) ([]*PositionDetail, error) {
	positions := s.engine.Ledger().ListActive()

	details := make([]*PositionDetail, 0, len(positions))
	for _, pos := range positions {
		details = append(details, s.detail(ctx, pos))
	}
	return details, nil
}

// Events возвращает события владельца из журнала
func (s *PositionService) Events(ctx context.Context, owner string, limit int) ([]*models.Event, error) {
	events, err := s.eventRepo.GetByOwner(ctx, owner, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []*models.Event{}
	}
	return events, nil
}

// PositionEvents возвращает события конкретной позиции
func (s *PositionService) PositionEvents(ctx context.Context, owner string, id int64, limit int) ([]*models.Event, error) {
	events, err := s.eventRepo.GetByPosition(ctx, owner, id, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []*models.Event{}
	}
	return events, nil
}

// RecentEvents возвращает последние события по всем владельцам
func (s *PositionService) RecentEvents(ctx context.Context, limit int) ([]*models.Event, error) {
	events, err := s.eventRepo.GetRecent(ctx, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []*models.Event{}
	}
	return events, nil
}

func (s *PositionService) detail(ctx context.Context, pos *models.Position) *PositionDetail {
	d := &PositionDetail{Position: pos}

	if pos.IsActive() {
		// Снимок не критичен для ответа: при недоступной цене отдаём
		// позицию без него
		snap, err := s.engine.Calculator().Snapshot(ctx, pos, s.engine.NewPriceView())
		if err == nil {
			d.Health = snap
		}
	}
	return d
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
