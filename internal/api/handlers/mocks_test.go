package handlers

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"leverage/internal/engine"
	"leverage/internal/models"
	"leverage/internal/service"
)

// ErrMockInternal имитирует внутреннюю ошибку сервиса
var ErrMockInternal = errors.New("mock internal error")

// ============ Mock Position Service ============

type mockPositionKey struct {
	owner string
	id    int64
}

// MockPositionService мок для PositionServiceInterface
type MockPositionService struct {
	positions map[mockPositionKey]*models.Position
	events    []*models.Event
	nextID    int64
	failErr   error // возвращается из любого метода, если установлена
	mu        sync.RWMutex
}

// NewMockPositionService создает новый мок сервиса позиций
func NewMockPositionService() *MockPositionService {
	return &MockPositionService{
		positions: make(map[mockPositionKey]*models.Position),
		nextID:    1,
	}
}

// SetError задаёт ошибку, возвращаемую из всех методов
func (m *MockPositionService) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// AddPosition кладёт позицию напрямую в мок
func (m *MockPositionService) AddPosition(pos *models.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos.ID == 0 {
		pos.ID = m.nextID
		m.nextID++
	}
	m.positions[mockPositionKey{pos.Owner, pos.ID}] = pos
}

// AddEvent кладёт событие напрямую в мок
func (m *MockPositionService) AddEvent(ev *models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *MockPositionService) Open(ctx context.Context, owner string, params engine.OpenParams) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return nil, m.failErr
	}

	now := time.Now()
	pos := &models.Position{
		ID:                    m.nextID,
		Owner:                 owner,
		CollateralAsset:       strings.ToUpper(params.CollateralAsset),
		BorrowAsset:           strings.ToUpper(params.BorrowAsset),
		CollateralAmount:      params.CollateralAmount,
		TargetLeverageBps:     params.TargetLeverageBps,
		RebalanceThresholdBps: params.RebalanceThresholdBps,
		StopLossPrice:         params.StopLossPrice,
		Status:                models.StatusActive,
		OpenedAt:              now,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	m.nextID++
	m.positions[mockPositionKey{owner, pos.ID}] = pos
	return pos, nil
}

func (m *MockPositionService) Close(ctx context.Context, owner string, id int64, minCollateralOut decimal.Decimal) (*engine.CloseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return nil, m.failErr
	}

	pos, ok := m.positions[mockPositionKey{owner, id}]
	if !ok {
		return nil, engine.ErrPositionNotFound
	}
	if pos.Status != models.StatusActive {
		return nil, engine.ErrPositionNotActive
	}

	now := time.Now()
	returned := pos.CollateralAmount
	pos.Status = models.StatusClosed
	pos.CollateralAmount = decimal.Zero
	pos.BorrowAmount = decimal.Zero
	pos.ClosedAt = &now
	return &engine.CloseResult{CollateralReturned: returned}, nil
}

func (m *MockPositionService) Adjust(ctx context.Context, owner string, id int64, newTargetBps int) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return nil, m.failErr
	}

	pos, ok := m.positions[mockPositionKey{owner, id}]
	if !ok {
		return nil, engine.ErrPositionNotFound
	}
	pos.TargetLeverageBps = newTargetBps
	return pos, nil
}

func (m *MockPositionService) AddCollateral(ctx context.Context, owner string, id int64, amount decimal.Decimal) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return nil, m.failErr
	}

	pos, ok := m.positions[mockPositionKey{owner, id}]
	if !ok {
		return nil, engine.ErrPositionNotFound
	}
	if !amount.IsPositive() {
		return nil, engine.ErrInvalidAmount
	}
	pos.CollateralAmount = pos.CollateralAmount.Add(amount)
	return pos, nil
}

func (m *MockPositionService) WithdrawCollateral(ctx context.Context, owner string, id int64, amount decimal.Decimal) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return nil, m.failErr
	}

	pos, ok := m.positions[mockPositionKey{owner, id}]
	if !ok {
		return nil, engine.ErrPositionNotFound
	}
	if !amount.IsPositive() || amount.GreaterThan(pos.CollateralAmount) {
		return nil, engine.ErrInvalidAmount
	}
	pos.CollateralAmount = pos.CollateralAmount.Sub(amount)
	return pos, nil
}

func (m *MockPositionService) SetStopLoss(ctx context.Context, owner string, id int64, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return m.failErr
	}

	pos, ok := m.positions[mockPositionKey{owner, id}]
	if !ok {
		return engine.ErrPositionNotFound
	}
	pos.StopLossPrice = price
	return nil
}

func (m *MockPositionService) SetRebalanceThreshold(ctx context.Context, owner string, id int64, thresholdBps int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return m.failErr
	}

	pos, ok := m.positions[mockPositionKey{owner, id}]
	if !ok {
		return engine.ErrPositionNotFound
	}
	pos.RebalanceThresholdBps = thresholdBps
	return nil
}

func (m *MockPositionService) Liquidate(ctx context.Context, liquidator, owner string, id int64, debtToCover decimal.Decimal) (*engine.LiquidationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return nil, m.failErr
	}

	if _, ok := m.positions[mockPositionKey{owner, id}]; !ok {
		return nil, engine.ErrPositionNotFound
	}
	return &engine.LiquidationResult{
		DebtRepaid:       debtToCover,
		CollateralSeized: decimal.NewFromInt(1),
	}, nil
}

func (m *MockPositionService) Rebalance(ctx context.Context, caller, owner string, id int64) (*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failErr != nil {
		return nil, m.failErr
	}

	pos, ok := m.positions[mockPositionKey{owner, id}]
	if !ok {
		return nil, engine.ErrPositionNotFound
	}
	return pos, nil
}

func (m *MockPositionService) TriggerStopLoss(ctx context.Context, caller, owner string, id int64) (*engine.CloseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return nil, m.failErr
	}

	pos, ok := m.positions[mockPositionKey{owner, id}]
	if !ok {
		return nil, engine.ErrPositionNotFound
	}
	if pos.Status != models.StatusActive {
		return nil, engine.ErrPositionNotActive
	}
	if pos.StopLossPrice.IsZero() {
		return nil, engine.ErrStopLossNotTriggered
	}

	now := time.Now()
	returned := pos.CollateralAmount
	pos.Status = models.StatusStopped
	pos.CollateralAmount = decimal.Zero
	pos.BorrowAmount = decimal.Zero
	pos.ClosedAt = &now
	return &engine.CloseResult{CollateralReturned: returned}, nil
}

func (m *MockPositionService) Get(ctx context.Context, owner string, id int64) (*service.PositionDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failErr != nil {
		return nil, m.failErr
	}

	pos, ok := m.positions[mockPositionKey{owner, id}]
	if !ok {
		return nil, service.ErrPositionNotFound
	}
	return &service.PositionDetail{Position: pos}, nil
}

func (m *MockPositionService) List(ctx context.Context, owner string) ([]*service.PositionDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failErr != nil {
		return nil, m.failErr
	}

	result := make([]*service.PositionDetail, 0)
	for key, pos := range m.positions {
		if key.owner == owner {
			result = append(result, &service.PositionDetail{Position: pos})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Position.ID < result[j].Position.ID
	})
	return result, nil
}

func (m *MockPositionService) ListActive(ctx context.Context) ([]*service.PositionDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failErr != nil {
		return nil, m.failErr
	}

	result := make([]*service.PositionDetail, 0)
	for _, pos := range m.positions {
		if pos.Status == models.StatusActive {
			result = append(result, &service.PositionDetail{Position: pos})
		}
	}
	return result, nil
}

func (m *MockPositionService) LoadFromStorage(ctx context.Context) error {
	return m.failErr
}

func (m *MockPositionService) Events(ctx context.Context, owner string, limit int) ([]*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failErr != nil {
		return nil, m.failErr
	}

	result := make([]*models.Event, 0)
	for _, ev := range m.events {
		if ev.Owner == owner {
			result = append(result, ev)
		}
	}
	return result, nil
}

func (m *MockPositionService) PositionEvents(ctx context.Context, owner string, id int64, limit int) ([]*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failErr != nil {
		return nil, m.failErr
	}

	result := make([]*models.Event, 0)
	for _, ev := range m.events {
		if ev.Owner == owner && ev.PositionID != nil && *ev.PositionID == id {
			result = append(result, ev)
		}
	}
	return result, nil
}

func (m *MockPositionService) RecentEvents(ctx context.Context, limit int) ([]*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failErr != nil {
		return nil, m.failErr
	}

	result := make([]*models.Event, 0, len(m.events))
	result = append(result, m.events...)
	return result, nil
}

// ============ Mock Registry Service ============

// MockRegistryService мок для RegistryServiceInterface
type MockRegistryService struct {
	collateral map[string]models.CollateralConfig
	borrow     map[string]models.BorrowAssetConfig
	limits     map[string]decimal.Decimal
	failErr    error
	mu         sync.RWMutex
}

// NewMockRegistryService создает новый мок сервиса реестра
func NewMockRegistryService() *MockRegistryService {
	return &MockRegistryService{
		collateral: make(map[string]models.CollateralConfig),
		borrow:     make(map[string]models.BorrowAssetConfig),
		limits:     make(map[string]decimal.Decimal),
	}
}

// SetError задаёт ошибку, возвращаемую из всех методов
func (m *MockRegistryService) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *MockRegistryService) LoadFromStorage(ctx context.Context) error {
	return m.failErr
}

func (m *MockRegistryService) SetCollateral(ctx context.Context, cfg models.CollateralConfig) (*models.CollateralConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return nil, m.failErr
	}

	cfg.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	if cfg.Symbol == "" {
		return nil, service.ErrSymbolEmpty
	}
	m.collateral[cfg.Symbol] = cfg
	return &cfg, nil
}

func (m *MockRegistryService) SetBorrowAsset(ctx context.Context, cfg models.BorrowAssetConfig) (*models.BorrowAssetConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return nil, m.failErr
	}

	cfg.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	if cfg.Symbol == "" {
		return nil, service.ErrSymbolEmpty
	}
	m.borrow[cfg.Symbol] = cfg
	return &cfg, nil
}

func (m *MockRegistryService) SetUserLimit(ctx context.Context, owner string, maxBorrowValue decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return m.failErr
	}
	if !maxBorrowValue.IsPositive() {
		return service.ErrInvalidLimit
	}
	m.limits[owner] = maxBorrowValue
	return nil
}

func (m *MockRegistryService) RemoveUserLimit(ctx context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return m.failErr
	}
	delete(m.limits, owner)
	return nil
}

func (m *MockRegistryService) ListCollateral() []models.CollateralConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.CollateralConfig, 0, len(m.collateral))
	for _, cfg := range m.collateral {
		result = append(result, cfg)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result
}

func (m *MockRegistryService) ListBorrowAssets() []models.BorrowAssetConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.BorrowAssetConfig, 0, len(m.borrow))
	for _, cfg := range m.borrow {
		result = append(result, cfg)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result
}

func (m *MockRegistryService) ListUserLimits(ctx context.Context) ([]*models.UserRiskLimit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failErr != nil {
		return nil, m.failErr
	}

	result := make([]*models.UserRiskLimit, 0, len(m.limits))
	for owner, limit := range m.limits {
		result = append(result, &models.UserRiskLimit{Owner: owner, MaxBorrowValue: limit})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Owner < result[j].Owner })
	return result, nil
}

// Проверяем, что моки реализуют интерфейсы сервисов
var _ service.PositionServiceInterface = (*MockPositionService)(nil)
var _ service.RegistryServiceInterface = (*MockRegistryService)(nil)
