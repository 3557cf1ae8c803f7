package service

import (
	"context"
	"sort"
	"time"

	"leverage/internal/models"
	"leverage/internal/repository"
)

// ============ Mock RiskRepository ============

type MockRiskRepository struct {
	collateral map[string]*models.CollateralConfig
	borrow     map[string]*models.BorrowAssetConfig
	limits     map[string]*models.UserRiskLimit

	upsertErr error
	getErr    error
	deleteErr error
}

func NewMockRiskRepository() *MockRiskRepository {
	return &MockRiskRepository{
		collateral: make(map[string]*models.CollateralConfig),
		borrow:     make(map[string]*models.BorrowAssetConfig),
		limits:     make(map[string]*models.UserRiskLimit),
	}
}

func (m *MockRiskRepository) UpsertCollateral(_ context.Context, cfg *models.CollateralConfig) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	cp := *cfg
	m.collateral[cfg.Symbol] = &cp
	return nil
}

func (m *MockRiskRepository) GetCollateral(_ context.Context, symbol string) (*models.CollateralConfig, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if cfg, ok := m.collateral[symbol]; ok {
		return cfg, nil
	}
	return nil, repository.ErrCollateralNotFound
}

func (m *MockRiskRepository) GetAllCollateral(_ context.Context) ([]*models.CollateralConfig, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	result := make([]*models.CollateralConfig, 0, len(m.collateral))
	for _, cfg := range m.collateral {
		result = append(result, cfg)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

func (m *MockRiskRepository) UpsertBorrowAsset(_ context.Context, cfg *models.BorrowAssetConfig) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	cp := *cfg
	m.borrow[cfg.Symbol] = &cp
	return nil
}

func (m *MockRiskRepository) GetAllBorrowAssets(_ context.Context) ([]*models.BorrowAssetConfig, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	result := make([]*models.BorrowAssetConfig, 0, len(m.borrow))
	for _, cfg := range m.borrow {
		result = append(result, cfg)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

func (m *MockRiskRepository) UpsertUserLimit(_ context.Context, limit *models.UserRiskLimit) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	cp := *limit
	m.limits[limit.Owner] = &cp
	return nil
}

func (m *MockRiskRepository) GetAllUserLimits(_ context.Context) ([]*models.UserRiskLimit, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	result := make([]*models.UserRiskLimit, 0, len(m.limits))
	for _, limit := range m.limits {
		result = append(result, limit)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Owner < result[j].Owner })
	return result, nil
}

func (m *MockRiskRepository) DeleteUserLimit(_ context.Context, owner string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.limits[owner]; !ok {
		return repository.ErrUserLimitNotFound
	}
	delete(m.limits, owner)
	return nil
}

// ============ Mock PositionRepository ============

type positionKey struct {
	owner string
	id    int64
}

type MockPositionRepository struct {
	positions map[positionKey]*models.Position

	saveErr error
	getErr  error
}

func NewMockPositionRepository() *MockPositionRepository {
	return &MockPositionRepository{
		positions: make(map[positionKey]*models.Position),
	}
}

func (m *MockPositionRepository) Save(_ context.Context, pos *models.Position) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := *pos
	m.positions[positionKey{pos.Owner, pos.ID}] = &cp
	return nil
}

func (m *MockPositionRepository) Get(_ context.Context, owner string, id int64) (*models.Position, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if pos, ok := m.positions[positionKey{owner, id}]; ok {
		return pos, nil
	}
	return nil, repository.ErrPositionNotFound
}

func (m *MockPositionRepository) GetByOwner(_ context.Context, owner string) ([]*models.Position, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var result []*models.Position
	for key, pos := range m.positions {
		if key.owner == owner {
			result = append(result, pos)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MockPositionRepository) GetActive(_ context.Context) ([]*models.Position, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var result []*models.Position
	for _, pos := range m.positions {
		if pos.IsActive() {
			result = append(result, pos)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Owner != result[j].Owner {
			return result[i].Owner < result[j].Owner
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *MockPositionRepository) GetAll(_ context.Context) ([]*models.Position, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var result []*models.Position
	for _, pos := range m.positions {
		result = append(result, pos)
	}
	return result, nil
}

func (m *MockPositionRepository) CountByStatus(_ context.Context, status string) (int, error) {
	count := 0
	for _, pos := range m.positions {
		if pos.Status == status {
			count++
		}
	}
	return count, nil
}

func (m *MockPositionRepository) Delete(_ context.Context, owner string, id int64) error {
	key := positionKey{owner, id}
	if _, ok := m.positions[key]; !ok {
		return repository.ErrPositionNotFound
	}
	delete(m.positions, key)
	return nil
}

// ============ Mock EventRepository ============

type MockEventRepository struct {
	events []*models.Event
	nextID int

	insertErr error
	getErr    error
}

func NewMockEventRepository() *MockEventRepository {
	return &MockEventRepository{nextID: 1}
}

func (m *MockEventRepository) Insert(_ context.Context, ev *models.Event) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	ev.ID = m.nextID
	m.nextID++
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *MockEventRepository) GetRecent(_ context.Context, limit int) ([]*models.Event, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.filter(limit, func(*models.Event) bool { return true }), nil
}

func (m *MockEventRepository) GetByOwner(_ context.Context, owner string, limit int) ([]*models.Event, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.filter(limit, func(ev *models.Event) bool { return ev.Owner == owner }), nil
}

func (m *MockEventRepository) GetByPosition(_ context.Context, owner string, positionID int64, limit int) ([]*models.Event, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.filter(limit, func(ev *models.Event) bool {
		return ev.Owner == owner && ev.PositionID != nil && *ev.PositionID == positionID
	}), nil
}

func (m *MockEventRepository) GetByType(_ context.Context, eventType string, limit int) ([]*models.Event, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.filter(limit, func(ev *models.Event) bool { return ev.Type == eventType }), nil
}

func (m *MockEventRepository) DeleteOlderThan(_ context.Context, timestamp time.Time) (int64, error) {
	var kept []*models.Event
	var deleted int64
	for _, ev := range m.events {
		if ev.Timestamp.Before(timestamp) {
			deleted++
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept
	return deleted, nil
}

func (m *MockEventRepository) Count(_ context.Context) (int, error) {
	return len(m.events), nil
}

// Новые события первыми, как в SQL-репозитории
func (m *MockEventRepository) filter(limit int, match func(*models.Event) bool) []*models.Event {
	var result []*models.Event
	for i := len(m.events) - 1; i >= 0 && len(result) < limit; i-- {
		if match(m.events[i]) {
			result = append(result, m.events[i])
		}
	}
	return result
}
