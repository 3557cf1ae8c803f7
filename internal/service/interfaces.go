package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"leverage/internal/engine"
	"leverage/internal/models"
	"leverage/internal/repository"
)

// PositionRepositoryInterface определяет интерфейс репозитория позиций
type PositionRepositoryInterface interface {
	Save(ctx context.Context, pos *models.Position) error
	Get(ctx context.Context, owner string, id int64) (*models.Position, error)
	GetByOwner(ctx context.Context, owner string) ([]*models.Position, error)
	GetActive(ctx context.Context) ([]*models.Position, error)
	GetAll(ctx context.Context) ([]*models.Position, error)
	CountByStatus(ctx context.Context, status string) (int, error)
	Delete(ctx context.Context, owner string, id int64) error
}

// RiskRepositoryInterface определяет интерфейс репозитория риск-параметров
type RiskRepositoryInterface interface {
	UpsertCollateral(ctx context.Context, cfg *models.CollateralConfig) error
	GetCollateral(ctx context.Context, symbol string) (*models.CollateralConfig, error)
	GetAllCollateral(ctx context.Context) ([]*models.CollateralConfig, error)
	UpsertBorrowAsset(ctx context.Context, cfg *models.BorrowAssetConfig) error
	GetAllBorrowAssets(ctx context.Context) ([]*models.BorrowAssetConfig, error)
	UpsertUserLimit(ctx context.Context, limit *models.UserRiskLimit) error
	GetAllUserLimits(ctx context.Context) ([]*models.UserRiskLimit, error)
	DeleteUserLimit(ctx context.Context, owner string) error
}

// EventRepositoryInterface определяет интерфейс репозитория событий
type EventRepositoryInterface interface {
	Insert(ctx context.Context, ev *models.Event) error
	GetRecent(ctx context.Context, limit int) ([]*models.Event, error)
	GetByOwner(ctx context.Context, owner string, limit int) ([]*models.Event, error)
	GetByPosition(ctx context.Context, owner string, positionID int64, limit int) ([]*models.Event, error)
	GetByType(ctx context.Context, eventType string, limit int) ([]*models.Event, error)
	DeleteOlderThan(ctx context.Context, timestamp time.Time) (int64, error)
	Count(ctx context.Context) (int, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ PositionRepositoryInterface = (*repository.PositionRepository)(nil)
var _ RiskRepositoryInterface = (*repository.RiskRepository)(nil)
var _ EventRepositoryInterface = (*repository.EventRepository)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// RegistryServiceInterface определяет интерфейс сервиса риск-реестра
type RegistryServiceInterface interface {
	LoadFromStorage(ctx context.Context) error
	SetCollateral(ctx context.Context, cfg models.CollateralConfig) (*models.CollateralConfig, error)
	SetBorrowAsset(ctx context.Context, cfg models.BorrowAssetConfig) (*models.BorrowAssetConfig, error)
	SetUserLimit(ctx context.Context, owner string, maxBorrowValue decimal.Decimal) error
	RemoveUserLimit(ctx context.Context, owner string) error
	ListCollateral() []models.CollateralConfig
	ListBorrowAssets() []models.BorrowAssetConfig
	ListUserLimits(ctx context.Context) ([]*models.UserRiskLimit, error)
}

// PositionServiceInterface определяет интерфейс сервиса позиций
type PositionServiceInterface interface {
	Open(ctx context.Context, owner string, params engine.OpenParams) (*models.Position, error)
	Close(ctx context.Context, owner string, id int64, minCollateralOut decimal.Decimal) (*engine.CloseResult, error)
	Adjust(ctx context.Context, owner string, id int64, newTargetBps int) (*models.Position, error)
	AddCollateral(ctx context.Context, owner string, id int64, amount decimal.Decimal) (*models.Position, error)
	WithdrawCollateral(ctx context.Context, owner string, id int64, amount decimal.Decimal) (*models.Position, error)
	SetStopLoss(ctx context.Context, owner string, id int64, price decimal.Decimal) error
	SetRebalanceThreshold(ctx context.Context, owner string, id int64, thresholdBps int) error
	Liquidate(ctx context.Context, liquidator, owner string, id int64, debtToCover decimal.Decimal) (*engine.LiquidationResult, error)
	Rebalance(ctx context.Context, caller, owner string, id int64) (*models.Position, error)
	TriggerStopLoss(ctx context.Context, caller, owner string, id int64) (*engine.CloseResult, error)
	Get(ctx context.Context, owner string, id int64) (*PositionDetail, error)
	List(ctx context.Context, owner string) ([]*PositionDetail, error)
	ListActive(ctx context.Context) ([]*PositionDetail, error)
	LoadFromStorage(ctx context.Context) error
	Events(ctx context.Context, owner string, limit int) ([]*models.Event, error)
	PositionEvents(ctx context.Context, owner string, id int64, limit int) ([]*models.Event, error)
	RecentEvents(ctx context.Context, limit int) ([]*models.Event, error)
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ RegistryServiceInterface = (*RegistryService)(nil)
var _ PositionServiceInterface = (*PositionService)(nil)
