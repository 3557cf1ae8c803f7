package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"leverage/internal/engine"
	"leverage/internal/models"
	"leverage/internal/repository"
	"leverage/pkg/utils"
)

// Ошибки сервиса риск-реестра
var (
	ErrSymbolEmpty  = errors.New("symbol cannot be empty")
	ErrOwnerEmpty   = errors.New("owner cannot be empty")
	ErrInvalidLimit = errors.New("max borrow value must be positive")
)

// RegistryService предоставляет бизнес-логику управления риск-реестром.
//
// Параметры активов сначала проходят валидацию в реестре ядра, и только
// затем записываются в хранилище. Порядок важен: реестр в памяти никогда
// не содержит невалидную конфигурацию, а провал записи в БД не оставляет
// ядро и хранилище согласованно расходящимися дольше чем до рестарта.
type RegistryService struct {
	registry *engine.Registry
	riskRepo RiskRepositoryInterface
}

// NewRegistryService создает новый экземпляр RegistryService
func NewRegistryService(registry *engine.Registry, riskRepo RiskRepositoryInterface) *RegistryService {
	return &RegistryService{
		registry: registry,
		riskRepo: riskRepo,
	}
}

// LoadFromStorage восстанавливает реестр из хранилища при старте
func (s *RegistryService) LoadFromStorage(ctx context.Context) error {
	collateral, err := s.riskRepo.GetAllCollateral(ctx)
	if err != nil {
		return err
	}
	borrow, err := s.riskRepo.GetAllBorrowAssets(ctx)
	if err != nil {
		return err
	}
	limits, err := s.riskRepo.GetAllUserLimits(ctx)
	if err != nil {
		return err
	}

	collByVal := make([]models.CollateralConfig, 0, len(collateral))
	for _, c := range collateral {
		collByVal = append(collByVal, *c)
	}
	borrowByVal := make([]models.BorrowAssetConfig, 0, len(borrow))
	for _, b := range borrow {
		borrowByVal = append(borrowByVal, *b)
	}
	limitsByVal := make([]models.UserRiskLimit, 0, len(limits))
	for _, l := range limits {
		limitsByVal = append(limitsByVal, *l)
	}

	s.registry.Load(collByVal, borrowByVal, limitsByVal)
	return nil
}

// SetCollateral добавляет или обновляет параметры залогового актива.
//
// Символ автоматически приводится к верхнему регистру.
func (s *RegistryService) SetCollateral(ctx context.Context, cfg models.CollateralConfig) (*models.CollateralConfig, error) {
	cfg.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	if cfg.Symbol == "" {
		return nil, ErrSymbolEmpty
	}

	if err := s.registry.SetCollateralConfig(cfg); err != nil {
		return nil, err
	}

	stored, _ := s.registry.CollateralConfig(cfg.Symbol)
	if err := s.riskRepo.UpsertCollateral(ctx, &stored); err != nil {
		return nil, err
	}

	return &stored, nil
}

// SetBorrowAsset добавляет или обновляет параметры заёмного актива
func (s *RegistryService) SetBorrowAsset(ctx context.Context, cfg models.BorrowAssetConfig) (*models.BorrowAssetConfig, error) {
	cfg.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	if cfg.Symbol == "" {
		return nil, ErrSymbolEmpty
	}

	if err := s.registry.SetBorrowAssetConfig(cfg); err != nil {
		return nil, err
	}

	stored, _ := s.registry.BorrowAssetConfig(cfg.Symbol)
	if err := s.riskRepo.UpsertBorrowAsset(ctx, &stored); err != nil {
		return nil, err
	}

	return &stored, nil
}

// SetUserLimit устанавливает лимит заимствования пользователя
func (s *RegistryService) SetUserLimit(ctx context.Context, owner string, maxBorrowValue decimal.Decimal) error {
	owner = strings.TrimSpace(owner)
	if err := utils.ValidateOwner(owner); err != nil {
		return err
	}
	if !maxBorrowValue.IsPositive() {
		return ErrInvalidLimit
	}

	limit := models.UserRiskLimit{Owner: owner, MaxBorrowValue: maxBorrowValue}
	if err := s.registry.SetUserBorrowLimit(limit); err != nil {
		return err
	}

	return s.riskRepo.UpsertUserLimit(ctx, &limit)
}

// RemoveUserLimit снимает лимит заимствования пользователя
func (s *RegistryService) RemoveUserLimit(ctx context.Context, owner string) error {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return ErrOwnerEmpty
	}

	s.registry.RemoveUserBorrowLimit(owner)

	err := s.riskRepo.DeleteUserLimit(ctx, owner)
	if errors.Is(err, repository.ErrUserLimitNotFound) {
		// Лимита не было в хранилище, реестр уже чист
		return nil
	}
	return err
}

// ListCollateral возвращает параметры всех залоговых активов
func (s *RegistryService) ListCollateral() []models.CollateralConfig {
	return s.registry.ListCollateral()
}

// ListBorrowAssets возвращает параметры всех заёмных активов
func (s *RegistryService) ListBorrowAssets() []models.BorrowAssetConfig {
	return s.registry.ListBorrowAssets()
}

// ListUserLimits возвращает лимиты всех пользователей
func (s *RegistryService) ListUserLimits(ctx context.Context) ([]*models.UserRiskLimit, error) {
	limits, err := s.riskRepo.GetAllUserLimits(ctx)
	if err != nil {
		return nil, err
	}
	if limits == nil {
		limits = []*models.UserRiskLimit{}
	}
	return limits, nil
}
