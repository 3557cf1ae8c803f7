package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"leverage/internal/models"
	"leverage/pkg/ratelimit"
	"leverage/pkg/retry"
	"leverage/pkg/utils"
)

// ScannerConfig - конфигурация кипер-сканера
type ScannerConfig struct {
	// Интервал между проходами по журналу позиций
	Interval time.Duration
	// Лимит отправки операций в ядро (операций в секунду)
	RatePerSec float64
	// Burst лимитера
	Burst float64
	// Количество повторов транзиентных ошибок отправки
	MaxRetries int
	// Имя кипера в событиях и логах
	Keeper string
}

// DefaultScannerConfig возвращает конфигурацию по умолчанию
func DefaultScannerConfig(keeper string) ScannerConfig {
	return ScannerConfig{
		Interval:   5 * time.Second,
		RatePerSec: 5,
		Burst:      10,
		MaxRetries: 2,
		Keeper:     keeper,
	}
}

// stale возвращает true для ошибок устаревшего предусловия.
// Сканер обязан выбросить такого кандидата, а не повторять вслепую:
// состояние уже изменила более ранняя операция журнала.
func stale(err error) bool {
	return errors.Is(err, ErrPositionNotFound) ||
		errors.Is(err, ErrPositionNotActive) ||
		errors.Is(err, ErrPositionHealthy) ||
		errors.Is(err, ErrRebalanceNotNeeded) ||
		errors.Is(err, ErrStopLossNotTriggered)
}

// LiquidationScanner периодически перечисляет открытые позиции и
// отправляет в ядро ликвидации небезопасных и срабатывания stop-loss.
// Сканер только читает: все мутации идут через журнал операций ядра,
// где предусловия перепроверяются по свежему состоянию.
type LiquidationScanner struct {
	engine  *Engine
	cfg     ScannerConfig
	logger  *utils.Logger
	limiter *ratelimit.RateLimiter

	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLiquidationScanner создаёт сканер ликвидаций
func NewLiquidationScanner(engine *Engine, cfg ScannerConfig, logger *utils.Logger) *LiquidationScanner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultScannerConfig(cfg.Keeper).Interval
	}
	return &LiquidationScanner{
		engine:   engine,
		cfg:      cfg,
		logger:   logger.WithComponent("liquidation_scanner"),
		limiter:  ratelimit.NewRateLimiter(cfg.RatePerSec, cfg.Burst),
		shutdown: make(chan struct{}),
	}
}

// Start запускает цикл сканирования
func (s *LiquidationScanner) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.logger.Info("сканер ликвидаций запущен", zap.Duration("interval", s.cfg.Interval))
		for {
			select {
			case <-s.shutdown:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.scan(ctx)
			}
		}
	}()
}

// Stop останавливает сканер
func (s *LiquidationScanner) Stop() {
	s.stopOnce.Do(func() {
		close(s.shutdown)
		s.wg.Wait()
	})
}

// scan выполняет один проход по открытым позициям
func (s *LiquidationScanner) scan(ctx context.Context) {
	view := s.engine.NewPriceView()
	calc := s.engine.Calculator()

	candidates := 0
	for _, pos := range s.engine.Ledger().ListActive() {
		// Сработавший stop-loss закрывает позицию целиком,
		// проверяется раньше ликвидации
		if pos.HasStopLoss() {
			price, err := view.Price(ctx, pos.CollateralAsset)
			if err == nil && price.LessThanOrEqual(pos.StopLossPrice) {
				candidates++
				s.submitStopLoss(ctx, pos)
				continue
			}
		}

		hf, err := calc.HealthFactor(ctx, pos, view)
		if err != nil {
			s.logger.Warn("пропуск позиции: health factor недоступен",
				zap.String("owner", pos.Owner),
				zap.Int64("position_id", pos.ID),
				zap.Error(err))
			continue
		}
		if hf.LessThan(one) {
			candidates++
			s.submitLiquidation(ctx, pos)
		}
	}

	ScannerCandidates.WithLabelValues("liquidation").Set(float64(candidates))
	ScannerRuns.WithLabelValues("liquidation", "ok").Inc()
}

func (s *LiquidationScanner) submitLiquidation(ctx context.Context, pos *models.Position) {
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}

	err := retry.Do(ctx, func() error {
		// Ядро само ограничит погашение close factor'ом
		_, err := s.engine.Liquidate(ctx, s.cfg.Keeper, pos.Owner, pos.ID, pos.BorrowAmount)
		return err
	}, s.retryConfig())

	switch {
	case err == nil:
		s.logger.Info("ликвидация исполнена",
			zap.String("owner", pos.Owner),
			zap.Int64("position_id", pos.ID))
	case stale(err):
		s.logger.Debug("кандидат устарел",
			zap.String("owner", pos.Owner),
			zap.Int64("position_id", pos.ID),
			zap.Error(err))
	default:
		s.logger.Error("ликвидация не прошла",
			zap.String("owner", pos.Owner),
			zap.Int64("position_id", pos.ID),
			zap.Error(err))
	}
}

func (s *LiquidationScanner) submitStopLoss(ctx context.Context, pos *models.Position) {
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}

	err := retry.Do(ctx, func() error {
		_, err := s.engine.TriggerStopLoss(ctx, s.cfg.Keeper, pos.Owner, pos.ID)
		return err
	}, s.retryConfig())

	if err != nil && !stale(err) {
		s.logger.Error("stop-loss не прошёл",
			zap.String("owner", pos.Owner),
			zap.Int64("position_id", pos.ID),
			zap.Error(err))
	}
}

func (s *LiquidationScanner) retryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = s.cfg.MaxRetries
	cfg.InitialDelay = 200 * time.Millisecond
	cfg.RetryIf = func(err error) bool { return !stale(err) }
	return cfg
}

// RebalanceScanner периодически отправляет в ядро ребалансировки
// позиций, чьё плечо отклонилось от цели сильнее порога.
type RebalanceScanner struct {
	engine  *Engine
	cfg     ScannerConfig
	logger  *utils.Logger
	limiter *ratelimit.RateLimiter

	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRebalanceScanner создаёт сканер ребалансировок
func NewRebalanceScanner(engine *Engine, cfg ScannerConfig, logger *utils.Logger) *RebalanceScanner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultScannerConfig(cfg.Keeper).Interval
	}
	return &RebalanceScanner{
		engine:   engine,
		cfg:      cfg,
		logger:   logger.WithComponent("rebalance_scanner"),
		limiter:  ratelimit.NewRateLimiter(cfg.RatePerSec, cfg.Burst),
		shutdown: make(chan struct{}),
	}
}

// Start запускает цикл сканирования
func (s *RebalanceScanner) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.logger.Info("сканер ребалансировок запущен", zap.Duration("interval", s.cfg.Interval))
		for {
			select {
			case <-s.shutdown:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.scan(ctx)
			}
		}
	}()
}

// Stop останавливает сканер
func (s *RebalanceScanner) Stop() {
	s.stopOnce.Do(func() {
		close(s.shutdown)
		s.wg.Wait()
	})
}

// scan выполняет один проход по открытым позициям
func (s *RebalanceScanner) scan(ctx context.Context) {
	view := s.engine.NewPriceView()
	calc := s.engine.Calculator()

	candidates := 0
	for _, pos := range s.engine.Ledger().ListActive() {
		threshold := pos.RebalanceThresholdBps
		if threshold <= 0 {
			threshold = s.engine.cfg.DefaultRebalanceThresholdBps
		}

		needs, err := calc.NeedsRebalance(ctx, pos, threshold, view)
		if err != nil {
			s.logger.Warn("пропуск позиции: плечо недоступно",
				zap.String("owner", pos.Owner),
				zap.Int64("position_id", pos.ID),
				zap.Error(err))
			continue
		}
		if !needs {
			continue
		}

		candidates++
		s.submitRebalance(ctx, pos)
	}

	ScannerCandidates.WithLabelValues("rebalance").Set(float64(candidates))
	ScannerRuns.WithLabelValues("rebalance", "ok").Inc()
}

func (s *RebalanceScanner) submitRebalance(ctx context.Context, pos *models.Position) {
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}

	cfg := retry.DefaultConfig()
	cfg.MaxRetries = s.cfg.MaxRetries
	cfg.InitialDelay = 200 * time.Millisecond
	cfg.RetryIf = func(err error) bool { return !stale(err) }

	err := retry.Do(ctx, func() error {
		_, err := s.engine.Rebalance(ctx, s.cfg.Keeper, pos.Owner, pos.ID)
		return err
	}, cfg)

	switch {
	case err == nil:
		s.logger.Info("ребалансировка исполнена",
			zap.String("owner", pos.Owner),
			zap.Int64("position_id", pos.ID))
	case stale(err):
		s.logger.Debug("кандидат устарел",
			zap.String("owner", pos.Owner),
			zap.Int64("position_id", pos.ID),
			zap.Error(err))
	default:
		s.logger.Error("ребалансировка не прошла",
			zap.String("owner", pos.Owner),
			zap.Int64("position_id", pos.ID),
			zap.Error(err))
	}
}
