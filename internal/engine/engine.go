package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"leverage/internal/market"
	"leverage/internal/models"
	"leverage/pkg/utils"
)

// Config - параметры ядра позиций
type Config struct {
	// Максимальная доля долга, погашаемая одной ликвидацией (5000 = 50%)
	CloseFactorBps int
	// Допуск на проскальзывание внутренних свопов (100 = 1%)
	MaxSlippageBps int
	// Порог ребалансировки по умолчанию, если позиция не задала свой
	DefaultRebalanceThresholdBps int
	// Размер буфера очереди операций
	OpBuffer int
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		CloseFactorBps:               5000,
		MaxSlippageBps:               100,
		DefaultRebalanceThresholdBps: 200,
		OpBuffer:                     256,
	}
}

// WebSocketHub - интерфейс рассылки наблюдений подключенным клиентам
type WebSocketHub interface {
	BroadcastEvent(ev *models.Event)
	BroadcastPosition(pos *models.Position)
}

// PositionStore - долговременное хранилище позиций
type PositionStore interface {
	Save(ctx context.Context, pos *models.Position) error
}

// EventStore - долговременное хранилище журнала событий
type EventStore interface {
	Insert(ctx context.Context, ev *models.Event) error
}

// Engine - ядро плечевых позиций.
//
// Все переходы состояния инициируются внешними вызывающими (владельцы,
// ликвидаторы, кипер-боты) и проходят через единый строго упорядоченный
// журнал операций, обрабатываемый по одной операции за раз. Каждая
// операция атомарна: либо выполняются все внешние переводы, займы,
// свопы и погашения с коммитом мутации позиции, либо всё откатывается.
// Частичное выполнение не наблюдаемо.
//
// Гонки конкурирующих вызывающих разрешаются порядком в журнале:
// операция перечитывает состояние и перепроверяет своё предусловие
// непосредственно перед мутацией. Устаревшее предусловие даёт чистую
// ошибку состояния, а не тихий успех.
type Engine struct {
	cfg      Config
	registry *Registry
	ledger   *Ledger
	calc     *Calculator

	prices   market.PriceSource
	pool     market.LendingPool
	exchange market.Exchange

	logger *utils.Logger

	// Опциональные приёмники наблюдений
	hub           WebSocketHub
	positionStore PositionStore
	eventStore    EventStore

	ops      chan *operation
	shutdown chan struct{}
	wg       sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewEngine создаёт ядро поверх реестра, журнала позиций и внешних площадок
func NewEngine(
	cfg Config,
	registry *Registry,
	ledger *Ledger,
	prices market.PriceSource,
	pool market.LendingPool,
	exchange market.Exchange,
	logger *utils.Logger,
) *Engine {
	if cfg.OpBuffer <= 0 {
		cfg.OpBuffer = DefaultConfig().OpBuffer
	}
	if cfg.CloseFactorBps <= 0 || cfg.CloseFactorBps > utils.BpsDenominator {
		cfg.CloseFactorBps = DefaultConfig().CloseFactorBps
	}
	if cfg.DefaultRebalanceThresholdBps <= 0 {
		cfg.DefaultRebalanceThresholdBps = DefaultConfig().DefaultRebalanceThresholdBps
	}

	return &Engine{
		cfg:      cfg,
		registry: registry,
		ledger:   ledger,
		calc:     NewCalculator(registry),
		prices:   prices,
		pool:     pool,
		exchange: exchange,
		logger:   logger.WithComponent("engine"),
		ops:      make(chan *operation, cfg.OpBuffer),
		shutdown: make(chan struct{}),
	}
}

// SetHub подключает рассылку наблюдений
func (e *Engine) SetHub(hub WebSocketHub) {
	e.hub = hub
}

// SetStores подключает долговременные хранилища позиций и событий
func (e *Engine) SetStores(positions PositionStore, events EventStore) {
	e.positionStore = positions
	e.eventStore = events
}

// Registry возвращает реестр риск-параметров
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Ledger возвращает журнал позиций
func (e *Engine) Ledger() *Ledger {
	return e.ledger
}

// Calculator возвращает калькулятор метрик
func (e *Engine) Calculator() *Calculator {
	return e.calc
}

// NewPriceView создаёт свежий снимок цен для сканеров и read-обработчиков
func (e *Engine) NewPriceView() *PriceView {
	return NewPriceView(e.prices)
}

// Start запускает обработку журнала операций
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.wg.Add(1)
		go e.drain()
		e.logger.Info("ядро запущено",
			zap.Int("op_buffer", e.cfg.OpBuffer),
			zap.Int("close_factor_bps", e.cfg.CloseFactorBps))
	})
}

// Stop останавливает обработку. Операции в очереди получают ErrEngineStopped.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.shutdown)
		e.wg.Wait()
		e.logger.Info("ядро остановлено")
	})
}

// persist сохраняет позицию в долговременном хранилище и рассылает её
func (e *Engine) persist(ctx context.Context, pos *models.Position) {
	if e.positionStore != nil {
		if err := e.positionStore.Save(ctx, pos); err != nil {
			e.logger.Error("ошибка сохранения позиции",
				zap.String("owner", pos.Owner),
				zap.Int64("position_id", pos.ID),
				zap.Error(err))
		}
	}
	if e.hub != nil {
		e.hub.BroadcastPosition(pos)
	}
	ActivePositions.Set(float64(e.ledger.CountActive()))
}

// emit записывает событие в журнал, рассылает его и логирует
func (e *Engine) emit(ctx context.Context, ev *models.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if e.eventStore != nil {
		if err := e.eventStore.Insert(ctx, ev); err != nil {
			e.logger.Error("ошибка записи события", zap.String("type", ev.Type), zap.Error(err))
		}
	}
	if e.hub != nil {
		e.hub.BroadcastEvent(ev)
	}

	fields := []zap.Field{
		zap.String("type", ev.Type),
		zap.String("owner", ev.Owner),
	}
	if ev.PositionID != nil {
		fields = append(fields, zap.Int64("position_id", *ev.PositionID))
	}
	switch ev.Severity {
	case models.SeverityError:
		e.logger.Error(ev.Message, fields...)
	case models.SeverityWarn:
		e.logger.Warn(ev.Message, fields...)
	default:
		e.logger.Info(ev.Message, fields...)
	}
}
