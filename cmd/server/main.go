package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"leverage/internal/api"
	"leverage/internal/api/middleware"
	"leverage/internal/config"
	"leverage/internal/engine"
	"leverage/internal/market"
	"leverage/internal/repository"
	"leverage/internal/service"
	"leverage/internal/websocket"
	"leverage/pkg/utils"

	_ "github.com/lib/pq"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer logger.Sync()

	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		logger.Fatal("ошибка подключения к базе данных",
			zap.String("dsn", cfg.Database.DSNWithoutPassword()),
			zap.Error(err))
	}
	defer db.Close()

	logger.Info("подключение к базе данных установлено",
		zap.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Инициализация репозиториев
	posRepo := repository.NewPositionRepository(db)
	riskRepo := repository.NewRiskRepository(db)
	eventRepo := repository.NewEventRepository(db)

	// Рыночные площадки
	prices, closePrices, err := initPrices(cfg, logger)
	if err != nil {
		logger.Fatal("ошибка инициализации источника цен", zap.Error(err))
	}
	defer closePrices()

	pool, err := initPool(cfg)
	if err != nil {
		logger.Fatal("ошибка инициализации кредитного пула", zap.Error(err))
	}
	exchange := market.NewSimExchange(prices, cfg.Market.SimFeeBps)

	// Ядро позиций
	registry := engine.NewRegistry()
	ledger := engine.NewLedger()
	eng := engine.NewEngine(engine.Config{
		CloseFactorBps:               cfg.Engine.CloseFactorBps,
		MaxSlippageBps:               cfg.Engine.MaxSlippageBps,
		DefaultRebalanceThresholdBps: cfg.Engine.DefaultRebalanceThresholdBps,
		OpBuffer:                     cfg.Engine.OpBuffer,
	}, registry, ledger, prices, pool, exchange, logger)
	eng.SetStores(posRepo, eventRepo)

	// WebSocket hub для real-time обновлений
	hub := websocket.NewHub()
	go hub.Run()
	eng.SetHub(hub)

	// Сервисы
	registryService := service.NewRegistryService(registry, riskRepo)
	positionService := service.NewPositionService(eng, posRepo, eventRepo)

	// Восстановление состояния из хранилища
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	if err := registryService.LoadFromStorage(startupCtx); err != nil {
		cancelStartup()
		logger.Fatal("ошибка восстановления риск-реестра", zap.Error(err))
	}
	if err := positionService.LoadFromStorage(startupCtx); err != nil {
		cancelStartup()
		logger.Fatal("ошибка восстановления позиций", zap.Error(err))
	}
	cancelStartup()

	eng.Start()

	// Кипер-сканеры
	scanCtx, cancelScan := context.WithCancel(context.Background())
	liqScanner := engine.NewLiquidationScanner(eng, engine.ScannerConfig{
		Interval:   cfg.Keeper.LiquidationInterval,
		RatePerSec: cfg.Keeper.RatePerSec,
		Burst:      cfg.Keeper.Burst,
		MaxRetries: cfg.Keeper.MaxRetries,
		Keeper:     "liq-keeper",
	}, logger)
	liqScanner.Start(scanCtx)

	rebScanner := engine.NewRebalanceScanner(eng, engine.ScannerConfig{
		Interval:   cfg.Keeper.RebalanceInterval,
		RatePerSec: cfg.Keeper.RatePerSec,
		Burst:      cfg.Keeper.Burst,
		MaxRetries: cfg.Keeper.MaxRetries,
		Keeper:     "rebalance-keeper",
	}, logger)
	rebScanner.Start(scanCtx)

	// Настройка зависимостей для API
	deps := &api.Dependencies{
		PositionService: positionService,
		RegistryService: registryService,
		Hub:             hub,
	}

	if middleware.AdminHashWeak() {
		logger.Warn("ADMIN_PASSWORD_HASH имеет низкий bcrypt cost, перехешируйте ключ")
	}

	router := api.SetupRoutes(deps)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		logger.Info("сервер запускается", zap.String("addr", server.Addr))
		if cfg.Server.UseHTTPS {
			if err := server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil && err != http.ErrServerClosed {
				logger.Fatal("ошибка сервера", zap.Error(err))
			}
		} else {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("ошибка сервера", zap.Error(err))
			}
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("остановка сервера")

	// Сначала сканеры и ядро: операции в очереди завершаются или
	// получают ErrEngineStopped до закрытия внешних соединений
	cancelScan()
	liqScanner.Stop()
	rebScanner.Stop()
	eng.Stop()
	hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("принудительная остановка сервера", zap.Error(err))
	}

	logger.Info("сервер остановлен")
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// initPrices выбирает источник цен: WebSocket фид в production,
// статичные цены для разработки и симуляции
func initPrices(cfg *config.Config, logger *utils.Logger) (market.PriceSource, func(), error) {
	if cfg.Market.UseFeed() {
		feedCfg := market.DefaultFeedConfig(cfg.Market.FeedURL, cfg.Market.Symbols)
		feedCfg.InitialDelay = cfg.Market.ReconnectDelay
		feedCfg.MaxDelay = cfg.Market.MaxDelay
		feedCfg.ConnectTimeout = cfg.Market.ConnectTimeout
		feedCfg.PingInterval = cfg.Market.PingInterval

		feed := market.NewFeed(feedCfg, logger)
		if err := feed.Connect(); err != nil {
			return nil, nil, fmt.Errorf("price feed connect: %w", err)
		}
		return feed, func() { feed.Close() }, nil
	}

	static, err := market.NewStaticPrices(cfg.Market.StaticPrices)
	if err != nil {
		return nil, nil, err
	}
	return static, func() {}, nil
}

// initPool создаёт симулируемый кредитный пул с начальной ликвидностью
func initPool(cfg *config.Config) (*market.SimPool, error) {
	pool := market.NewSimPool()
	for asset, raw := range cfg.Market.SimLiquidity {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("некорректная ликвидность %q для %s: %w", raw, asset, err)
		}
		pool.SetLiquidity(asset, amount)
	}
	return pool, nil
}
