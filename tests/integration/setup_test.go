// Package integration contains integration tests for the leverage engine.
//
// These tests verify the correct interaction between components:
// - API integration tests: full HTTP request cycle
// - WebSocket tests: connection, broadcast messaging
// - Database tests: schema, repositories, transactions
//
// Tests are skipped automatically when the test database is unavailable.
// Configure via TEST_DB_* environment variables.
package integration

import (
	"database/sql"
	"fmt"
	"log"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"leverage/internal/api"
	"leverage/internal/engine"
	"leverage/internal/market"
	"leverage/internal/repository"
	"leverage/internal/service"
	"leverage/internal/websocket"
	"leverage/pkg/utils"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// TestConfig contains configuration for integration tests
type TestConfig struct {
	DBDriver   string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
}

// TestServer encapsulates all components needed for integration testing
type TestServer struct {
	DB       *sql.DB
	Router   *mux.Router
	Server   *httptest.Server
	Hub      *websocket.Hub
	Engine   *engine.Engine
	Prices   *market.StaticPrices
	Pool     *market.SimPool
	Repos    *TestRepositories
	Services *TestServices
	Cleanup  func()
}

// TestRepositories contains all repository instances for testing
type TestRepositories struct {
	Position *repository.PositionRepository
	Risk     *repository.RiskRepository
	Event    *repository.EventRepository
}

// TestServices contains all service instances for testing
type TestServices struct {
	Position *service.PositionService
	Registry *service.RegistryService
}

// getTestConfig returns configuration from environment variables or defaults
func getTestConfig() TestConfig {
	return TestConfig{
		DBDriver:   getEnv("TEST_DB_DRIVER", "postgres"),
		DBHost:     getEnv("TEST_DB_HOST", "localhost"),
		DBPort:     getEnv("TEST_DB_PORT", "5432"),
		DBName:     getEnv("TEST_DB_NAME", "leverage_test"),
		DBUser:     getEnv("TEST_DB_USER", "postgres"),
		DBPassword: getEnv("TEST_DB_PASSWORD", "postgres"),
		DBSSLMode:  getEnv("TEST_DB_SSLMODE", "disable"),
	}
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// SetupTestDB creates a test database connection
func SetupTestDB(t *testing.T) (*sql.DB, func()) {
	config := getTestConfig()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.DBHost, config.DBPort, config.DBUser, config.DBPassword, config.DBName, config.DBSSLMode,
	)

	db, err := sql.Open(config.DBDriver, connStr)
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
		return nil, func() {}
	}

	if err := db.Ping(); err != nil {
		t.Skipf("Skipping integration test: cannot ping database: %v", err)
		return nil, func() {}
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	cleanup := func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}

	return db, cleanup
}

// SetupTestServer creates a complete test server with all components
func SetupTestServer(t *testing.T) *TestServer {
	db, dbCleanup := SetupTestDB(t)
	if db == nil {
		return nil
	}

	if err := initTestTables(db); err != nil {
		t.Skipf("Skipping integration test: cannot initialize tables: %v", err)
		return nil
	}

	logger := utils.InitLogger(utils.LogConfig{Level: "error", Format: "text"})

	// Create WebSocket hub
	hub := websocket.NewHub()
	go hub.Run()

	// Create repositories
	repos := &TestRepositories{
		Position: repository.NewPositionRepository(db),
		Risk:     repository.NewRiskRepository(db),
		Event:    repository.NewEventRepository(db),
	}

	// Simulated market venues: WETH at 2000, deep liquidity, no swap fee
	prices, err := market.NewStaticPrices(map[string]string{"WETH": "2000", "USDC": "1"})
	if err != nil {
		t.Fatalf("failed to create price source: %v", err)
	}
	pool := market.NewSimPool()
	pool.SetLiquidity("USDC", mustDecimal(t, "1000000"))
	pool.SetLiquidity("WETH", mustDecimal(t, "1000"))
	exchange := market.NewSimExchange(prices, 0)

	// Engine over the simulated venues
	registry := engine.NewRegistry()
	eng := engine.NewEngine(engine.DefaultConfig(), registry, engine.NewLedger(), prices, pool, exchange, logger)
	eng.SetStores(repos.Position, repos.Event)
	eng.SetHub(hub)
	eng.Start()

	// Create services
	services := &TestServices{
		Position: service.NewPositionService(eng, repos.Position, repos.Event),
		Registry: service.NewRegistryService(registry, repos.Risk),
	}

	// Setup router
	deps := &api.Dependencies{
		PositionService: services.Position,
		RegistryService: services.Registry,
		Hub:             hub,
	}
	router := api.SetupRoutes(deps)

	// Create test server
	server := httptest.NewServer(router)

	cleanup := func() {
		server.Close()
		eng.Stop()
		hub.Stop()
		cleanupTestTables(db)
		dbCleanup()
	}

	return &TestServer{
		DB:       db,
		Router:   router,
		Server:   server,
		Hub:      hub,
		Engine:   eng,
		Prices:   prices,
		Pool:     pool,
		Repos:    repos,
		Services: services,
		Cleanup:  cleanup,
	}
}

// initTestTables creates or truncates tables for testing
func initTestTables(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id BIGINT NOT NULL,
			owner VARCHAR(100) NOT NULL,
			collateral_asset VARCHAR(20) NOT NULL,
			borrow_asset VARCHAR(20) NOT NULL,
			collateral_amount DECIMAL(36, 18) NOT NULL DEFAULT 0,
			borrow_amount DECIMAL(36, 18) NOT NULL DEFAULT 0,
			target_leverage_bps INT NOT NULL,
			rebalance_threshold_bps INT NOT NULL DEFAULT 200,
			stop_loss_price DECIMAL(36, 18) NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			opened_at TIMESTAMP NOT NULL DEFAULT NOW(),
			closed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (owner, id)
		)`,
		`CREATE TABLE IF NOT EXISTS collateral_configs (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) UNIQUE NOT NULL,
			ltv_bps INT NOT NULL,
			liq_threshold_bps INT NOT NULL,
			liq_bonus_bps INT NOT NULL,
			active BOOLEAN DEFAULT true,
			created_at TIMESTAMP DEFAULT NOW(),
			updated_at TIMESTAMP DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS borrow_asset_configs (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) UNIQUE NOT NULL,
			max_leverage_bps INT NOT NULL,
			active BOOLEAN DEFAULT true,
			created_at TIMESTAMP DEFAULT NOW(),
			updated_at TIMESTAMP DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS user_risk_limits (
			id SERIAL PRIMARY KEY,
			owner VARCHAR(100) UNIQUE NOT NULL,
			max_borrow_value DECIMAL(36, 18) NOT NULL,
			created_at TIMESTAMP DEFAULT NOW(),
			updated_at TIMESTAMP DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id SERIAL PRIMARY KEY,
			timestamp TIMESTAMP DEFAULT NOW(),
			type VARCHAR(50) NOT NULL,
			severity VARCHAR(10) DEFAULT 'info',
			owner VARCHAR(100) NOT NULL,
			position_id BIGINT,
			message TEXT NOT NULL,
			meta JSONB DEFAULT '{}'
		)`,
	}

	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// cleanupTestTables truncates all test tables
func cleanupTestTables(db *sql.DB) {
	tables := []string{
		"events",
		"positions",
		"user_risk_limits",
		"borrow_asset_configs",
		"collateral_configs",
	}

	for _, table := range tables {
		db.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
	}
}

// TruncateTable truncates a specific table for testing
func TruncateTable(db *sql.DB, tableName string) error {
	_, err := db.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", tableName))
	return err
}

// mustDecimal parses a decimal literal, failing the test on error
func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("invalid decimal %q: %v", s, err)
	}
	return d
}
