package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Engine   EngineConfig
	Keeper   KeeperConfig
	Market   MarketConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// EngineConfig - параметры ядра позиций
type EngineConfig struct {
	CloseFactorBps               int // доля долга, погашаемая одной ликвидацией
	MaxSlippageBps               int // допуск проскальзывания внутренних свопов
	DefaultRebalanceThresholdBps int // порог ребалансировки по умолчанию
	OpBuffer                     int // размер буфера журнала операций
}

// KeeperConfig - настройки кипер-сканеров
type KeeperConfig struct {
	LiquidationInterval time.Duration // интервал сканера ликвидаций
	RebalanceInterval   time.Duration // интервал сканера ребалансировок
	RatePerSec          float64       // лимит отправки операций в ядро
	Burst               float64       // burst лимитера
	MaxRetries          int           // повторы транзиентных ошибок
}

// MarketConfig - настройки рыночных площадок
//
// Если FeedURL задан, цены приходят из WebSocket фида. Иначе используется
// статичный источник из StaticPrices (для разработки и симуляции).
type MarketConfig struct {
	FeedURL        string
	Symbols        []string
	ReconnectDelay time.Duration
	MaxDelay       time.Duration
	ConnectTimeout time.Duration
	PingInterval   time.Duration

	// Символ=цена, например "WETH=2000,USDC=1"
	StaticPrices map[string]string
	// Символ=объем свободной ликвидности симулируемого пула
	SimLiquidity map[string]string
	// Комиссия симулируемой биржи
	SimFeeBps int
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "leverage"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Engine: EngineConfig{
			CloseFactorBps:               getEnvAsInt("CLOSE_FACTOR_BPS", 5000),
			MaxSlippageBps:               getEnvAsInt("MAX_SLIPPAGE_BPS", 100),
			DefaultRebalanceThresholdBps: getEnvAsInt("REBALANCE_THRESHOLD_BPS", 200),
			OpBuffer:                     getEnvAsInt("OP_BUFFER", 256),
		},
		Keeper: KeeperConfig{
			LiquidationInterval: getEnvAsDuration("LIQUIDATION_SCAN_INTERVAL", 5*time.Second),
			RebalanceInterval:   getEnvAsDuration("REBALANCE_SCAN_INTERVAL", 15*time.Second),
			RatePerSec:          getEnvAsFloat("KEEPER_RATE_PER_SEC", 5),
			Burst:               getEnvAsFloat("KEEPER_BURST", 10),
			MaxRetries:          getEnvAsInt("KEEPER_MAX_RETRIES", 2),
		},
		Market: MarketConfig{
			FeedURL:        getEnv("PRICE_FEED_URL", ""),
			Symbols:        getEnvAsList("PRICE_FEED_SYMBOLS", []string{"WETH", "USDC"}),
			ReconnectDelay: getEnvAsDuration("FEED_RECONNECT_DELAY", 1*time.Second),
			MaxDelay:       getEnvAsDuration("FEED_MAX_DELAY", 30*time.Second),
			ConnectTimeout: getEnvAsDuration("FEED_CONNECT_TIMEOUT", 10*time.Second),
			PingInterval:   getEnvAsDuration("FEED_PING_INTERVAL", 15*time.Second),
			StaticPrices:   getEnvAsMap("STATIC_PRICES", map[string]string{"WETH": "2000", "USDC": "1"}),
			SimLiquidity:   getEnvAsMap("SIM_LIQUIDITY", map[string]string{"WETH": "1000", "USDC": "1000000"}),
			SimFeeBps:      getEnvAsInt("SIM_FEE_BPS", 30),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Engine.CloseFactorBps < 1 || c.Engine.CloseFactorBps > 10000 {
		return fmt.Errorf("CLOSE_FACTOR_BPS must be between 1 and 10000, got %d", c.Engine.CloseFactorBps)
	}

	if c.Engine.MaxSlippageBps < 0 || c.Engine.MaxSlippageBps > 10000 {
		return fmt.Errorf("MAX_SLIPPAGE_BPS must be between 0 and 10000, got %d", c.Engine.MaxSlippageBps)
	}

	if c.Engine.DefaultRebalanceThresholdBps < 1 {
		return fmt.Errorf("REBALANCE_THRESHOLD_BPS must be positive, got %d", c.Engine.DefaultRebalanceThresholdBps)
	}

	if c.Engine.OpBuffer < 1 {
		return fmt.Errorf("OP_BUFFER must be positive, got %d", c.Engine.OpBuffer)
	}

	if c.Keeper.LiquidationInterval <= 0 {
		return fmt.Errorf("LIQUIDATION_SCAN_INTERVAL must be positive, got %v", c.Keeper.LiquidationInterval)
	}

	if c.Keeper.RebalanceInterval <= 0 {
		return fmt.Errorf("REBALANCE_SCAN_INTERVAL must be positive, got %v", c.Keeper.RebalanceInterval)
	}

	if c.Keeper.MaxRetries < 0 {
		return fmt.Errorf("KEEPER_MAX_RETRIES cannot be negative, got %d", c.Keeper.MaxRetries)
	}

	if c.Market.SimFeeBps < 0 || c.Market.SimFeeBps > 10000 {
		return fmt.Errorf("SIM_FEE_BPS must be between 0 and 10000, got %d", c.Market.SimFeeBps)
	}

	if c.Market.FeedURL != "" && len(c.Market.Symbols) == 0 {
		return fmt.Errorf("PRICE_FEED_SYMBOLS is required when PRICE_FEED_URL is set")
	}

	return nil
}

// UseFeed возвращает true, если цены приходят из WebSocket фида
func (m MarketConfig) UseFeed() bool {
	return m.FeedURL != ""
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList разбирает список значений, разделённых запятыми
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// getEnvAsMap разбирает пары "ключ=значение", разделённые запятыми
func getEnvAsMap(key string, defaultValue map[string]string) map[string]string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	result := make(map[string]string)
	for _, pair := range strings.Split(valueStr, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			continue
		}
		result[strings.ToUpper(kv[0])] = kv[1]
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
