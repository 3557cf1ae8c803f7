package utils

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger.go - настройка структурированного логирования (zap)
//
// Назначение:
// Единая инициализация логгера для всех компонентов: движок позиций,
// сканеры, API middleware, main.
//
// Возможности:
// - Выбор формата (json, text)
// - Уровни: debug, info, warn, error, fatal
// - Вывод в stderr или в файл (Output)
// - Глобальный логгер для мест, где DI неудобен (middleware)

// LogConfig - конфигурация логгера
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json или text
	Output      string // путь к файлу; пусто = stderr
	Development bool   // режим разработки (caller в логах)
}

// Logger - обёртка над zap.Logger с доменными helper'ами
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

var (
	globalMu     sync.Mutex
	globalLogger *Logger
)

// InitLogger создает логгер из конфигурации.
// Никогда не возвращает nil и не паникует: при ошибке открытия файла
// происходит fallback на stderr.
func InitLogger(cfg LogConfig) *Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "text", "console":
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	default:
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	sink := zapcore.AddSync(os.Stderr)
	if cfg.Output != "" {
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			sink = zapcore.AddSync(file)
		}
		// при ошибке остаёмся на stderr
	}

	core := zapcore.NewCore(encoder, sink, parseLevel(cfg.Level))

	var opts []zap.Option
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddCaller())
	}

	zl := zap.New(core, opts...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// parseLevel преобразует строку уровня в zapcore.Level.
// Неизвестные значения дают InfoLevel.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// With возвращает новый логгер с дополнительными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	zl := l.Logger.With(fields...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// Sugar возвращает SugaredLogger для printf-style логирования
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============ Доменные helper'ы ============

// WithComponent добавляет поле component (engine, scanner, api, ...)
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(zap.String("component", name))
}

// WithAsset добавляет поле asset
func (l *Logger) WithAsset(asset string) *Logger {
	return l.With(zap.String("asset", asset))
}

// WithOwner добавляет поле owner (аккаунт владельца позиции)
func (l *Logger) WithOwner(owner string) *Logger {
	return l.With(zap.String("owner", owner))
}

// WithPositionID добавляет поле position_id
func (l *Logger) WithPositionID(id int64) *Logger {
	return l.With(zap.Int64("position_id", id))
}

// ============ Глобальный логгер ============

// InitGlobalLogger инициализирует и устанавливает глобальный логгер
func InitGlobalLogger(cfg LogConfig) *Logger {
	logger := InitLogger(cfg)
	SetGlobalLogger(logger)
	return logger
}

// SetGlobalLogger устанавливает глобальный логгер
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// GetGlobalLogger возвращает глобальный логгер.
// Если логгер не был инициализирован, создает логгер по умолчанию.
func GetGlobalLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// L - короткий алиас для GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// Debug логирует через глобальный логгер
func Debug(msg string, fields ...zap.Field) {
	GetGlobalLogger().Logger.Debug(msg, fields...)
}

// Info логирует через глобальный логгер
func Info(msg string, fields ...zap.Field) {
	GetGlobalLogger().Logger.Info(msg, fields...)
}

// Warn логирует через глобальный логгер
func Warn(msg string, fields ...zap.Field) {
	GetGlobalLogger().Logger.Warn(msg, fields...)
}

// Error логирует через глобальный логгер
func Error(msg string, fields ...zap.Field) {
	GetGlobalLogger().Logger.Error(msg, fields...)
}
