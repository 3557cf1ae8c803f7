package market

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"leverage/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FeedConfig конфигурация подключения к ценовому фиду
type FeedConfig struct {
	// URL WebSocket фида
	URL string
	// Символы для подписки
	Symbols []string
	// Начальная задержка перед переподключением
	InitialDelay time.Duration
	// Максимальная задержка (после exponential backoff)
	MaxDelay time.Duration
	// Максимальное количество попыток (0 = бесконечно)
	MaxRetries int
	// Таймаут подключения
	ConnectTimeout time.Duration
	// Интервал ping для проверки соединения
	PingInterval time.Duration
	// Таймаут ожидания pong
	PongTimeout time.Duration
	// Возраст котировки, после которого она считается протухшей
	StaleAfter time.Duration
}

// DefaultFeedConfig возвращает конфигурацию по умолчанию
func DefaultFeedConfig(url string, symbols []string) FeedConfig {
	return FeedConfig{
		URL:            url,
		Symbols:        symbols,
		InitialDelay:   2 * time.Second,
		MaxDelay:       16 * time.Second,
		MaxRetries:     10,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    10 * time.Second,
		StaleAfter:     2 * time.Minute,
	}
}

// FeedState состояние соединения с фидом
type FeedState int32

const (
	FeedDisconnected FeedState = iota
	FeedConnecting
	FeedConnected
	FeedReconnecting
	FeedClosed
)

func (s FeedState) String() string {
	switch s {
	case FeedDisconnected:
		return "disconnected"
	case FeedConnecting:
		return "connecting"
	case FeedConnected:
		return "connected"
	case FeedReconnecting:
		return "reconnecting"
	case FeedClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// priceUpdate - сообщение фида с новой ценой
type priceUpdate struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	TsMs   int64  `json:"ts"`
}

// subscribeRequest - запрос подписки на символы
type subscribeRequest struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// Feed - источник цен поверх WebSocket фида с автоматическим
// переподключением и exponential backoff.
//
// Держит последнюю котировку каждого символа. GetPrice возвращает
// ErrPriceUnavailable если котировки нет или она старше StaleAfter.
type Feed struct {
	config FeedConfig
	logger *utils.Logger

	conn   *websocket.Conn
	connMu sync.RWMutex

	state      int32 // atomic FeedState
	retryCount int32 // atomic

	closeChan chan struct{}

	quotesMu sync.RWMutex
	quotes   map[string]Quote
}

// NewFeed создаёт фид без подключения
func NewFeed(config FeedConfig, logger *utils.Logger) *Feed {
	return &Feed{
		config:    config,
		logger:    logger.WithComponent("pricefeed"),
		closeChan: make(chan struct{}),
		quotes:    make(map[string]Quote),
	}
}

// State возвращает текущее состояние соединения
func (f *Feed) State() FeedState {
	return FeedState(atomic.LoadInt32(&f.state))
}

// IsConnected проверяет, установлено ли соединение
func (f *Feed) IsConnected() bool {
	return f.State() == FeedConnected
}

// GetPrice возвращает последнюю известную цену актива
func (f *Feed) GetPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	f.quotesMu.RLock()
	q, ok := f.quotes[symbol]
	f.quotesMu.RUnlock()

	if !ok {
		return decimal.Zero, &MarketError{
			Venue:    "pricefeed",
			Op:       "price",
			Message:  "нет котировки для " + symbol,
			Original: ErrPriceUnavailable,
		}
	}
	if f.config.StaleAfter > 0 && time.Since(q.Timestamp) > f.config.StaleAfter {
		return decimal.Zero, &MarketError{
			Venue:    "pricefeed",
			Op:       "price",
			Message:  "котировка " + symbol + " протухла",
			Original: ErrPriceUnavailable,
		}
	}
	return q.Price, nil
}

// Quote возвращает последнюю котировку с временем наблюдения
func (f *Feed) Quote(symbol string) (Quote, bool) {
	f.quotesMu.RLock()
	q, ok := f.quotes[symbol]
	f.quotesMu.RUnlock()
	return q, ok
}

// Connect устанавливает соединение с фидом
func (f *Feed) Connect() error {
	select {
	case <-f.closeChan:
		return fmt.Errorf("feed is closed")
	default:
	}

	atomic.StoreInt32(&f.state, int32(FeedConnecting))

	if err := f.dial(); err != nil {
		atomic.StoreInt32(&f.state, int32(FeedDisconnected))
		return err
	}

	atomic.StoreInt32(&f.state, int32(FeedConnected))
	atomic.StoreInt32(&f.retryCount, 0)

	go f.readPump()
	go f.pingPump()

	f.logger.Info("фид подключен", zap.String("url", f.config.URL))
	return nil
}

// dial выполняет подключение и подписку на символы
func (f *Feed) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), f.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: f.config.ConnectTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, f.config.URL, nil)
	if err != nil {
		return fmt.Errorf("dial error: %w", err)
	}

	if len(f.config.Symbols) > 0 {
		sub := subscribeRequest{Op: "subscribe", Symbols: f.config.Symbols}
		if err := conn.WriteJSON(sub); err != nil {
			conn.Close()
			return fmt.Errorf("subscribe error: %w", err)
		}
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	return nil
}

// readPump читает обновления цен из WebSocket
func (f *Feed) readPump() {
	for {
		select {
		case <-f.closeChan:
			return
		default:
		}

		f.connMu.RLock()
		conn := f.conn
		f.connMu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			f.handleDisconnect(err)
			return
		}

		f.apply(message)
	}
}

// apply разбирает сообщение фида и обновляет таблицу котировок
func (f *Feed) apply(message []byte) {
	var upd priceUpdate
	if err := json.Unmarshal(message, &upd); err != nil {
		f.logger.Warn("нечитаемое сообщение фида", zap.Error(err))
		return
	}
	if upd.Symbol == "" {
		return
	}

	price, err := decimal.NewFromString(upd.Price)
	if err != nil || !price.IsPositive() {
		f.logger.Warn("некорректная цена в сообщении фида",
			zap.String("symbol", upd.Symbol),
			zap.String("price", upd.Price))
		return
	}

	ts := time.Now()
	if upd.TsMs > 0 {
		ts = time.UnixMilli(upd.TsMs)
	}

	f.quotesMu.Lock()
	f.quotes[upd.Symbol] = Quote{Symbol: upd.Symbol, Price: price, Timestamp: ts}
	f.quotesMu.Unlock()
}

// pingPump отправляет ping для проверки соединения
func (f *Feed) pingPump() {
	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.closeChan:
			return
		case <-ticker.C:
			f.connMu.RLock()
			conn := f.conn
			f.connMu.RUnlock()

			if conn == nil || f.State() != FeedConnected {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(f.config.PongTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.logger.Warn("ошибка ping", zap.Error(err))
				f.handleDisconnect(err)
				return
			}
		}
	}
}

// handleDisconnect обрабатывает разрыв соединения
func (f *Feed) handleDisconnect(err error) {
	select {
	case <-f.closeChan:
		return
	default:
	}

	// Избегаем повторной обработки
	state := f.State()
	if state == FeedReconnecting || state == FeedClosed {
		return
	}

	atomic.StoreInt32(&f.state, int32(FeedReconnecting))

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connMu.Unlock()

	if err != nil {
		f.logger.Warn("фид отключен", zap.Error(err))
	}

	go f.reconnectLoop()
}

// reconnectLoop выполняет переподключение с exponential backoff
func (f *Feed) reconnectLoop() {
	delay := f.config.InitialDelay

	for {
		select {
		case <-f.closeChan:
			return
		default:
		}

		retryCount := atomic.AddInt32(&f.retryCount, 1)

		if f.config.MaxRetries > 0 && int(retryCount) > f.config.MaxRetries {
			f.logger.Error("исчерпаны попытки переподключения",
				zap.Int("max_retries", f.config.MaxRetries))
			atomic.StoreInt32(&f.state, int32(FeedDisconnected))
			return
		}

		f.logger.Info("переподключение к фиду",
			zap.Duration("delay", delay),
			zap.Int32("attempt", retryCount))

		select {
		case <-f.closeChan:
			return
		case <-time.After(delay):
		}

		if err := f.dial(); err != nil {
			f.logger.Warn("переподключение не удалось", zap.Error(err))

			delay = delay * 2
			if delay > f.config.MaxDelay {
				delay = f.config.MaxDelay
			}
			continue
		}

		atomic.StoreInt32(&f.state, int32(FeedConnected))
		atomic.StoreInt32(&f.retryCount, 0)

		f.logger.Info("фид переподключен")

		go f.readPump()
		go f.pingPump()

		return
	}
}

// Close закрывает соединение и останавливает переподключение
func (f *Feed) Close() error {
	select {
	case <-f.closeChan:
		return nil
	default:
		close(f.closeChan)
	}

	atomic.StoreInt32(&f.state, int32(FeedClosed))

	f.connMu.Lock()
	defer f.connMu.Unlock()

	if f.conn != nil {
		err := f.conn.Close()
		f.conn = nil
		return err
	}

	return nil
}
