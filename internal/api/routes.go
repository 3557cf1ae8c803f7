package api

import (
	"net/http"
	"net/http/pprof"

	"leverage/internal/api/handlers"
	"leverage/internal/api/middleware"
	"leverage/internal/service"
	"leverage/internal/websocket"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	PositionService service.PositionServiceInterface
	RegistryService service.RegistryServiceInterface
	Hub             *websocket.Hub
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Назначение:
// Центральное место для определения всех API endpoints.
// Регистрирует handlers для каждого маршрута.
// Применяет middleware к группам маршрутов.
// Организует версионирование API (v1).
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /positions/
//	│   ├── GET / - все активные позиции
//	│   ├── POST /{owner} - открыть позицию
//	│   ├── GET /{owner} - позиции владельца
//	│   ├── GET /{owner}/events - события владельца
//	│   ├── GET /{owner}/{id} - позиция со снимком здоровья
//	│   ├── PATCH /{owner}/{id} - изменить целевое плечо
//	│   ├── POST /{owner}/{id}/collateral - довнести залог
//	│   ├── POST /{owner}/{id}/withdraw - вывести свободный залог
//	│   ├── POST /{owner}/{id}/close - закрыть позицию
//	│   ├── PUT /{owner}/{id}/stop-loss - установить стоп-цену
//	│   ├── POST /{owner}/{id}/stop-loss/trigger - исполнить стоп-лосс
//	│   ├── PUT /{owner}/{id}/threshold - порог ребалансировки
//	│   ├── POST /{owner}/{id}/rebalance - ручная ребалансировка
//	│   ├── POST /{owner}/{id}/liquidate - ликвидация
//	│   └── GET /{owner}/{id}/events - события позиции
//	├── /events/
//	│   └── GET / - последние события
//	└── /registry/ (AdminAuth на мутациях)
//	    ├── GET /collateral - залоговые активы
//	    ├── PUT /collateral - обновить залоговый актив
//	    ├── GET /borrow-assets - заёмные активы
//	    ├── PUT /borrow-assets - обновить заёмный актив
//	    ├── GET /limits - пользовательские лимиты
//	    ├── PUT /limits/{owner} - установить лимит
//	    └── DELETE /limits/{owner} - снять лимит
//
// /ws/
//
//	└── /stream - WebSocket для real-time обновлений
//
// /metrics - Prometheus метрики
//
// /debug/pprof/* - профилирование (DebugAuth)
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. AdminAuth (только для мутаций реестра)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	// Создание handlers с внедрением зависимостей
	var positionHandler *handlers.PositionHandler
	if deps != nil && deps.PositionService != nil {
		positionHandler = handlers.NewPositionHandler(deps.PositionService)
	}

	var registryHandler *handlers.RegistryHandler
	if deps != nil && deps.RegistryService != nil {
		registryHandler = handlers.NewRegistryHandler(deps.RegistryService)
	}

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	// Position routes
	if positionHandler != nil {
		api.HandleFunc("/positions", positionHandler.GetActivePositions).Methods("GET")
		api.HandleFunc("/positions/{owner}", positionHandler.OpenPosition).Methods("POST")
		api.HandleFunc("/positions/{owner}", positionHandler.GetPositions).Methods("GET")
		api.HandleFunc("/positions/{owner}/events", positionHandler.GetOwnerEvents).Methods("GET")
		api.HandleFunc("/positions/{owner}/{id:[0-9]+}", positionHandler.GetPosition).Methods("GET")
		api.HandleFunc("/positions/{owner}/{id:[0-9]+}", positionHandler.AdjustPosition).Methods("PATCH")
		api.HandleFunc("/positions/{owner}/{id:[0-9]+}/collateral", positionHandler.AddCollateral).Methods("POST")
		api.HandleFunc("/positions/{owner}/{id:[0-9]+}/withdraw", positionHandler.WithdrawCollateral).Methods("POST")
		api.HandleFunc("/positions/{owner}/{id:[0-9]+}/close", positionHandler.ClosePosition).Methods("POST")
		api.HandleFunc("/positions/{owner}/{id:[0-9]+}/stop-loss", positionHandler.SetStopLoss).Methods("PUT")
		api.HandleFunc("/positions/{owner}/{id:[0-9]+}/stop-loss/trigger", positionHandler.TriggerStopLoss).Methods("POST")
		api.HandleFunc("/positions/{owner}/{id:[0-9]+}/threshold", positionHandler.SetThreshold).Methods("PUT")
		api.HandleFunc("/positions/{owner}/{id:[0-9]+}/rebalance", positionHandler.RebalancePosition).Methods("POST")
		api.HandleFunc("/positions/{owner}/{id:[0-9]+}/liquidate", positionHandler.LiquidatePosition).Methods("POST")
		api.HandleFunc("/positions/{owner}/{id:[0-9]+}/events", positionHandler.GetPositionEvents).Methods("GET")
		api.HandleFunc("/events", positionHandler.GetRecentEvents).Methods("GET")
	}

	// Registry routes: чтение открыто, мутации за AdminAuth
	if registryHandler != nil {
		api.HandleFunc("/registry/collateral", registryHandler.GetCollateral).Methods("GET")
		api.HandleFunc("/registry/borrow-assets", registryHandler.GetBorrowAssets).Methods("GET")
		api.HandleFunc("/registry/limits", registryHandler.GetUserLimits).Methods("GET")

		admin := api.PathPrefix("/registry").Subrouter()
		admin.Use(middleware.AdminAuth)
		admin.HandleFunc("/collateral", registryHandler.SetCollateral).Methods("PUT")
		admin.HandleFunc("/borrow-assets", registryHandler.SetBorrowAsset).Methods("PUT")
		admin.HandleFunc("/limits/{owner}", registryHandler.SetUserLimit).Methods("PUT")
		admin.HandleFunc("/limits/{owner}", registryHandler.RemoveUserLimit).Methods("DELETE")
	}

	// WebSocket route
	if deps != nil && deps.Hub != nil {
		hub := deps.Hub
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, w, r)
		})
	}

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// pprof за DebugAuth (в production требует DEBUG_USERNAME/DEBUG_PASSWORD)
	debug := router.PathPrefix("/debug/pprof").Subrouter()
	debug.Use(middleware.DebugAuth)
	debug.HandleFunc("/cmdline", pprof.Cmdline)
	debug.HandleFunc("/profile", pprof.Profile)
	debug.HandleFunc("/symbol", pprof.Symbol)
	debug.HandleFunc("/trace", pprof.Trace)
	debug.PathPrefix("/").HandlerFunc(pprof.Index)

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
