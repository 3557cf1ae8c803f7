package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"leverage/internal/engine"
	"leverage/internal/service"
)

// PositionHandler отвечает за управление плечевыми позициями
//
// Endpoints:
// - POST /api/v1/positions/{owner}                     - открытие позиции
// - GET /api/v1/positions/{owner}                      - список позиций владельца
// - GET /api/v1/positions/{owner}/{id}                 - позиция со снимком здоровья
// - POST /api/v1/positions/{owner}/{id}/close          - закрытие позиции
// - PATCH /api/v1/positions/{owner}/{id}               - изменение целевого плеча
// - POST /api/v1/positions/{owner}/{id}/collateral     - довнесение залога
// - POST /api/v1/positions/{owner}/{id}/withdraw       - вывод свободного залога
// - PUT /api/v1/positions/{owner}/{id}/stop-loss       - установка стоп-цены
// - POST /api/v1/positions/{owner}/{id}/stop-loss/trigger - исполнение стоп-лосса
// - PUT /api/v1/positions/{owner}/{id}/threshold       - порог ребалансировки
// - POST /api/v1/positions/{owner}/{id}/rebalance      - ручная ребалансировка
// - POST /api/v1/positions/{owner}/{id}/liquidate      - ликвидация
// - GET /api/v1/positions/{owner}/{id}/events          - события позиции
// - GET /api/v1/positions                              - все активные позиции
// - GET /api/v1/events                                 - последние события
type PositionHandler struct {
	positionService service.PositionServiceInterface
}

// NewPositionHandler создает новый PositionHandler с внедрением зависимостей
func NewPositionHandler(positionService service.PositionServiceInterface) *PositionHandler {
	return &PositionHandler{
		positionService: positionService,
	}
}

// OpenPositionRequest структура запроса на открытие позиции
type OpenPositionRequest struct {
	CollateralAsset       string          `json:"collateral_asset"`        // WETH
	BorrowAsset           string          `json:"borrow_asset"`            // USDC
	CollateralAmount      decimal.Decimal `json:"collateral_amount"`       // объем залога
	TargetLeverageBps     int             `json:"target_leverage_bps"`     // 20000 = 2x
	MinBorrowAmount       decimal.Decimal `json:"min_borrow_amount"`       // защита от проскальзывания (опционально)
	RebalanceThresholdBps int             `json:"rebalance_threshold_bps"` // 0 = значение по умолчанию
	StopLossPrice         decimal.Decimal `json:"stop_loss_price"`         // 0 = без stop-loss
}

// ClosePositionRequest структура запроса на закрытие позиции
type ClosePositionRequest struct {
	MinCollateralOut decimal.Decimal `json:"min_collateral_out"` // защита от проскальзывания
}

// AdjustPositionRequest структура запроса на изменение плеча
type AdjustPositionRequest struct {
	TargetLeverageBps int `json:"target_leverage_bps"`
}

// CollateralRequest структура запроса на довнесение или вывод залога
type CollateralRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// StopLossRequest структура запроса на установку стоп-цены
type StopLossRequest struct {
	Price decimal.Decimal `json:"price"` // ноль снимает stop-loss
}

// ThresholdRequest структура запроса на изменение порога ребалансировки
type ThresholdRequest struct {
	ThresholdBps int `json:"threshold_bps"`
}

// LiquidateRequest структура запроса на ликвидацию
type LiquidateRequest struct {
	Liquidator  string          `json:"liquidator"`
	DebtToCover decimal.Decimal `json:"debt_to_cover"`
}

// OpenPosition открывает плечевую позицию
// POST /api/v1/positions/{owner}
//
// Request Body:
//
//	{
//	  "collateral_asset": "WETH",
//	  "borrow_asset": "USDC",
//	  "collateral_amount": "1.5",
//	  "target_leverage_bps": 20000,
//	  "stop_loss_price": "1500"
//	}
//
// Response:
// - 201 Created: позиция открыта
// - 400 Bad Request: невалидные параметры
// - 409 Conflict: превышен лимит заимствования или проскальзывание
func (h *PositionHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]

	var req OpenPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	pos, err := h.positionService.Open(r.Context(), owner, engine.OpenParams{
		CollateralAsset:       req.CollateralAsset,
		BorrowAsset:           req.BorrowAsset,
		CollateralAmount:      req.CollateralAmount,
		TargetLeverageBps:     req.TargetLeverageBps,
		MinBorrowAmount:       req.MinBorrowAmount,
		RebalanceThresholdBps: req.RebalanceThresholdBps,
		StopLossPrice:         req.StopLossPrice,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, pos)
}

// GetPositions возвращает все позиции владельца
// GET /api/v1/positions/{owner}
func (h *PositionHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]

	details, err := h.positionService.List(r.Context(), owner)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Failed to list positions", err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, details)
}

// GetActivePositions возвращает все активные позиции по всем владельцам
// GET /api/v1/positions
func (h *PositionHandler) GetActivePositions(w http.ResponseWriter, r *http.Request) {
	details, err := h.positionService.ListActive(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Failed to list positions", err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, details)
}

// GetPosition возвращает позицию со снимком здоровья
// GET /api/v1/positions/{owner}/{id}
//
// Response:
// - 200 OK: позиция и health snapshot
// - 404 Not Found: позиция не найдена
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := h.positionVars(w, r)
	if !ok {
		return
	}

	detail, err := h.positionService.Get(r.Context(), owner, id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, detail)
}

// ClosePosition закрывает позицию с возвратом остатка залога
// POST /api/v1/positions/{owner}/{id}/close
//
// Response:
// - 200 OK: результат закрытия
// - 404 Not Found: позиция не найдена
// - 409 Conflict: позиция уже не активна или проскальзывание
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := h.positionVars(w, r)
	if !ok {
		return
	}

	var req ClosePositionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
			return
		}
	}

	res, err := h.positionService.Close(r.Context(), owner, id, req.MinCollateralOut)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, res)
}

// AdjustPosition изменяет целевое плечо позиции
// PATCH /api/v1/positions/{owner}/{id}
func (h *PositionHandler) AdjustPosition(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := h.positionVars(w, r)
	if !ok {
		return
	}

	var req AdjustPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	pos, err := h.positionService.Adjust(r.Context(), owner, id, req.TargetLeverageBps)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, pos)
}

// AddCollateral довносит залог в активную позицию
// POST /api/v1/positions/{owner}/{id}/collateral
func (h *PositionHandler) AddCollateral(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := h.positionVars(w, r)
	if !ok {
		return
	}

	var req CollateralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	pos, err := h.positionService.AddCollateral(r.Context(), owner, id, req.Amount)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, pos)
}

// WithdrawCollateral выводит свободный залог из активной позиции
// POST /api/v1/positions/{owner}/{id}/withdraw
//
// Response:
// - 200 OK: позиция после вывода
// - 409 Conflict: вывод сделал бы позицию небезопасной
func (h *PositionHandler) WithdrawCollateral(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := h.positionVars(w, r)
	if !ok {
		return
	}

	var req CollateralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	pos, err := h.positionService.WithdrawCollateral(r.Context(), owner, id, req.Amount)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, pos)
}

// SetStopLoss устанавливает или снимает стоп-цену позиции
// PUT /api/v1/positions/{owner}/{id}/stop-loss
func (h *PositionHandler) SetStopLoss(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := h.positionVars(w, r)
	if !ok {
		return
	}

	var req StopLossRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	if err := h.positionService.SetStopLoss(r.Context(), owner, id, req.Price); err != nil {
		h.handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "stop-loss updated"})
}

// SetThreshold изменяет порог ребалансировки позиции
// PUT /api/v1/positions/{owner}/{id}/threshold
func (h *PositionHandler) SetThreshold(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := h.positionVars(w, r)
	if !ok {
		return
	}

	var req ThresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	if err := h.positionService.SetRebalanceThreshold(r.Context(), owner, id, req.ThresholdBps); err != nil {
		h.handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "threshold updated"})
}

// RebalancePosition выполняет ручную ребалансировку позиции
// POST /api/v1/positions/{owner}/{id}/rebalance
//
// Response:
// - 200 OK: позиция после ребалансировки
// - 409 Conflict: дрейф плеча в пределах порога
func (h *PositionHandler) RebalancePosition(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := h.positionVars(w, r)
	if !ok {
		return
	}

	pos, err := h.positionService.Rebalance(r.Context(), "api", owner, id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, pos)
}

// TriggerStopLoss исполняет сработавший stop-loss от имени внешнего кипера
// POST /api/v1/positions/{owner}/{id}/stop-loss/trigger
//
// Response:
// - 200 OK: результат закрытия
// - 409 Conflict: stop-loss не установлен или цена выше триггера
func (h *PositionHandler) TriggerStopLoss(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := h.positionVars(w, r)
	if !ok {
		return
	}

	res, err := h.positionService.TriggerStopLoss(r.Context(), "api", owner, id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, res)
}

// LiquidatePosition выполняет ликвидацию небезопасной позиции
// POST /api/v1/positions/{owner}/{id}/liquidate
//
// Request Body:
//
//	{
//	  "liquidator": "liq-bot-1",
//	  "debt_to_cover": "1000"
//	}
//
// Response:
// - 200 OK: результат ликвидации
// - 409 Conflict: позиция здорова
func (h *PositionHandler) LiquidatePosition(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := h.positionVars(w, r)
	if !ok {
		return
	}

	var req LiquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}
	if req.Liquidator == "" {
		req.Liquidator = "api"
	}

	res, err := h.positionService.Liquidate(r.Context(), req.Liquidator, owner, id, req.DebtToCover)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, res)
}

// GetPositionEvents возвращает события конкретной позиции
// GET /api/v1/positions/{owner}/{id}/events?limit=50
func (h *PositionHandler) GetPositionEvents(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := h.positionVars(w, r)
	if !ok {
		return
	}

	events, err := h.positionService.PositionEvents(r.Context(), owner, id, queryLimit(r))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Failed to get events", err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, events)
}

// GetOwnerEvents возвращает события владельца
// GET /api/v1/positions/{owner}/events?limit=50
func (h *PositionHandler) GetOwnerEvents(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]

	events, err := h.positionService.Events(r.Context(), owner, queryLimit(r))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Failed to get events", err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, events)
}

// GetRecentEvents возвращает последние события по всем владельцам
// GET /api/v1/events?limit=100
func (h *PositionHandler) GetRecentEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.positionService.RecentEvents(r.Context(), queryLimit(r))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Failed to get events", err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, events)
}

// ============ Helper методы ============

func (h *PositionHandler) positionVars(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	vars := mux.Vars(r)
	owner := vars["owner"]

	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_id", "Invalid position ID", "ID must be a number")
		return "", 0, false
	}

	return owner, id, true
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return limit
}

// handleServiceError транслирует ошибки ядра в HTTP статусы
func (h *PositionHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrPositionNotFound), errors.Is(err, service.ErrPositionNotFound):
		respondWithError(w, http.StatusNotFound, "position_not_found", "Position not found", "")

	case errors.Is(err, engine.ErrPositionNotActive):
		respondWithError(w, http.StatusConflict, "position_not_active", "Position is not active", "")

	case errors.Is(err, engine.ErrAssetNotSupported):
		respondWithError(w, http.StatusBadRequest, "asset_not_supported", "Asset is not supported or inactive", err.Error())

	case errors.Is(err, engine.ErrLeverageTooHigh):
		respondWithError(w, http.StatusBadRequest, "leverage_too_high", "Target leverage exceeds asset maximum", err.Error())

	case errors.Is(err, engine.ErrInvalidAmount):
		respondWithError(w, http.StatusBadRequest, "invalid_amount", "Amount must be positive", err.Error())

	case errors.Is(err, engine.ErrInvalidConfig):
		respondWithError(w, http.StatusBadRequest, "invalid_config", "Invalid position parameters", err.Error())

	case errors.Is(err, engine.ErrExceedsBorrowLimit):
		respondWithError(w, http.StatusConflict, "borrow_limit_exceeded", "Borrow limit for user exceeded", err.Error())

	case errors.Is(err, engine.ErrSlippageExceeded):
		respondWithError(w, http.StatusConflict, "slippage_exceeded", "Operation rolled back due to slippage", err.Error())

	case errors.Is(err, engine.ErrPositionHealthy):
		respondWithError(w, http.StatusConflict, "position_healthy", "Position health factor is above liquidation threshold", err.Error())

	case errors.Is(err, engine.ErrRebalanceNotNeeded):
		respondWithError(w, http.StatusConflict, "rebalance_not_needed", "Leverage drift is within threshold", "")

	case errors.Is(err, engine.ErrWithdrawUnsafe):
		respondWithError(w, http.StatusConflict, "withdraw_unsafe", "Withdraw would make position unsafe", err.Error())

	case errors.Is(err, engine.ErrStopLossNotTriggered):
		respondWithError(w, http.StatusConflict, "stop_loss_not_triggered", "Stop-loss is not set or price is above trigger", "")

	case errors.Is(err, engine.ErrEngineStopped):
		respondWithError(w, http.StatusServiceUnavailable, "engine_stopped", "Position engine is shutting down", "")

	default:
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal server error", err.Error())
	}
}
