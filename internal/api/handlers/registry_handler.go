package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"leverage/internal/engine"
	"leverage/internal/models"
	"leverage/internal/service"
	"leverage/pkg/utils"
)

// RegistryHandler отвечает за управление риск-реестром
//
// Endpoints:
// - GET /api/v1/registry/collateral            - список залоговых активов
// - PUT /api/v1/registry/collateral            - добавление/обновление залогового актива
// - GET /api/v1/registry/borrow-assets         - список заёмных активов
// - PUT /api/v1/registry/borrow-assets         - добавление/обновление заёмного актива
// - GET /api/v1/registry/limits                - список пользовательских лимитов
// - PUT /api/v1/registry/limits/{owner}        - установка лимита владельца
// - DELETE /api/v1/registry/limits/{owner}     - снятие лимита владельца
type RegistryHandler struct {
	registryService service.RegistryServiceInterface
}

// NewRegistryHandler создает новый RegistryHandler с внедрением зависимостей
func NewRegistryHandler(registryService service.RegistryServiceInterface) *RegistryHandler {
	return &RegistryHandler{
		registryService: registryService,
	}
}

// SetCollateralRequest структура запроса на обновление залогового актива
type SetCollateralRequest struct {
	Symbol          string `json:"symbol"`
	LTVBps          int    `json:"ltv_bps"`
	LiqThresholdBps int    `json:"liq_threshold_bps"`
	LiqBonusBps     int    `json:"liq_bonus_bps"`
	Active          *bool  `json:"active"` // nil = true
}

// SetBorrowAssetRequest структура запроса на обновление заёмного актива
type SetBorrowAssetRequest struct {
	Symbol         string `json:"symbol"`
	MaxLeverageBps int    `json:"max_leverage_bps"`
	Active         *bool  `json:"active"` // nil = true
}

// SetUserLimitRequest структура запроса на установку лимита владельца
type SetUserLimitRequest struct {
	MaxBorrowValue decimal.Decimal `json:"max_borrow_value"`
}

// GetCollateral возвращает все залоговые активы реестра
// GET /api/v1/registry/collateral
func (h *RegistryHandler) GetCollateral(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.registryService.ListCollateral())
}

// SetCollateral добавляет или обновляет залоговый актив
// PUT /api/v1/registry/collateral
//
// Request Body:
//
//	{
//	  "symbol": "WETH",
//	  "ltv_bps": 8000,
//	  "liq_threshold_bps": 8500,
//	  "liq_bonus_bps": 10500
//	}
//
// Response:
// - 200 OK: сохранённая конфигурация
// - 400 Bad Request: невалидные параметры
func (h *RegistryHandler) SetCollateral(w http.ResponseWriter, r *http.Request) {
	var req SetCollateralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	cfg, err := h.registryService.SetCollateral(r.Context(), models.CollateralConfig{
		Symbol:          req.Symbol,
		LTVBps:          req.LTVBps,
		LiqThresholdBps: req.LiqThresholdBps,
		LiqBonusBps:     req.LiqBonusBps,
		Active:          req.Active == nil || *req.Active,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, cfg)
}

// GetBorrowAssets возвращает все заёмные активы реестра
// GET /api/v1/registry/borrow-assets
func (h *RegistryHandler) GetBorrowAssets(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.registryService.ListBorrowAssets())
}

// SetBorrowAsset добавляет или обновляет заёмный актив
// PUT /api/v1/registry/borrow-assets
func (h *RegistryHandler) SetBorrowAsset(w http.ResponseWriter, r *http.Request) {
	var req SetBorrowAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	cfg, err := h.registryService.SetBorrowAsset(r.Context(), models.BorrowAssetConfig{
		Symbol:         req.Symbol,
		MaxLeverageBps: req.MaxLeverageBps,
		Active:         req.Active == nil || *req.Active,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, cfg)
}

// GetUserLimits возвращает все пользовательские лимиты
// GET /api/v1/registry/limits
func (h *RegistryHandler) GetUserLimits(w http.ResponseWriter, r *http.Request) {
	limits, err := h.registryService.ListUserLimits(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Failed to list limits", err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, limits)
}

// SetUserLimit устанавливает лимит суммарного долга владельца
// PUT /api/v1/registry/limits/{owner}
//
// Request Body:
//
//	{
//	  "max_borrow_value": "50000"
//	}
func (h *RegistryHandler) SetUserLimit(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]

	var req SetUserLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	if err := h.registryService.SetUserLimit(r.Context(), owner, req.MaxBorrowValue); err != nil {
		h.handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "limit updated"})
}

// RemoveUserLimit снимает лимит владельца
// DELETE /api/v1/registry/limits/{owner}
func (h *RegistryHandler) RemoveUserLimit(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]

	if err := h.registryService.RemoveUserLimit(r.Context(), owner); err != nil {
		h.handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "limit removed"})
}

// handleServiceError транслирует ошибки реестра в HTTP статусы
func (h *RegistryHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrSymbolEmpty),
		errors.Is(err, service.ErrOwnerEmpty),
		errors.Is(err, service.ErrInvalidLimit),
		errors.Is(err, utils.ErrInvalidOwner),
		errors.Is(err, engine.ErrInvalidConfig):
		respondWithError(w, http.StatusBadRequest, "invalid_config", "Invalid registry parameters", err.Error())

	default:
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal server error", err.Error())
	}
}
