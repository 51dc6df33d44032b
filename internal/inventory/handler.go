package inventory

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/siddharthggs/mediggs-sub000/internal/platform/httpx"
	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

// Handler wires JSON endpoints for the stock ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balance", h.handleBalance)
	r.Get("/movements", h.handleMovements)
	r.Post("/movements", h.handleRecord)
	r.Post("/allocate", h.handleAllocate)
	r.Get("/batches", h.handleBatches)
	r.Post("/batches", h.handleReceive)
	r.Post("/transfers", h.handleTransfer)
	r.Get("/verify", h.handleVerify)
}

type movementRequest struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	BatchID     int64           `json:"batch_id" validate:"gte=0"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	Type        MovementType    `json:"type" validate:"required"`
	Delta       decimal.Decimal `json:"delta"`
	Reference   Reference       `json:"reference"`
	Override    bool            `json:"override"`
	Note        string          `json:"note" validate:"max=255"`
}

type allocateRequest struct {
	ProductID      int64           `json:"product_id" validate:"required,gt=0"`
	WarehouseID    int64           `json:"warehouse_id" validate:"required,gt=0"`
	Qty            decimal.Decimal `json:"qty"`
	PinnedBatchID  int64           `json:"pinned_batch_id" validate:"gte=0"`
	IncludeExpired bool            `json:"include_expired"`
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.Status(err) >= http.StatusInternalServerError {
		h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.QueryInt64(r, "product_id")
	if err == nil && productID == nil {
		err = fmt.Errorf("%w: product_id required", shared.ErrValidation)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	batchID, err := httpx.QueryInt64(r, "batch_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	warehouseID, err := httpx.QueryInt64(r, "warehouse_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	balance, err := h.service.BalanceOf(r.Context(), *productID, batchID, warehouseID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id":   *productID,
		"batch_id":     batchID,
		"warehouse_id": warehouseID,
		"balance":      balance,
	})
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.service.Record(r.Context(), MovementInput{
		Scope:          Scope{ProductID: req.ProductID, BatchID: req.BatchID, WarehouseID: req.WarehouseID},
		Type:           MovementType(strings.ToUpper(string(req.Type))),
		Delta:          req.Delta,
		Reference:      req.Reference,
		Override:       req.Override,
		Note:           req.Note,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	allocations, err := h.service.Allocate(r.Context(), req.ProductID, req.WarehouseID, req.Qty, AllocateOptions{
		PinnedBatchID:  req.PinnedBatchID,
		IncludeExpired: req.IncludeExpired,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"allocations": allocations})
}

func (h *Handler) handleBatches(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.QueryInt64(r, "product_id")
	if err == nil && productID == nil {
		err = fmt.Errorf("%w: product_id required", shared.ErrValidation)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	batches, err := h.service.Batches(r.Context(), *productID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	var req BatchInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	batch, movement, err := h.service.ReceiveBatch(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"batch": batch, "movement": movement})
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	movements, err := h.service.Transfer(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"movements": movements})
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	var filter MovementFilter
	productID, err := httpx.QueryInt64(r, "product_id")
	if err == nil && productID == nil {
		err = fmt.Errorf("%w: product_id required", shared.ErrValidation)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter.ProductID = *productID
	if filter.BatchID, err = httpx.QueryInt64(r, "batch_id"); err != nil {
		h.fail(w, r, err)
		return
	}
	if filter.WarehouseID, err = httpx.QueryInt64(r, "warehouse_id"); err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		if filter.From, err = time.Parse("2006-01-02", v); err != nil {
			h.fail(w, r, fmt.Errorf("%w: invalid from", shared.ErrValidation))
			return
		}
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse("2006-01-02", v)
		if err != nil {
			h.fail(w, r, fmt.Errorf("%w: invalid to", shared.ErrValidation))
			return
		}
		filter.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	movements, err := h.service.Movements(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.QueryInt64(r, "product_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if productID == nil {
		results, err := h.service.VerifyAll(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, summarize(results))
		return
	}
	batchID, err := httpx.QueryInt64(r, "batch_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	warehouseID, err := httpx.QueryInt64(r, "warehouse_id")
	if err == nil && warehouseID == nil {
		err = fmt.Errorf("%w: warehouse_id required", shared.ErrValidation)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	scope := Scope{ProductID: *productID, WarehouseID: *warehouseID}
	if batchID != nil {
		scope.BatchID = *batchID
	}
	v, err := h.service.Verify(r.Context(), scope)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

type verifySummary struct {
	Scopes  int            `json:"scopes"`
	Failing []Verification `json:"failing"`
}

func summarize(results []Verification) verifySummary {
	out := verifySummary{Scopes: len(results), Failing: []Verification{}}
	for _, v := range results {
		if !v.OK() {
			out.Failing = append(out.Failing, v)
		}
	}
	return out
}
