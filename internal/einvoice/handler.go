package einvoice

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/siddharthggs/mediggs-sub000/internal/platform/httpx"
)

// Handler exposes the e-invoice queue over HTTP.
type Handler struct {
	logger *slog.Logger
	queue  *Queue
}

// NewHandler constructs an e-invoice handler.
func NewHandler(logger *slog.Logger, queue *Queue) *Handler {
	return &Handler{logger: logger, queue: queue}
}

// MountRoutes registers e-invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/sync", h.handleSync)
	r.Get("/{billID}", h.handleGet)
	r.Post("/{billID}", h.handleEnqueue)
	r.Post("/{billID}/sync", h.handleSyncBill)
	r.Post("/{billID}/retry", h.handleRetry)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.Status(err) >= http.StatusInternalServerError {
		h.logger.Error("einvoice request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := Filter{Status: Status(strings.ToUpper(r.URL.Query().Get("status")))}
	limit, err := httpx.QueryInt64(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if limit != nil {
		filter.Limit = int(*limit)
	}
	entries, err := h.queue.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	report, err := h.queue.Sync(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	billID, err := httpx.IDParam(r, "billID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.queue.Get(r.Context(), billID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	billID, err := httpx.IDParam(r, "billID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.queue.Enqueue(r.Context(), billID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, entry)
}

func (h *Handler) handleSyncBill(w http.ResponseWriter, r *http.Request) {
	billID, err := httpx.IDParam(r, "billID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.queue.SyncBill(r.Context(), billID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	billID, err := httpx.IDParam(r, "billID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.queue.Retry(r.Context(), billID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}
