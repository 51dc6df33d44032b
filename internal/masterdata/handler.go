package masterdata

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/siddharthggs/mediggs-sub000/internal/platform/httpx"
)

// Handler exposes master data over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler creates a new master data handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers master data routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Post("/", h.createProduct)
		r.Get("/{id}", h.showProduct)
		r.Put("/{id}", h.updateProduct)
	})
	r.Route("/parties", func(r chi.Router) {
		r.Get("/", h.listParties)
		r.Post("/", h.createParty)
		r.Get("/{id}", h.showParty)
		r.Put("/{id}", h.updateParty)
	})
	r.Route("/companies", func(r chi.Router) {
		r.Get("/", h.listCompanies)
		r.Post("/", h.createCompany)
		r.Get("/{id}", h.showCompany)
		r.Put("/{id}", h.updateCompany)
	})
	r.Route("/warehouses", func(r chi.Router) {
		r.Get("/", h.listWarehouses)
		r.Post("/", h.createWarehouse)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.Status(err) >= http.StatusInternalServerError {
		h.logger.Error("masterdata request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func listFilters(r *http.Request) ListFilters {
	q := r.URL.Query()
	f := ListFilters{Search: q.Get("q"), Kind: PartyKind(strings.ToUpper(q.Get("kind")))}
	if v, err := httpx.QueryInt64(r, "limit"); err == nil && v != nil {
		f.Limit = int(*v)
	}
	if v, err := httpx.QueryInt64(r, "offset"); err == nil && v != nil {
		f.Offset = int(*v)
	}
	return f
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListProducts(r.Context(), listFilters(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(items))
}

func (h *Handler) showProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.service.Product(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var p Product
	if err := httpx.DecodeJSON(r, &p); err != nil {
		h.fail(w, r, err)
		return
	}
	p.ID = 0
	saved, err := h.service.SaveProduct(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, saved)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var p Product
	if err := httpx.DecodeJSON(r, &p); err != nil {
		h.fail(w, r, err)
		return
	}
	p.ID = id
	saved, err := h.service.SaveProduct(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}

func (h *Handler) listParties(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListParties(r.Context(), listFilters(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(items))
}

func (h *Handler) showParty(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.service.Party(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) createParty(w http.ResponseWriter, r *http.Request) {
	var p Party
	if err := httpx.DecodeJSON(r, &p); err != nil {
		h.fail(w, r, err)
		return
	}
	p.ID = 0
	saved, err := h.service.SaveParty(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, saved)
}

func (h *Handler) updateParty(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var p Party
	if err := httpx.DecodeJSON(r, &p); err != nil {
		h.fail(w, r, err)
		return
	}
	p.ID = id
	saved, err := h.service.SaveParty(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}

func (h *Handler) listCompanies(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListCompanies(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(items))
}

func (h *Handler) showCompany(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.service.Company(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) createCompany(w http.ResponseWriter, r *http.Request) {
	var c Company
	if err := httpx.DecodeJSON(r, &c); err != nil {
		h.fail(w, r, err)
		return
	}
	c.ID = 0
	saved, err := h.service.SaveCompany(r.Context(), c)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, saved)
}

func (h *Handler) updateCompany(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var c Company
	if err := httpx.DecodeJSON(r, &c); err != nil {
		h.fail(w, r, err)
		return
	}
	c.ID = id
	saved, err := h.service.SaveCompany(r.Context(), c)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}

func (h *Handler) listWarehouses(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListWarehouses(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(items))
}

func (h *Handler) createWarehouse(w http.ResponseWriter, r *http.Request) {
	var wh Warehouse
	if err := httpx.DecodeJSON(r, &wh); err != nil {
		h.fail(w, r, err)
		return
	}
	wh.ID = 0
	saved, err := h.service.CreateWarehouse(r.Context(), wh)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, saved)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
