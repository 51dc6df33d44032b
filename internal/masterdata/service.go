package masterdata

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

// Service serves master data lookups through the versioned cache. Every write
// bumps the cache version.
type Service struct {
	repo   Repository
	cache  *Cache
	logger *slog.Logger
}

// NewService creates a new master data service. cache may be nil.
func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

func cached[T any](ctx context.Context, s *Service, kind string, id int64, load func(context.Context, int64) (T, error)) (T, error) {
	var out T
	if id <= 0 {
		return out, fmt.Errorf("%w: invalid %s id", shared.ErrValidation, kind)
	}
	key, err := s.cache.BuildKey(ctx, "masterdata", kind, strconv.FormatInt(id, 10))
	if err != nil {
		s.logger.Warn("masterdata cache unavailable", slog.String("kind", kind), slog.Any("error", err))
		return load(ctx, id)
	}
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return load(ctx, id)
	})
	return out, err
}

func (s *Service) invalidate(ctx context.Context, kind string, id int64) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("masterdata cache bump failed", slog.String("kind", kind), slog.Int64("id", id), slog.Any("error", err))
	}
}

// Product returns a product by id.
func (s *Service) Product(ctx context.Context, id int64) (Product, error) {
	return cached(ctx, s, "product", id, s.repo.GetProduct)
}

// Party returns a party by id.
func (s *Service) Party(ctx context.Context, id int64) (Party, error) {
	return cached(ctx, s, "party", id, s.repo.GetParty)
}

// Company returns a company by id.
func (s *Service) Company(ctx context.Context, id int64) (Company, error) {
	return cached(ctx, s, "company", id, s.repo.GetCompany)
}

// Warehouse returns a warehouse by id.
func (s *Service) Warehouse(ctx context.Context, id int64) (Warehouse, error) {
	return cached(ctx, s, "warehouse", id, s.repo.GetWarehouse)
}

func pageLimit(filters ListFilters) ListFilters {
	if filters.Limit <= 0 || filters.Limit > 500 {
		filters.Limit = 100
	}
	if filters.Offset < 0 {
		filters.Offset = 0
	}
	return filters
}

// ListProducts lists products by name.
func (s *Service) ListProducts(ctx context.Context, filters ListFilters) ([]Product, error) {
	return s.repo.ListProducts(ctx, pageLimit(filters))
}

// ListParties lists parties, optionally of one kind.
func (s *Service) ListParties(ctx context.Context, filters ListFilters) ([]Party, error) {
	return s.repo.ListParties(ctx, pageLimit(filters))
}

// ListCompanies lists companies.
func (s *Service) ListCompanies(ctx context.Context) ([]Company, error) {
	return s.repo.ListCompanies(ctx)
}

// ListWarehouses lists warehouses.
func (s *Service) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	return s.repo.ListWarehouses(ctx)
}

// SaveProduct creates the product, or updates it when ID is set.
func (s *Service) SaveProduct(ctx context.Context, p Product) (Product, error) {
	if err := p.normalize(); err != nil {
		return Product{}, err
	}
	var err error
	if p.ID == 0 {
		p, err = s.repo.CreateProduct(ctx, p)
	} else {
		p, err = s.repo.UpdateProduct(ctx, p)
	}
	if err != nil {
		return Product{}, err
	}
	s.invalidate(ctx, "product", p.ID)
	return p, nil
}

// SaveParty creates the party, or updates it when ID is set.
func (s *Service) SaveParty(ctx context.Context, p Party) (Party, error) {
	if err := p.normalize(); err != nil {
		return Party{}, err
	}
	var err error
	if p.ID == 0 {
		p, err = s.repo.CreateParty(ctx, p)
	} else {
		p, err = s.repo.UpdateParty(ctx, p)
	}
	if err != nil {
		return Party{}, err
	}
	s.invalidate(ctx, "party", p.ID)
	return p, nil
}

// SaveCompany creates the company, or updates it when ID is set.
func (s *Service) SaveCompany(ctx context.Context, c Company) (Company, error) {
	if err := c.normalize(); err != nil {
		return Company{}, err
	}
	var err error
	if c.ID == 0 {
		c, err = s.repo.CreateCompany(ctx, c)
	} else {
		c, err = s.repo.UpdateCompany(ctx, c)
	}
	if err != nil {
		return Company{}, err
	}
	s.invalidate(ctx, "company", c.ID)
	return c, nil
}

// CreateWarehouse registers a godown.
func (s *Service) CreateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error) {
	if w.Code == "" || w.Name == "" {
		return Warehouse{}, fmt.Errorf("%w: warehouse code and name required", shared.ErrValidation)
	}
	w, err := s.repo.CreateWarehouse(ctx, w)
	if err != nil {
		return Warehouse{}, err
	}
	s.invalidate(ctx, "warehouse", w.ID)
	return w, nil
}
