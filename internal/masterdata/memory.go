package masterdata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepository keeps master data in process.
type MemoryRepository struct {
	mu         sync.RWMutex
	products   map[int64]Product
	parties    map[int64]Party
	companies  map[int64]Company
	warehouses map[int64]Warehouse
	nextID     int64
	now        func() time.Time
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		products:   make(map[int64]Product),
		parties:    make(map[int64]Party),
		companies:  make(map[int64]Company),
		warehouses: make(map[int64]Warehouse),
		now:        time.Now,
	}
}

func (r *MemoryRepository) id() int64 {
	r.nextID++
	return r.nextID
}

func get[T any](mu *sync.RWMutex, m map[int64]T, id int64, notFound error) (T, error) {
	mu.RLock()
	defer mu.RUnlock()
	v, ok := m[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: id %d", notFound, id)
	}
	return v, nil
}

func page[T any](items []T, f ListFilters) []T {
	if f.Offset >= len(items) {
		return nil
	}
	items = items[f.Offset:]
	if f.Limit > 0 && len(items) > f.Limit {
		items = items[:f.Limit]
	}
	return items
}

func matchesSearch(name string, search string) bool {
	return search == "" || strings.Contains(strings.ToLower(name), strings.ToLower(search))
}

// GetProduct implements Repository.
func (r *MemoryRepository) GetProduct(_ context.Context, id int64) (Product, error) {
	return get(&r.mu, r.products, id, ErrProductNotFound)
}

// ListProducts implements Repository.
func (r *MemoryRepository) ListProducts(_ context.Context, f ListFilters) ([]Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Product
	for _, p := range r.products {
		if matchesSearch(p.Name, f.Search) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return page(out, f), nil
}

// CreateProduct implements Repository.
func (r *MemoryRepository) CreateProduct(_ context.Context, p Product) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = r.id()
	p.UpdatedAt = r.now().UTC()
	r.products[p.ID] = p
	return p, nil
}

// UpdateProduct implements Repository.
func (r *MemoryRepository) UpdateProduct(_ context.Context, p Product) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[p.ID]; !ok {
		return Product{}, fmt.Errorf("%w: id %d", ErrProductNotFound, p.ID)
	}
	p.UpdatedAt = r.now().UTC()
	r.products[p.ID] = p
	return p, nil
}

// GetParty implements Repository.
func (r *MemoryRepository) GetParty(_ context.Context, id int64) (Party, error) {
	return get(&r.mu, r.parties, id, ErrPartyNotFound)
}

// ListParties implements Repository.
func (r *MemoryRepository) ListParties(_ context.Context, f ListFilters) ([]Party, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Party
	for _, p := range r.parties {
		if (f.Kind == "" || p.Kind == f.Kind) && matchesSearch(p.Name, f.Search) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return page(out, f), nil
}

// CreateParty implements Repository.
func (r *MemoryRepository) CreateParty(_ context.Context, p Party) (Party, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = r.id()
	p.UpdatedAt = r.now().UTC()
	r.parties[p.ID] = p
	return p, nil
}

// UpdateParty implements Repository.
func (r *MemoryRepository) UpdateParty(_ context.Context, p Party) (Party, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.parties[p.ID]; !ok {
		return Party{}, fmt.Errorf("%w: id %d", ErrPartyNotFound, p.ID)
	}
	p.UpdatedAt = r.now().UTC()
	r.parties[p.ID] = p
	return p, nil
}

// GetCompany implements Repository.
func (r *MemoryRepository) GetCompany(_ context.Context, id int64) (Company, error) {
	return get(&r.mu, r.companies, id, ErrCompanyNotFound)
}

// ListCompanies implements Repository.
func (r *MemoryRepository) ListCompanies(_ context.Context) ([]Company, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Company, 0, len(r.companies))
	for _, c := range r.companies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateCompany implements Repository.
func (r *MemoryRepository) CreateCompany(_ context.Context, c Company) (Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = r.id()
	c.UpdatedAt = r.now().UTC()
	r.companies[c.ID] = c
	return c, nil
}

// UpdateCompany implements Repository.
func (r *MemoryRepository) UpdateCompany(_ context.Context, c Company) (Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.companies[c.ID]; !ok {
		return Company{}, fmt.Errorf("%w: id %d", ErrCompanyNotFound, c.ID)
	}
	c.UpdatedAt = r.now().UTC()
	r.companies[c.ID] = c
	return c, nil
}

// GetWarehouse implements Repository.
func (r *MemoryRepository) GetWarehouse(_ context.Context, id int64) (Warehouse, error) {
	return get(&r.mu, r.warehouses, id, ErrWarehouseNotFound)
}

// ListWarehouses implements Repository.
func (r *MemoryRepository) ListWarehouses(_ context.Context) ([]Warehouse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Warehouse, 0, len(r.warehouses))
	for _, w := range r.warehouses {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// CreateWarehouse implements Repository.
func (r *MemoryRepository) CreateWarehouse(_ context.Context, w Warehouse) (Warehouse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w.ID = r.id()
	w.UpdatedAt = r.now().UTC()
	r.warehouses[w.ID] = w
	return w, nil
}
