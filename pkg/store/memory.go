package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/models"
)

// MemoryStore is an in-memory implementation of the data store.
// Its units of work apply changes immediately; Rollback only closes them.
type MemoryStore struct {
	orders map[string]*models.Order
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*models.Order),
	}
}

func copyOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.OrderItem(nil), o.Items...)
	return &c
}

// CreateOrder stores a copy of order
func (s *MemoryStore) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.ID]; ok {
		return ErrOrderExists
	}
	s.orders[order.ID] = copyOrder(order)
	return nil
}

// GetOrder retrieves an order of a tenant by ID
func (s *MemoryStore) GetOrder(ctx context.Context, tenantID, id string) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok || o.TenantID != tenantID {
		return nil, ErrOrderNotFound
	}
	return copyOrder(o), nil
}

// ListOrders returns a page of a tenant's orders, newest first
func (s *MemoryStore) ListOrders(ctx context.Context, tenantID string, page Page) (*PagedResult[models.Order], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	all := make([]models.Order, 0)
	for _, o := range s.orders {
		if o.TenantID == tenantID {
			all = append(all, *copyOrder(o))
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	res := &PagedResult[models.Order]{Page: page.Number, PageSize: page.Size, Total: len(all), Items: []models.Order{}}
	start := page.Offset()
	if start >= len(all) {
		return res, nil
	}
	end := start + page.Size
	if end > len(all) {
		end = len(all)
	}
	res.Items = all[start:end]
	return res, nil
}

// TransitionOrder performs a compare-and-set on the order status
func (s *MemoryStore) TransitionOrder(ctx context.Context, tenantID, id string, from, to models.OrderStatus, payment models.PaymentStatus) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || o.TenantID != tenantID {
		return false, ErrOrderNotFound
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	o.PaymentStatus = payment
	o.UpdatedAt = time.Now().UTC()
	return true, nil
}

// DeleteStalePendingOrders removes pending orders created before cutoff
func (s *MemoryStore) DeleteStalePendingOrders(ctx context.Context, cutoff time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := make([]string, 0)
	for id, o := range s.orders {
		if o.IsStale(cutoff) {
			delete(s.orders, id)
			deleted = append(deleted, id)
		}
	}
	sort.Strings(deleted)
	return deleted, nil
}

// Begin opens a unit of work over the store
func (s *MemoryStore) Begin(ctx context.Context) (UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryUnitOfWork{store: s}, nil
}

// HealthCheck always succeeds for the in-memory store
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

// Len returns the number of stored orders
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

type memoryUnitOfWork struct {
	store  *MemoryStore
	mu     sync.Mutex
	closed bool
}

func (u *memoryUnitOfWork) Orders() OrderRepository {
	return &memoryScopedRepo{uow: u}
}

func (u *memoryUnitOfWork) Commit() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrUnitOfWorkClosed
	}
	u.closed = true
	return nil
}

func (u *memoryUnitOfWork) Rollback() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	return nil
}

func (u *memoryUnitOfWork) check() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrUnitOfWorkClosed
	}
	return nil
}

// memoryScopedRepo rejects operations once its unit of work is closed
type memoryScopedRepo struct {
	uow *memoryUnitOfWork
}

func (r *memoryScopedRepo) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := r.uow.check(); err != nil {
		return err
	}
	return r.uow.store.CreateOrder(ctx, order)
}

func (r *memoryScopedRepo) GetOrder(ctx context.Context, tenantID, id string) (*models.Order, error) {
	if err := r.uow.check(); err != nil {
		return nil, err
	}
	return r.uow.store.GetOrder(ctx, tenantID, id)
}

func (r *memoryScopedRepo) ListOrders(ctx context.Context, tenantID string, page Page) (*PagedResult[models.Order], error) {
	if err := r.uow.check(); err != nil {
		return nil, err
	}
	return r.uow.store.ListOrders(ctx, tenantID, page)
}

func (r *memoryScopedRepo) TransitionOrder(ctx context.Context, tenantID, id string, from, to models.OrderStatus, payment models.PaymentStatus) (bool, error) {
	if err := r.uow.check(); err != nil {
		return false, err
	}
	return r.uow.store.TransitionOrder(ctx, tenantID, id, from, to, payment)
}

func (r *memoryScopedRepo) DeleteStalePendingOrders(ctx context.Context, cutoff time.Time) ([]string, error) {
	if err := r.uow.check(); err != nil {
		return nil, err
	}
	return r.uow.store.DeleteStalePendingOrders(ctx, cutoff)
}
