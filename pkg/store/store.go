package store

import (
	"context"
	"errors"
	"time"

	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/models"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderExists         = errors.New("order already exists")
	ErrUnitOfWorkClosed    = errors.New("unit of work already committed or rolled back")
	ErrUnsupportedDatabase = errors.New("unsupported database type")
)

// Page selects a window of a listing. Number is 1-based.
type Page struct {
	Number int
	Size   int
}

// Offset returns the row offset of the page
func (p Page) Offset() int {
	if p.Number <= 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// PagedResult is one page of a listing plus the total row count
type PagedResult[T any] struct {
	Items    []T `json:"items"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}

// OrderRepository defines order persistence operations
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, tenantID, id string) (*models.Order, error)
	ListOrders(ctx context.Context, tenantID string, page Page) (*PagedResult[models.Order], error)

	// TransitionOrder moves an order from one status to another and sets its
	// payment status. It returns false when the order exists but is no longer
	// in from, and ErrOrderNotFound when it does not exist.
	TransitionOrder(ctx context.Context, tenantID, id string, from, to models.OrderStatus, payment models.PaymentStatus) (bool, error)

	// DeleteStalePendingOrders removes every pending order created before
	// cutoff, across all tenants, and returns the removed IDs. Orders that no
	// longer match are simply not part of the result.
	DeleteStalePendingOrders(ctx context.Context, cutoff time.Time) ([]string, error)
}

// UnitOfWork is an isolated transaction scope. Exactly one of Commit or
// Rollback takes effect; Rollback after Commit is a no-op.
type UnitOfWork interface {
	Orders() OrderRepository
	Commit() error
	Rollback() error
}

// Store defines the interface for data persistence.
// Memory, SQLite and PostgreSQL implement this interface.
type Store interface {
	OrderRepository

	// Begin opens a new unit of work bound to ctx
	Begin(ctx context.Context) (UnitOfWork, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// Config holds database configuration
type Config struct {
	Type string // "memory", "sqlite" or "postgres"
	DSN  string // Connection string or SQLite file path

	// PostgreSQL specific
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "postgres", "postgresql":
		return NewPostgreSQLStore(config)
	case "sqlite", "sqlite3":
		path := config.DSN
		if path == "" {
			path = "orders.db"
		}
		return NewSQLiteStore(path)
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, ErrUnsupportedDatabase
	}
}
