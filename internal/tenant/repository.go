package tenant

import (
	"context"
	"errors"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
)

// Repository defines the interface for the tenant directory
type Repository interface {
	GetByID(ctx context.Context, id string) (*Tenant, error)
	// List returns tenants ordered by creation time, then ID
	List(ctx context.Context, limit, offset int) ([]*Tenant, error)
}
