package catalog

import "context"

// Service is the external card-metadata catalog. A miss is reported as
// (nil, nil); errors are reserved for transport and query failures.
type Service interface {
	SearchByText(ctx context.Context, query string) ([]*Entry, error)
	GetByName(ctx context.Context, name string, exact bool) (*Entry, error)
	GetByID(ctx context.Context, id string) (*Entry, error)
}
