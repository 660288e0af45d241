package apiclient

import (
	"context"

	"github.com/marmos91/dicomul/pkg/api/handlers"
)

// Readiness is the data of a ready acceptor.
type Readiness struct {
	ActiveAssociations int `json:"active_associations"`
	Stores             int `json:"stores"`
}

// Health calls the liveness probe.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}

// Ready calls the readiness probe. A server without a running acceptor
// returns an *APIError with IsUnavailable set.
func (c *Client) Ready(ctx context.Context) (*Readiness, error) {
	var r Readiness
	if err := c.get(ctx, "/health/ready", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Stores returns the health of the audit and capture stores.
func (c *Client) Stores(ctx context.Context) ([]handlers.StoreHealth, error) {
	var resp handlers.StoresResponse
	err := c.get(ctx, "/health/stores", &resp)
	if err != nil {
		return nil, err
	}
	return resp.Stores, nil
}
