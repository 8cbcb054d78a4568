package clients

import "context"

// Repo is the persistence contract for registered clients. The registry
// is read-mostly: Get sits on the request hot path, the mutating
// operations are administrative.
type Repo interface {
	Upsert(ctx context.Context, client *Client) error
	Delete(ctx context.Context, clientID string) error
	Get(ctx context.Context, clientID string) (*Client, error)
	List(ctx context.Context, offset, limit int) ([]*Client, error)
}
