package principal

import "context"

// Directory is the persistence contract for principals. FindBySubject
// backs the userinfo endpoint; FindByUsername backs local login.
type Directory interface {
	Upsert(ctx context.Context, p *Principal) error
	FindByUsername(ctx context.Context, username string) (*Principal, error)
	FindBySubject(ctx context.Context, subject string) (*Principal, error)
	SetLastLogin(ctx context.Context, subject string) error
}
