// Package memdir is an in-memory principal.Directory, used for
// development and tests.
package memdir

import (
	"context"
	"sync"
	"time"

	"github.com/authserve/go-oauth2-server/principal"
)

type Directory struct {
	mu         sync.RWMutex
	bySubject  map[string]principal.Principal
	byUsername map[string]string // username -> subject
	nowTime    func() time.Time
}

func New() *Directory {
	return &Directory{
		bySubject:  make(map[string]principal.Principal),
		byUsername: make(map[string]string),
		nowTime:    time.Now,
	}
}

func (d *Directory) Upsert(_ context.Context, p *principal.Principal) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.bySubject[p.Subject]; ok && prev.Username != "" {
		delete(d.byUsername, prev.Username)
	}
	d.bySubject[p.Subject] = *p
	if p.Username != "" {
		d.byUsername[p.Username] = p.Subject
	}
	return nil
}

func (d *Directory) FindByUsername(_ context.Context, username string) (*principal.Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	subject, ok := d.byUsername[username]
	if !ok {
		return nil, principal.ErrNotFound
	}
	p := d.bySubject[subject]
	return &p, nil
}

func (d *Directory) FindBySubject(_ context.Context, subject string) (*principal.Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.bySubject[subject]
	if !ok {
		return nil, principal.ErrNotFound
	}
	return &p, nil
}

func (d *Directory) SetLastLogin(_ context.Context, subject string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.bySubject[subject]
	if !ok {
		return principal.ErrNotFound
	}
	p.LastLogin = d.nowTime().UTC()
	d.bySubject[subject] = p
	return nil
}
