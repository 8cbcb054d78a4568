// Package memrepo is an in-memory clients.Repo, used for development
// and tests.
package memrepo

import (
	"context"
	"sort"
	"sync"

	"github.com/authserve/go-oauth2-server/clients"
)

type Repo struct {
	mu      sync.RWMutex
	clients map[string]clients.Client
}

func New() *Repo {
	return &Repo{clients: make(map[string]clients.Client)}
}

func (r *Repo) Upsert(_ context.Context, client *clients.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.ID] = *client
	return nil
}

func (r *Repo) Delete(_ context.Context, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[clientID]; !ok {
		return clients.ErrNotFound
	}
	delete(r.clients, clientID)
	return nil
}

func (r *Repo) Get(_ context.Context, clientID string) (*clients.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[clientID]
	if !ok {
		return nil, clients.ErrNotFound
	}
	return &client, nil
}

func (r *Repo) List(_ context.Context, offset, limit int) ([]*clients.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if offset >= len(ids) {
		return nil, nil
	}
	end := len(ids)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	out := make([]*clients.Client, 0, end-offset)
	for _, id := range ids[offset:end] {
		client := r.clients[id]
		out = append(out, &client)
	}
	return out, nil
}
