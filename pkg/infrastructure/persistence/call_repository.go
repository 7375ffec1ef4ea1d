// Package persistence provides the infrastructure adapters behind the domain
// repository interfaces: an in-memory call repository (call state lives for
// the process) and a sqlite-backed message history store.
package persistence

import (
	"sync"

	"github.com/voicebridge/voicebridge/pkg/domain/call"
)

// MemoryCallRepository is the in-memory implementation of call.Repository.
// Call sessions live for the process lifetime; durability beyond that is
// explicitly out of scope. Access is guarded by one RWMutex — per-call
// serialization is the tracker's job, this map only needs safe lookups.
type MemoryCallRepository struct {
	mu    sync.RWMutex
	calls map[string]*call.Call
}

// NewMemoryCallRepository creates an empty repository.
func NewMemoryCallRepository() *MemoryCallRepository {
	return &MemoryCallRepository{calls: make(map[string]*call.Call)}
}

func (r *MemoryCallRepository) FindBySid(sid string) (*call.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.calls[sid]
	if !ok {
		return nil, call.ErrCallNotFound
	}
	return c, nil
}

func (r *MemoryCallRepository) FindAll() ([]*call.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*call.Call, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryCallRepository) Save(c *call.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls[c.Sid] = c
	return nil
}

func (r *MemoryCallRepository) Delete(sid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.calls[sid]; !ok {
		return call.ErrCallNotFound
	}
	delete(r.calls, sid)
	return nil
}

var _ call.Repository = (*MemoryCallRepository)(nil)
