// Package memory is an in-process session backend. Snapshots are stored
// CBOR-encoded so persisted state stays isolated from live mutation.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/segmentio/ksuid"
	"github.com/zero-auth/shield/pkg/session"
)

type Backend struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

func New() *Backend {
	return &Backend{
		sessions: make(map[string][]byte),
	}
}

func (b *Backend) Load(ctx context.Context, id string) (*session.Data, error) {
	b.mu.RLock()
	blob, ok := b.sessions[id]
	b.mu.RUnlock()

	if !ok {
		return nil, session.ErrNotFound
	}

	var data session.Data
	if err := cbor.Unmarshal(blob, &data); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &data, nil
}

func (b *Backend) Save(ctx context.Context, id string, data *session.Data) error {
	blob, err := cbor.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", id, err)
	}

	b.mu.Lock()
	b.sessions[id] = blob
	b.mu.Unlock()
	return nil
}

func (b *Backend) Renew(ctx context.Context, id string) (string, error) {
	newID := ksuid.New().String()

	b.mu.Lock()
	if blob, ok := b.sessions[id]; ok {
		b.sessions[newID] = blob
		delete(b.sessions, id)
	}
	b.mu.Unlock()
	return newID, nil
}

func (b *Backend) Purge(ctx context.Context, id string) error {
	b.mu.Lock()
	delete(b.sessions, id)
	b.mu.Unlock()
	return nil
}

// Len reports the number of stored sessions.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}
