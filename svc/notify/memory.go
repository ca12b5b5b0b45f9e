package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryDirectory is a Directory backed by a map.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[uuid.UUID]Recipient
}

func NewMemoryDirectory(rs ...Recipient) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[uuid.UUID]Recipient, len(rs))}
	for _, r := range rs {
		d.users[r.UserID] = r
	}
	return d
}

func (d *MemoryDirectory) Put(r Recipient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[r.UserID] = r
}

func (d *MemoryDirectory) Recipient(_ context.Context, userID uuid.UUID) (*Recipient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.users[userID]
	if !ok {
		return nil, ErrRecipientNotFound
	}
	return &r, nil
}
