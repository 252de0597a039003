package consumer

import (
	"context"
	"sync"
)

// MemoryDirectory is a process-local Directory (dev/tests).
type MemoryDirectory struct {
	mu        sync.RWMutex
	consumers []*Consumer
}

func NewMemoryDirectory(consumers ...*Consumer) *MemoryDirectory {
	return &MemoryDirectory{consumers: consumers}
}

// Add registers a consumer. Validation is the caller's responsibility.
func (d *MemoryDirectory) Add(c *Consumer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consumers = append(d.consumers, c)
}

func (d *MemoryDirectory) ByID(_ context.Context, id string) (*Consumer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.consumers {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

func (d *MemoryDirectory) ByKey(_ context.Context, key string) (*Consumer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.consumers {
		if c.Key != "" && c.Key == key {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

func (d *MemoryDirectory) ByIssuer(_ context.Context, issuer, clientID string) (*Consumer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.consumers {
		if c.Issuer != issuer {
			continue
		}
		if clientID != "" && c.ClientID != clientID {
			continue
		}
		return c, nil
	}
	return nil, ErrNotFound
}

func (d *MemoryDirectory) ByClientID(_ context.Context, clientID string) (*Consumer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.consumers {
		if c.ClientID != "" && c.ClientID == clientID {
			return c, nil
		}
	}
	return nil, ErrNotFound
}
