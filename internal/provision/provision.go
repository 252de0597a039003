// Package provision maps launches onto local domain resources. A mapping
// record keyed by the triple (consumer_id, context_id, resource_link_id) is
// the source of truth: repeated launches with the same triple reuse the same
// resource for as long as it lives.
package provision

import (
	"context"
	"errors"
)

// Errors surfaced by mapping and entity stores.
var (
	ErrNotFound = errors.New("provision: not found")
	// ErrConflict marks a unique-constraint violation on the mapping
	// triple. Callers fall back to re-reading the now-existing mapping.
	ErrConflict = errors.New("provision: triple already mapped")
)

// Provision is one mapping record. EntityID is back-filled once the
// provisioned resource exists.
type Provision struct {
	ID             string
	ConsumerID     string
	ContextID      string
	ResourceLinkID string

	ContextLabel      string
	ContextTitle      string
	ResourceLinkTitle string

	EntityType   string
	EntityBundle string
	EntityID     string
}

// Store persists mapping records. Create must enforce triple uniqueness at
// the storage level and report ErrConflict, not overwrite.
type Store interface {
	ByTriple(ctx context.Context, consumerID, contextID, resourceLinkID string) (*Provision, error)
	Create(ctx context.Context, p *Provision) error
	SetEntityID(ctx context.Context, id, entityID string) error
}

// Entity is the provisioned domain resource, owned by the host system and
// specified only at this interface.
type Entity interface {
	ID() string
	Type() string
	Bundle() string
	Get(field string) string
	Set(field, value string)
}

// EntityStorage is the host system's resource persistence collaborator.
type EntityStorage interface {
	New(ctx context.Context, entityType, bundle string) (Entity, error)
	// Load returns ErrNotFound when the resource was deleted out-of-band;
	// the service treats that as permission to re-provision.
	Load(ctx context.Context, entityType, id string) (Entity, error)
	Save(ctx context.Context, e Entity) (id string, err error)
}
