package provision

import (
	"context"
	"strconv"
	"sync"
)

// MemoryStore keeps mapping records in process memory. Suitable for tests
// and single-node development.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Provision
	triple map[[3]string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Provision),
		triple: make(map[[3]string]string),
	}
}

func (s *MemoryStore) ByTriple(_ context.Context, consumerID, contextID, resourceLinkID string) (*Provision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.triple[[3]string{consumerID, contextID, resourceLinkID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *MemoryStore) Create(_ context.Context, p *Provision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [3]string{p.ConsumerID, p.ContextID, p.ResourceLinkID}
	if _, ok := s.triple[key]; ok {
		return ErrConflict
	}
	cp := *p
	s.byID[cp.ID] = &cp
	s.triple[key] = cp.ID
	return nil
}

func (s *MemoryStore) SetEntityID(_ context.Context, id, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	p.EntityID = entityID
	return nil
}

// MemoryEntity is a map-backed Entity for tests and development.
type MemoryEntity struct {
	EID    string
	EType  string
	EBndl  string
	Fields map[string]string
}

func (e *MemoryEntity) ID() string     { return e.EID }
func (e *MemoryEntity) Type() string   { return e.EType }
func (e *MemoryEntity) Bundle() string { return e.EBndl }

func (e *MemoryEntity) Get(field string) string { return e.Fields[field] }

func (e *MemoryEntity) Set(field, value string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = value
}

// MemoryEntities implements EntityStorage over a process-local map.
type MemoryEntities struct {
	mu   sync.Mutex
	next int
	ents map[string]*MemoryEntity
}

func NewMemoryEntities() *MemoryEntities {
	return &MemoryEntities{ents: make(map[string]*MemoryEntity)}
}

func (s *MemoryEntities) New(_ context.Context, entityType, bundle string) (Entity, error) {
	return &MemoryEntity{EType: entityType, EBndl: bundle, Fields: make(map[string]string)}, nil
}

func (s *MemoryEntities) Load(_ context.Context, entityType, id string) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.ents[id]
	if !ok || e.EType != entityType {
		return nil, ErrNotFound
	}
	cp := *e
	cp.Fields = make(map[string]string, len(e.Fields))
	for k, v := range e.Fields {
		cp.Fields[k] = v
	}
	return &cp, nil
}

func (s *MemoryEntities) Save(_ context.Context, e Entity) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	me, ok := e.(*MemoryEntity)
	if !ok {
		me = &MemoryEntity{EID: e.ID(), EType: e.Type(), EBndl: e.Bundle(), Fields: make(map[string]string)}
	}
	if me.EID == "" {
		s.next++
		me.EID = strconv.Itoa(s.next)
	}
	cp := *me
	s.ents[cp.EID] = &cp
	return cp.EID, nil
}

// Delete removes a stored entity, simulating out-of-band deletion.
func (s *MemoryEntities) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ents, id)
}
