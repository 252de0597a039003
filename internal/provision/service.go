package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mlibrary/lti-tool-provider/internal/lti"
)

// Config selects what gets provisioned and how launch context flows into
// resource fields. Defaults maps resource field names to launch context
// paths (see lti.LaunchContext.Get).
type Config struct {
	EntityType   string
	EntityBundle string
	Defaults     map[string]string
	// AlwaysSync re-applies Defaults on every launch, not just creation.
	AlwaysSync bool
}

// Hooks let the host system observe and veto provisioning. A hook error of
// kind ProvisioningCancelled (see lti.Cancelf) aborts before any record is
// written; any other error is wrapped the same way.
type Hooks struct {
	OnCreateProvision []func(ctx context.Context, lc *lti.LaunchContext, p *Provision) error
	OnCreateEntity    []func(ctx context.Context, lc *lti.LaunchContext, e Entity) error
	OnSyncEntity      []func(ctx context.Context, lc *lti.LaunchContext, e Entity) error
}

// Service provisions resources for launches.
type Service struct {
	cfg      Config
	store    Store
	entities EntityStorage
	hooks    Hooks
	log      zerolog.Logger
}

func NewService(cfg Config, store Store, entities EntityStorage, hooks Hooks, log zerolog.Logger) *Service {
	return &Service{cfg: cfg, store: store, entities: entities, hooks: hooks, log: log}
}

// Provision resolves the launch to its resource, creating mapping and
// resource on first contact and reusing them afterwards. It returns
// (nil, nil) when provisioning is not configured or the launch carries an
// incomplete triple; such launches proceed without a resource.
func (s *Service) Provision(ctx context.Context, lc *lti.LaunchContext) (Entity, error) {
	if s.cfg.EntityType == "" || s.cfg.EntityBundle == "" {
		return nil, nil
	}
	consumerID := lc.ConsumerID()
	contextID := lc.ContextID()
	linkID := lc.ResourceLinkID()
	if consumerID == "" || contextID == "" || linkID == "" {
		s.log.Debug().Str("consumer", consumerID).Msg("launch triple incomplete, skipping provisioning")
		return nil, nil
	}

	p, err := s.store.ByTriple(ctx, consumerID, contextID, linkID)
	switch {
	case err == nil:
		return s.existing(ctx, lc, p)
	case errors.Is(err, ErrNotFound):
		return s.create(ctx, lc, consumerID, contextID, linkID)
	default:
		return nil, fmt.Errorf("provision: lookup: %w", err)
	}
}

// existing resolves a known mapping. A mapping whose resource was deleted
// out-of-band gets a fresh resource bound to the same record.
func (s *Service) existing(ctx context.Context, lc *lti.LaunchContext, p *Provision) (Entity, error) {
	if p.EntityID != "" {
		e, err := s.entities.Load(ctx, p.EntityType, p.EntityID)
		if err == nil {
			if s.cfg.AlwaysSync {
				return s.sync(ctx, lc, p, e)
			}
			return e, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("provision: load entity: %w", err)
		}
		s.log.Warn().
			Str("provision", p.ID).
			Str("entity", p.EntityID).
			Msg("provisioned entity gone, re-provisioning")
	}
	return s.buildEntity(ctx, lc, p)
}

// create writes a new mapping record and its resource. When a concurrent
// launch wins the insert race, the loser re-reads and resolves through the
// winner's record.
func (s *Service) create(ctx context.Context, lc *lti.LaunchContext, consumerID, contextID, linkID string) (Entity, error) {
	p := &Provision{
		ID:                uuid.NewString(),
		ConsumerID:        consumerID,
		ContextID:         contextID,
		ResourceLinkID:    linkID,
		ContextLabel:      lc.ContextLabel(),
		ContextTitle:      lc.ContextTitle(),
		ResourceLinkTitle: lc.ResourceLinkTitle(),
		EntityType:        s.cfg.EntityType,
		EntityBundle:      s.cfg.EntityBundle,
	}
	for _, h := range s.hooks.OnCreateProvision {
		if err := h(ctx, lc, p); err != nil {
			if lti.KindOf(err) == lti.KindProvisioningCancelled {
				return nil, err
			}
			return nil, lti.WrapErr(lti.KindProvisioningCancelled, err, "provision hook rejected launch")
		}
	}
	if err := s.store.Create(ctx, p); err != nil {
		if errors.Is(err, ErrConflict) {
			won, rerr := s.store.ByTriple(ctx, consumerID, contextID, linkID)
			if rerr != nil {
				return nil, fmt.Errorf("provision: lost insert race and re-read failed: %w", rerr)
			}
			return s.existing(ctx, lc, won)
		}
		return nil, err
	}
	return s.buildEntity(ctx, lc, p)
}

func (s *Service) buildEntity(ctx context.Context, lc *lti.LaunchContext, p *Provision) (Entity, error) {
	e, err := s.entities.New(ctx, p.EntityType, p.EntityBundle)
	if err != nil {
		return nil, fmt.Errorf("provision: new entity: %w", err)
	}
	s.applyDefaults(lc, e)
	for _, h := range s.hooks.OnCreateEntity {
		if err := h(ctx, lc, e); err != nil {
			if lti.KindOf(err) == lti.KindProvisioningCancelled {
				return nil, err
			}
			return nil, lti.WrapErr(lti.KindProvisioningCancelled, err, "entity hook rejected launch")
		}
	}
	// Sync hooks observe every launch, the first one included.
	for _, h := range s.hooks.OnSyncEntity {
		if err := h(ctx, lc, e); err != nil {
			return nil, fmt.Errorf("provision: sync hook: %w", err)
		}
	}
	id, err := s.entities.Save(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("provision: save entity: %w", err)
	}
	if err := s.store.SetEntityID(ctx, p.ID, id); err != nil {
		return nil, fmt.Errorf("provision: bind entity: %w", err)
	}
	s.log.Info().
		Str("provision", p.ID).
		Str("entity_type", p.EntityType).
		Str("entity", id).
		Msg("provisioned resource")
	return s.entities.Load(ctx, p.EntityType, id)
}

// sync re-applies default field mappings to an existing resource.
func (s *Service) sync(ctx context.Context, lc *lti.LaunchContext, p *Provision, e Entity) (Entity, error) {
	s.applyDefaults(lc, e)
	for _, h := range s.hooks.OnSyncEntity {
		if err := h(ctx, lc, e); err != nil {
			return nil, fmt.Errorf("provision: sync hook: %w", err)
		}
	}
	if _, err := s.entities.Save(ctx, e); err != nil {
		return nil, fmt.Errorf("provision: sync save: %w", err)
	}
	return s.entities.Load(ctx, p.EntityType, e.ID())
}

func (s *Service) applyDefaults(lc *lti.LaunchContext, e Entity) {
	for field, path := range s.cfg.Defaults {
		if v := lc.Get(path); v != "" {
			e.Set(field, v)
		}
	}
}
