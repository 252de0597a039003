package provision

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlibrary/lti-tool-provider/internal/lti"
)

func launchContext(params map[string]any) *lti.LaunchContext {
	raw := map[string]any{
		"context_id":          "course-42",
		"context_label":       "BIO 101",
		"resource_link_id":    "rl-77",
		"resource_link_title": "Week 1 Quiz",
	}
	for k, v := range params {
		raw[k] = v
	}
	return lti.NewContext(lti.V1P0, "c1", "Example LMS", lti.UserIdentity{}, raw)
}

func newService(hooks Hooks, alwaysSync bool) (*Service, *MemoryStore, *MemoryEntities) {
	store := NewMemoryStore()
	entities := NewMemoryEntities()
	cfg := Config{
		EntityType:   "node",
		EntityBundle: "course_link",
		Defaults: map[string]string{
			"title":       "resource_link_title",
			"field_label": "context_label",
		},
		AlwaysSync: alwaysSync,
	}
	return NewService(cfg, store, entities, hooks, zerolog.Nop()), store, entities
}

func TestProvisionCreatesMappingAndEntity(t *testing.T) {
	svc, store, _ := newService(Hooks{}, false)
	ctx := context.Background()

	e, err := svc.Provision(ctx, launchContext(nil))
	require.NoError(t, err)
	require.NotNil(t, e)

	assert.Equal(t, "node", e.Type())
	assert.Equal(t, "course_link", e.Bundle())
	assert.Equal(t, "Week 1 Quiz", e.Get("title"))
	assert.Equal(t, "BIO 101", e.Get("field_label"))

	p, err := store.ByTriple(ctx, "c1", "course-42", "rl-77")
	require.NoError(t, err)
	assert.Equal(t, e.ID(), p.EntityID)
	assert.Equal(t, "Week 1 Quiz", p.ResourceLinkTitle)
}

func TestProvisionIsIdempotentPerTriple(t *testing.T) {
	svc, _, _ := newService(Hooks{}, false)
	ctx := context.Background()

	first, err := svc.Provision(ctx, launchContext(nil))
	require.NoError(t, err)
	second, err := svc.Provision(ctx, launchContext(nil))
	require.NoError(t, err)

	assert.Equal(t, first.ID(), second.ID())

	// A different resource link in the same context maps to its own entity.
	other, err := svc.Provision(ctx, launchContext(map[string]any{"resource_link_id": "rl-88"}))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), other.ID())
}

func TestProvisionReprovisionsWhenEntityDeleted(t *testing.T) {
	svc, store, entities := newService(Hooks{}, false)
	ctx := context.Background()

	first, err := svc.Provision(ctx, launchContext(nil))
	require.NoError(t, err)

	entities.Delete(first.ID())

	second, err := svc.Provision(ctx, launchContext(nil))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())

	// Same mapping record, rebound to the fresh entity.
	p, err := store.ByTriple(ctx, "c1", "course-42", "rl-77")
	require.NoError(t, err)
	assert.Equal(t, second.ID(), p.EntityID)
}

func TestProvisionSkipsIncompleteTriple(t *testing.T) {
	svc, store, _ := newService(Hooks{}, false)
	ctx := context.Background()

	e, err := svc.Provision(ctx, launchContext(map[string]any{"context_id": ""}))
	require.NoError(t, err)
	assert.Nil(t, e)

	_, err = store.ByTriple(ctx, "c1", "", "rl-77")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProvisionNotConfiguredIsNoOp(t *testing.T) {
	svc := NewService(Config{}, NewMemoryStore(), NewMemoryEntities(), Hooks{}, zerolog.Nop())

	e, err := svc.Provision(context.Background(), launchContext(nil))
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestProvisionHookVetoLeavesNoRecords(t *testing.T) {
	hooks := Hooks{
		OnCreateProvision: []func(context.Context, *lti.LaunchContext, *Provision) error{
			func(context.Context, *lti.LaunchContext, *Provision) error {
				return lti.Cancelf("course is archived")
			},
		},
	}
	svc, store, _ := newService(hooks, false)
	ctx := context.Background()

	_, err := svc.Provision(ctx, launchContext(nil))
	assert.Equal(t, lti.KindProvisioningCancelled, lti.KindOf(err))

	_, err = store.ByTriple(ctx, "c1", "course-42", "rl-77")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProvisionEntityHookErrorCancels(t *testing.T) {
	hooks := Hooks{
		OnCreateEntity: []func(context.Context, *lti.LaunchContext, Entity) error{
			func(context.Context, *lti.LaunchContext, Entity) error {
				return errors.New("storage quota exceeded")
			},
		},
	}
	svc, _, _ := newService(hooks, false)

	_, err := svc.Provision(context.Background(), launchContext(nil))
	assert.Equal(t, lti.KindProvisioningCancelled, lti.KindOf(err))
}

func TestProvisionSyncHooksRunOnFirstCreation(t *testing.T) {
	synced := 0
	hooks := Hooks{
		OnSyncEntity: []func(context.Context, *lti.LaunchContext, Entity) error{
			func(_ context.Context, _ *lti.LaunchContext, e Entity) error {
				synced++
				e.Set("field_synced", "yes")
				return nil
			},
		},
	}
	svc, _, _ := newService(hooks, false)

	e, err := svc.Provision(context.Background(), launchContext(nil))
	require.NoError(t, err)
	assert.Equal(t, 1, synced)
	// Hook mutations land before the entity is saved.
	assert.Equal(t, "yes", e.Get("field_synced"))
}

func TestProvisionAlwaysSyncRefreshesFields(t *testing.T) {
	svc, _, _ := newService(Hooks{}, true)
	ctx := context.Background()

	first, err := svc.Provision(ctx, launchContext(nil))
	require.NoError(t, err)
	require.Equal(t, "Week 1 Quiz", first.Get("title"))

	renamed := launchContext(map[string]any{"resource_link_title": "Week 1 Quiz (revised)"})
	second, err := svc.Provision(ctx, renamed)
	require.NoError(t, err)

	assert.Equal(t, first.ID(), second.ID())
	assert.Equal(t, "Week 1 Quiz (revised)", second.Get("title"))
}

func TestProvisionWithoutSyncKeepsFields(t *testing.T) {
	svc, _, _ := newService(Hooks{}, false)
	ctx := context.Background()

	_, err := svc.Provision(ctx, launchContext(nil))
	require.NoError(t, err)

	renamed := launchContext(map[string]any{"resource_link_title": "Week 1 Quiz (revised)"})
	second, err := svc.Provision(ctx, renamed)
	require.NoError(t, err)

	assert.Equal(t, "Week 1 Quiz", second.Get("title"))
}

func TestProvisionLostInsertRaceFallsBack(t *testing.T) {
	svc, store, _ := newService(Hooks{}, false)
	ctx := context.Background()

	// Another node wins the insert between our miss and our create.
	raced := false
	hooked := Hooks{
		OnCreateProvision: []func(context.Context, *lti.LaunchContext, *Provision) error{
			func(context.Context, *lti.LaunchContext, *Provision) error {
				if !raced {
					raced = true
					_, err := svc.Provision(ctx, launchContext(nil))
					return err
				}
				return nil
			},
		},
	}
	racySvc := NewService(svc.cfg, store, svc.entities, hooked, zerolog.Nop())

	e, err := racySvc.Provision(ctx, launchContext(nil))
	require.NoError(t, err)

	p, err := store.ByTriple(ctx, "c1", "course-42", "rl-77")
	require.NoError(t, err)
	assert.Equal(t, p.EntityID, e.ID())
}
