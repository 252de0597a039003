package user

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlibrary/lti-tool-provider/internal/consumer"
	"github.com/mlibrary/lti-tool-provider/internal/lti"
)

func v1Consumer() *consumer.Consumer {
	return &consumer.Consumer{
		ID: "c1", Label: "Example LMS", Version: lti.V1P0, Key: "lms-key", Secret: "s",
		NameParam: "lis_person_name_full",
	}
}

func v1Launch(params map[string]any) *lti.LaunchContext {
	return lti.NewContext(lti.V1P0, "c1", "Example LMS", lti.UserIdentity{}, params)
}

func v3Launch(id lti.UserIdentity) *lti.LaunchContext {
	return lti.NewContext(lti.V1P3, "c3", "Example LMS", id, map[string]any{})
}

func TestResolveCreatesUserFromLaunchParams(t *testing.T) {
	store := NewMemoryStore()
	r := NewResolver(store, zerolog.Nop())

	lc := v1Launch(map[string]any{
		"lis_person_name_full":             "Jane Learner",
		"lis_person_contact_email_primary": "jane@example.edu",
	})
	u, err := r.Resolve(context.Background(), lc, v1Consumer())
	require.NoError(t, err)

	assert.Equal(t, "Jane Learner", u.Name)
	assert.Equal(t, "jane@example.edu", u.Email)
	assert.True(t, u.Active)
	assert.NotEmpty(t, u.ID)
	assert.NotEmpty(t, u.PasswordHash)
	assert.Equal(t, 1, store.Len())
}

func TestResolveMatchesExistingByName(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), &User{
		ID: "u-1", Name: "Jane Learner", Email: "old@example.edu", Active: true,
	}))
	r := NewResolver(store, zerolog.Nop())

	lc := v1Launch(map[string]any{
		"lis_person_name_full":             "Jane Learner",
		"lis_person_contact_email_primary": "jane@example.edu",
	})
	u, err := r.Resolve(context.Background(), lc, v1Consumer())
	require.NoError(t, err)

	assert.Equal(t, "u-1", u.ID)
	assert.Equal(t, 1, store.Len())
}

func TestResolveMatchesExistingByEmail(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), &User{
		ID: "u-2", Name: "J. Learner", Email: "jane@example.edu", Active: true,
	}))
	r := NewResolver(store, zerolog.Nop())

	lc := v1Launch(map[string]any{
		"lis_person_name_full":             "Jane Learner",
		"lis_person_contact_email_primary": "jane@example.edu",
	})
	u, err := r.Resolve(context.Background(), lc, v1Consumer())
	require.NoError(t, err)

	assert.Equal(t, "u-2", u.ID)
}

func TestResolveIgnoresInactiveUsers(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), &User{
		ID: "u-3", Name: "Jane Learner", Email: "jane@example.edu", Active: false,
	}))
	r := NewResolver(store, zerolog.Nop())

	lc := v1Launch(map[string]any{
		"lis_person_name_full":             "Jane Learner",
		"lis_person_contact_email_primary": "jane@example.edu",
	})
	u, err := r.Resolve(context.Background(), lc, v1Consumer())
	require.NoError(t, err)

	assert.NotEqual(t, "u-3", u.ID)
	assert.Equal(t, 2, store.Len())
}

func TestResolveEmailOnlyLaunchNamesUserByEmail(t *testing.T) {
	store := NewMemoryStore()
	r := NewResolver(store, zerolog.Nop())
	// No configured parameter keys: both name and mail default to the LIS
	// email parameter.
	cons := &consumer.Consumer{ID: "c1", Label: "Example LMS", Version: lti.V1P0, Key: "lms-key", Secret: "s"}

	lc := v1Launch(map[string]any{"lis_person_contact_email_primary": "user@lms.edu"})
	u, err := r.Resolve(context.Background(), lc, cons)
	require.NoError(t, err)

	assert.Equal(t, "user@lms.edu", u.Name)
	assert.Equal(t, "user@lms.edu", u.Email)
	assert.Equal(t, 1, store.Len())
}

func TestResolveSentinelFallbackPerField(t *testing.T) {
	store := NewMemoryStore()
	r := NewResolver(store, zerolog.Nop())

	// Name present, email absent: only the email falls back.
	lc := v1Launch(map[string]any{"lis_person_name_full": "Jane Learner"})
	u, err := r.Resolve(context.Background(), lc, v1Consumer())
	require.NoError(t, err)
	assert.Equal(t, "Jane Learner", u.Name)
	assert.Equal(t, SentinelEmail, u.Email)

	// Nothing present: the shared anonymous account.
	u, err = r.Resolve(context.Background(), v1Launch(map[string]any{}), v1Consumer())
	require.NoError(t, err)
	assert.Equal(t, SentinelName, u.Name)
	assert.Equal(t, SentinelEmail, u.Email)

	// Anonymous launches converge on one account.
	again, err := r.Resolve(context.Background(), v1Launch(map[string]any{}), v1Consumer())
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)
}

func TestResolveHonorsConsumerParamOverrides(t *testing.T) {
	store := NewMemoryStore()
	r := NewResolver(store, zerolog.Nop())
	cons := v1Consumer()
	cons.NameParam = "ext_user_username"
	cons.MailParam = "ext_user_mail"

	lc := v1Launch(map[string]any{
		"ext_user_username":    "jlearner",
		"ext_user_mail":        "jane@example.edu",
		"lis_person_name_full": "ignored",
	})
	u, err := r.Resolve(context.Background(), lc, cons)
	require.NoError(t, err)

	assert.Equal(t, "jlearner", u.Name)
	assert.Equal(t, "jane@example.edu", u.Email)
}

func TestResolveV1P3FailsClosedOnMissingIdentity(t *testing.T) {
	r := NewResolver(NewMemoryStore(), zerolog.Nop())
	cons := &consumer.Consumer{ID: "c3", Version: lti.V1P3}

	_, err := r.Resolve(context.Background(), v3Launch(lti.UserIdentity{Subject: "u-9", Name: "Jane"}), cons)
	assert.Equal(t, lti.KindMissingIdentity, lti.KindOf(err))

	_, err = r.Resolve(context.Background(), v3Launch(lti.UserIdentity{Subject: "u-9", Email: "j@example.edu"}), cons)
	assert.Equal(t, lti.KindMissingIdentity, lti.KindOf(err))
}

func TestResolveV1P3UsesValidatedIdentity(t *testing.T) {
	store := NewMemoryStore()
	r := NewResolver(store, zerolog.Nop())
	cons := &consumer.Consumer{ID: "c3", Version: lti.V1P3}

	u, err := r.Resolve(context.Background(), v3Launch(lti.UserIdentity{
		Subject: "u-9", Name: "Jane Learner", Email: "jane@example.edu",
	}), cons)
	require.NoError(t, err)
	assert.Equal(t, "Jane Learner", u.Name)
}

func TestResolveCreateHooksMutateAndVeto(t *testing.T) {
	store := NewMemoryStore()
	mutate := func(_ context.Context, _ *lti.LaunchContext, u *User) error {
		u.Name = "prefixed-" + u.Name
		return nil
	}
	r := NewResolver(store, zerolog.Nop(), mutate)

	lc := v1Launch(map[string]any{
		"lis_person_name_full":             "Jane Learner",
		"lis_person_contact_email_primary": "jane@example.edu",
	})
	u, err := r.Resolve(context.Background(), lc, v1Consumer())
	require.NoError(t, err)
	assert.Equal(t, "prefixed-Jane Learner", u.Name)

	veto := func(_ context.Context, _ *lti.LaunchContext, _ *User) error {
		return errors.New("no new accounts today")
	}
	r = NewResolver(NewMemoryStore(), zerolog.Nop(), veto)
	_, err = r.Resolve(context.Background(), lc, v1Consumer())
	assert.Error(t, err)
}
