package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/mlibrary/lti-tool-provider/internal/consumer"
	"github.com/mlibrary/lti-tool-provider/internal/lti"
)

// CreateHook runs against an about-to-be-created user before it is
// persisted. Hooks may mutate the user (default field values, roles) or
// return an error to veto the whole launch.
type CreateHook func(ctx context.Context, lc *lti.LaunchContext, u *User) error

// Resolver finds or creates the local user for a validated launch.
//
// Identity derivation is protocol-specific: v1.0/1.1 reads the consumer's
// configured name/mail parameter keys and falls back to the shared sentinel
// account when either is absent; v1.3 takes the validated identity claims
// and fails closed when either is empty. Resolution order is exact name
// match, then exact email match, then create.
type Resolver struct {
	store    Store
	onCreate []CreateHook
	log      zerolog.Logger
	now      func() time.Time
}

func NewResolver(store Store, log zerolog.Logger, onCreate ...CreateHook) *Resolver {
	return &Resolver{store: store, onCreate: onCreate, log: log, now: time.Now}
}

// Resolve returns the launch's local user, creating it on first sight.
func (r *Resolver) Resolve(ctx context.Context, lc *lti.LaunchContext, cons *consumer.Consumer) (*User, error) {
	name, email, err := identity(lc, cons)
	if err != nil {
		return nil, err
	}

	if u, err := r.store.ByName(ctx, name); err == nil {
		return u, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("user: lookup by name: %w", err)
	}
	if u, err := r.store.ByEmail(ctx, email); err == nil {
		return u, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("user: lookup by email: %w", err)
	}

	u, err := r.create(ctx, lc, name, email)
	if err != nil {
		return nil, err
	}
	r.log.Info().Str("user", u.ID).Str("name", name).Msg("provisioned new user")
	return u, nil
}

func (r *Resolver) create(ctx context.Context, lc *lti.LaunchContext, name, email string) (*User, error) {
	// Accounts are activated immediately with a random password; there is
	// no email-verification flow for launched users.
	hash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("user: hash password: %w", err)
	}
	u := &User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Active:       true,
		CreatedAt:    r.now(),
	}
	for _, hook := range r.onCreate {
		if err := hook(ctx, lc, u); err != nil {
			return nil, err
		}
	}
	if err := r.store.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("user: create: %w", err)
	}
	return u, nil
}

func identity(lc *lti.LaunchContext, cons *consumer.Consumer) (name, email string, err error) {
	switch lc.Version() {
	case lti.V1P3:
		id := lc.Identity()
		if id.Name == "" {
			return "", "", lti.Errf(lti.KindMissingIdentity, "name not available for user provisioning")
		}
		if id.Email == "" {
			return "", "", lti.Errf(lti.KindMissingIdentity, "email not available for user provisioning")
		}
		return id.Name, id.Email, nil
	default:
		name, email = SentinelName, SentinelEmail
		nameParam, mailParam := cons.IdentityParams()
		if v := lc.Get(nameParam); v != "" {
			name = v
		}
		if v := lc.Get(mailParam); v != "" {
			email = v
		}
		return name, email, nil
	}
}
