// Package auth resolves bearer credentials into principals and manages the
// credentials an account owns.
package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/rcourtman/pdfforge/internal/errors"
	"github.com/rcourtman/pdfforge/internal/plans"
	"github.com/rcourtman/pdfforge/internal/store"
)

const touchTimeout = 5 * time.Second

// Principal is the authenticated caller attached to a request.
type Principal struct {
	ID           string // account ID
	CredentialID string
	Tier         plans.Tier
	Active       bool
}

// Store is the persistence the resolver needs.
type Store interface {
	CredentialByHash(ctx context.Context, hash string) (*store.Credential, error)
	GetAccount(ctx context.Context, id string) (*store.Account, error)
	ActiveSubscription(ctx context.Context, accountID string) (*store.Subscription, error)
	TouchCredential(ctx context.Context, id string, at time.Time) error
}

// Resolver turns an Authorization header into a Principal.
type Resolver struct {
	store Store
	now   func() time.Time
	wg    sync.WaitGroup
}

// NewResolver creates a Resolver backed by s.
func NewResolver(s Store) *Resolver {
	return &Resolver{store: s, now: time.Now}
}

// Resolve verifies the bearer credential in header. A missing, malformed,
// unknown or disabled credential is Unauthenticated; an account without an
// active plan is Forbidden.
func (r *Resolver) Resolve(ctx context.Context, header string) (Principal, error) {
	const op = "resolve_credential"

	secret, ok := parseBearer(header)
	if !ok {
		return Principal{}, apperrors.Unauthenticated(op, "Missing or invalid Authorization header")
	}

	cred, err := r.store.CredentialByHash(ctx, HashSecret(secret))
	if err != nil {
		return Principal{}, apperrors.Internal(op, err)
	}
	if cred == nil || !cred.Active {
		return Principal{}, apperrors.Unauthenticated(op, "Invalid or inactive API key")
	}

	account, err := r.store.GetAccount(ctx, cred.AccountID)
	if err != nil {
		return Principal{}, apperrors.Internal(op, err)
	}
	if account == nil || !account.Active {
		return Principal{}, apperrors.Forbidden(op, "Account is not active")
	}

	sub, err := r.store.ActiveSubscription(ctx, cred.AccountID)
	if err != nil {
		return Principal{}, apperrors.Internal(op, err)
	}
	if sub == nil {
		return Principal{}, apperrors.Forbidden(op, "No active subscription found")
	}

	r.touch(cred.ID)

	return Principal{
		ID:           account.ID,
		CredentialID: cred.ID,
		Tier:         plans.Tier(sub.Tier),
		Active:       account.Active,
	}, nil
}

// Wait blocks until pending last-used updates have finished.
func (r *Resolver) Wait() {
	r.wg.Wait()
}

func (r *Resolver) touch(credentialID string) {
	at := r.now().UTC()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := r.store.TouchCredential(ctx, credentialID, at); err != nil {
			log.Warn().Err(err).Str("credential_id", credentialID).Msg("Failed to update credential last-used time")
		}
	}()
}

func parseBearer(header string) (string, bool) {
	header = strings.TrimSpace(header)
	scheme, secret, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	secret = strings.TrimSpace(secret)
	if secret == "" || strings.ContainsAny(secret, " \t") {
		return "", false
	}
	return secret, true
}

type principalKey struct{}

// WithPrincipal stores p on the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
