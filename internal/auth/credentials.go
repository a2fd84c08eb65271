package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/rcourtman/pdfforge/internal/errors"
	"github.com/rcourtman/pdfforge/internal/plans"
	"github.com/rcourtman/pdfforge/internal/store"
)

const maxCredentialNameLength = 100

// CredentialStore is the persistence the credential manager needs.
type CredentialStore interface {
	InsertCredential(ctx context.Context, c *store.Credential, ceiling int) error
	ListCredentials(ctx context.Context, accountID string) ([]*store.Credential, error)
	UpdateCredential(ctx context.Context, accountID, id string, u store.CredentialUpdate) (*store.Credential, error)
	DeleteCredential(ctx context.Context, accountID, id string) error
}

// CredentialView is the client-facing shape of a credential. The secret is
// only ever masked.
type CredentialView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Masked     string     `json:"key"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

// CreatedCredential carries the raw secret, returned exactly once.
type CreatedCredential struct {
	CredentialView
	Secret string `json:"secret"`
}

// CredentialManager implements create/list/update/delete for an account's
// credentials, enforcing the plan ceiling and last-active protection.
type CredentialManager struct {
	store CredentialStore
	plans *plans.Table
}

// NewCredentialManager creates a CredentialManager.
func NewCredentialManager(s CredentialStore, table *plans.Table) *CredentialManager {
	return &CredentialManager{store: s, plans: table}
}

// Create issues a new active credential named name.
func (m *CredentialManager) Create(ctx context.Context, p Principal, name string) (*CreatedCredential, error) {
	const op = "create_credential"

	name, err := normalizeName(op, name)
	if err != nil {
		return nil, err
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, apperrors.Internal(op, err)
	}

	ceiling := m.plans.Get(p.Tier).CredentialCeiling
	cred := &store.Credential{
		AccountID:  p.ID,
		Name:       name,
		SecretHash: HashSecret(secret),
		Prefix:     secretPrefix(secret),
		Suffix:     secretSuffix(secret),
		Active:     true,
	}
	if err := m.store.InsertCredential(ctx, cred, ceiling); err != nil {
		if errors.Is(err, store.ErrCredentialCeiling) {
			return nil, apperrors.InvalidInput(op,
				fmt.Sprintf("Maximum of %d API keys allowed on the %s plan", ceiling, p.Tier)).
				WithDetail("limit", ceiling)
		}
		return nil, apperrors.Internal(op, err)
	}

	log.Info().Str("principal_id", p.ID).Str("credential_id", cred.ID).Msg("Credential created")
	return &CreatedCredential{CredentialView: viewOf(cred), Secret: secret}, nil
}

// List returns the account's credentials with masked secrets.
func (m *CredentialManager) List(ctx context.Context, p Principal) ([]CredentialView, error) {
	creds, err := m.store.ListCredentials(ctx, p.ID)
	if err != nil {
		return nil, apperrors.Internal("list_credentials", err)
	}
	out := make([]CredentialView, 0, len(creds))
	for _, c := range creds {
		out = append(out, viewOf(c))
	}
	return out, nil
}

// Update renames or toggles a credential. Deactivating the last active
// credential is rejected.
func (m *CredentialManager) Update(ctx context.Context, p Principal, id string, name *string, active *bool) (*CredentialView, error) {
	const op = "update_credential"

	if name == nil && active == nil {
		return nil, apperrors.InvalidInput(op, "Nothing to update: provide name or active")
	}
	u := store.CredentialUpdate{Active: active}
	if name != nil {
		n, err := normalizeName(op, *name)
		if err != nil {
			return nil, err
		}
		u.Name = &n
	}

	cred, err := m.store.UpdateCredential(ctx, p.ID, id, u)
	if err != nil {
		return nil, mapStoreError(op, err)
	}
	view := viewOf(cred)
	return &view, nil
}

// Delete removes a credential. Deleting the last active credential is rejected.
func (m *CredentialManager) Delete(ctx context.Context, p Principal, id string) error {
	const op = "delete_credential"
	if err := m.store.DeleteCredential(ctx, p.ID, id); err != nil {
		return mapStoreError(op, err)
	}
	log.Info().Str("principal_id", p.ID).Str("credential_id", id).Msg("Credential deleted")
	return nil
}

func mapStoreError(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperrors.NotFound(op, "API key not found")
	case errors.Is(err, store.ErrLastActiveCredential):
		return apperrors.InvalidInput(op, "Cannot remove the last active API key")
	default:
		return apperrors.Internal(op, err)
	}
}

func normalizeName(op, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperrors.InvalidInput(op, "API key name is required")
	}
	if len(name) > maxCredentialNameLength {
		return "", apperrors.InvalidInput(op,
			fmt.Sprintf("API key name must be at most %d characters", maxCredentialNameLength))
	}
	return name, nil
}

func viewOf(c *store.Credential) CredentialView {
	return CredentialView{
		ID:         c.ID,
		Name:       c.Name,
		Masked:     Mask(c.Prefix, c.Suffix),
		Active:     c.Active,
		CreatedAt:  c.CreatedAt,
		LastUsedAt: c.LastUsedAt,
	}
}
