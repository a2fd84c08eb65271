package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/rcourtman/pdfforge/internal/plans"
	"github.com/rcourtman/pdfforge/internal/store"
)

// ProvisionStore is the persistence Provision needs.
type ProvisionStore interface {
	CreateAccount(ctx context.Context, a *store.Account) error
	ActivateSubscription(ctx context.Context, accountID, tier string) (*store.Subscription, error)
	InsertCredential(ctx context.Context, c *store.Credential, ceiling int) error
}

// Provisioned is the result of Provision.
type Provisioned struct {
	AccountID    string
	Tier         plans.Tier
	CredentialID string
	Secret       string
}

// Provision creates an active account on tier together with its first
// credential. It stands in for the external signup and billing flow.
func Provision(ctx context.Context, s ProvisionStore, email string, tier plans.Tier) (*Provisioned, error) {
	account := &store.Account{Email: strings.TrimSpace(email), Active: true}
	if err := s.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	if _, err := s.ActivateSubscription(ctx, account.ID, string(tier)); err != nil {
		return nil, err
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}
	cred := &store.Credential{
		AccountID:  account.ID,
		Name:       "Default",
		SecretHash: HashSecret(secret),
		Prefix:     secretPrefix(secret),
		Suffix:     secretSuffix(secret),
		Active:     true,
	}
	if err := s.InsertCredential(ctx, cred, 0); err != nil {
		return nil, fmt.Errorf("create initial credential: %w", err)
	}

	return &Provisioned{
		AccountID:    account.ID,
		Tier:         tier,
		CredentialID: cred.ID,
		Secret:       secret,
	}, nil
}
