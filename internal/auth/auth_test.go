package auth

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/rcourtman/pdfforge/internal/errors"
	"github.com/rcourtman/pdfforge/internal/plans"
	"github.com/rcourtman/pdfforge/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func provision(t *testing.T, s *store.Store, tier plans.Tier) *Provisioned {
	t.Helper()
	p, err := Provision(context.Background(), s, "", tier)
	require.NoError(t, err)
	return p
}

func TestGenerateSecretFormat(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(secret, SecretPrefix))
	assert.Len(t, secret, len(SecretPrefix)+64)

	other, err := GenerateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)
}

func TestMask(t *testing.T) {
	secret := "pk_live_0123456789abcdef"
	assert.Equal(t, "pk_live_...cdef", Mask(secretPrefix(secret), secretSuffix(secret)))
}

func TestParseBearer(t *testing.T) {
	cases := map[string]bool{
		"Bearer pk_live_abc":  true,
		"bearer pk_live_abc":  true,
		"  Bearer  pk_live_x": true,
		"":                    false,
		"Bearer":              false,
		"Bearer ":             false,
		"Basic dXNlcjpwYXNz":  false,
		"pk_live_abc":         false,
		"Bearer a b":          false,
	}
	for header, want := range cases {
		_, ok := parseBearer(header)
		assert.Equal(t, want, ok, "header %q", header)
	}
}

func TestResolveSuccessTouchesLastUsed(t *testing.T) {
	s := newTestStore(t)
	p := provision(t, s, plans.Professional)

	r := NewResolver(s)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	principal, err := r.Resolve(context.Background(), "Bearer "+p.Secret)
	require.NoError(t, err)
	assert.Equal(t, p.AccountID, principal.ID)
	assert.Equal(t, p.CredentialID, principal.CredentialID)
	assert.Equal(t, plans.Professional, principal.Tier)
	assert.True(t, principal.Active)

	r.Wait()
	cred, err := s.CredentialByHash(context.Background(), HashSecret(p.Secret))
	require.NoError(t, err)
	require.NotNil(t, cred.LastUsedAt)
	assert.True(t, cred.LastUsedAt.Equal(fixed))
}

func TestResolveFailures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := NewResolver(s)

	_, err := r.Resolve(ctx, "")
	assert.Equal(t, apperrors.KindUnauthenticated, apperrors.KindOf(err))

	_, err = r.Resolve(ctx, "Bearer pk_live_unknown")
	assert.Equal(t, apperrors.KindUnauthenticated, apperrors.KindOf(err))

	// Disabled credential.
	p := provision(t, s, plans.Starter)
	second, err := NewCredentialManager(s, plans.NewTable()).Create(ctx, Principal{ID: p.AccountID, Tier: plans.Starter}, "second")
	require.NoError(t, err)
	off := false
	_, err = s.UpdateCredential(ctx, p.AccountID, second.ID, store.CredentialUpdate{Active: &off})
	require.NoError(t, err)
	_, err = r.Resolve(ctx, "Bearer "+second.Secret)
	assert.Equal(t, apperrors.KindUnauthenticated, apperrors.KindOf(err))

	// No active plan.
	require.NoError(t, s.CancelSubscription(ctx, p.AccountID))
	_, err = r.Resolve(ctx, "Bearer "+p.Secret)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	// Inactive account.
	q := provision(t, s, plans.Starter)
	require.NoError(t, s.SetAccountActive(ctx, q.AccountID, false))
	_, err = r.Resolve(ctx, "Bearer "+q.Secret)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	r.Wait()
}

type failingTouchStore struct {
	*store.Store
	touched chan struct{}
}

func (f *failingTouchStore) TouchCredential(context.Context, string, time.Time) error {
	defer close(f.touched)
	return errors.New("disk full")
}

func TestResolveIgnoresTouchFailure(t *testing.T) {
	s := newTestStore(t)
	p := provision(t, s, plans.Starter)

	fs := &failingTouchStore{Store: s, touched: make(chan struct{})}
	r := NewResolver(fs)

	_, err := r.Resolve(context.Background(), "Bearer "+p.Secret)
	require.NoError(t, err)

	select {
	case <-fs.touched:
	case <-time.After(5 * time.Second):
		t.Fatal("touch was never attempted")
	}
	r.Wait()
}

func TestCredentialManagerCeiling(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := provision(t, s, plans.Starter)
	principal := Principal{ID: p.AccountID, Tier: plans.Starter}
	m := NewCredentialManager(s, plans.NewTable())

	// Starter allows three credentials; Provision already created one.
	for i := 0; i < 2; i++ {
		_, err := m.Create(ctx, principal, "extra")
		require.NoError(t, err)
	}
	_, err := m.Create(ctx, principal, "one too many")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(err))

	_, err = m.Create(ctx, principal, "   ")
	assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(err))
}

func TestCredentialManagerListMasksSecrets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := provision(t, s, plans.Professional)
	m := NewCredentialManager(s, plans.NewTable())

	created, err := m.Create(ctx, Principal{ID: p.AccountID, Tier: plans.Professional}, "ci")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(created.Secret, SecretPrefix))

	list, err := m.List(ctx, Principal{ID: p.AccountID})
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, v := range list {
		assert.Len(t, v.Masked, 8+3+4)
		assert.True(t, strings.HasPrefix(v.Masked, "pk_live_..."))
		assert.NotContains(t, v.Masked, created.Secret[8:len(created.Secret)-4])
	}
}

func TestCredentialManagerLastActiveProtection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := provision(t, s, plans.Professional)
	principal := Principal{ID: p.AccountID, Tier: plans.Professional}
	m := NewCredentialManager(s, plans.NewTable())

	err := m.Delete(ctx, principal, p.CredentialID)
	assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(err))

	off := false
	_, err = m.Update(ctx, principal, p.CredentialID, nil, &off)
	assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(err))

	sibling, err := m.Create(ctx, principal, "sibling")
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, principal, sibling.ID))

	// Original credential still resolves.
	_, err = NewResolver(s).Resolve(ctx, "Bearer "+p.Secret)
	require.NoError(t, err)

	err = m.Delete(ctx, principal, "does-not-exist")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	_, err = m.Update(ctx, principal, p.CredentialID, nil, nil)
	assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(err))

	name := "primary"
	view, err := m.Update(ctx, principal, p.CredentialID, &name, nil)
	require.NoError(t, err)
	assert.Equal(t, "primary", view.Name)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{ID: "acct", Tier: plans.Enterprise})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "acct", p.ID)
}
