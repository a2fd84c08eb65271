package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "pdfforge.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createAccount(t *testing.T, s *Store) *Account {
	t.Helper()
	a := &Account{Email: "", Active: true}
	if err := s.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return a
}

func addCredential(t *testing.T, s *Store, accountID, hash string, active bool) *Credential {
	t.Helper()
	c := &Credential{AccountID: accountID, Name: hash, SecretHash: hash, Active: active}
	if err := s.InsertCredential(context.Background(), c, 0); err != nil {
		t.Fatalf("InsertCredential: %v", err)
	}
	return c
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pdfforge.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	_ = s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()
	if err := s2.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestAccountsAndSubscriptions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &Account{Email: "ops@example.com", Active: true}
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	got, err := s.GetAccount(ctx, a.ID)
	if err != nil || got == nil {
		t.Fatalf("GetAccount: %v %v", got, err)
	}
	if got.Email != "ops@example.com" || !got.Active {
		t.Fatalf("unexpected account: %+v", got)
	}

	missing, err := s.GetAccount(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for missing account, got %v %v", missing, err)
	}

	sub, err := s.ActiveSubscription(ctx, a.ID)
	if err != nil || sub != nil {
		t.Fatalf("expected no subscription, got %v %v", sub, err)
	}

	if _, err := s.ActivateSubscription(ctx, a.ID, "starter"); err != nil {
		t.Fatalf("ActivateSubscription: %v", err)
	}
	if _, err := s.ActivateSubscription(ctx, a.ID, "professional"); err != nil {
		t.Fatalf("ActivateSubscription upgrade: %v", err)
	}
	sub, err = s.ActiveSubscription(ctx, a.ID)
	if err != nil || sub == nil {
		t.Fatalf("ActiveSubscription: %v %v", sub, err)
	}
	if sub.Tier != "professional" {
		t.Fatalf("expected professional, got %s", sub.Tier)
	}

	var active int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM subscriptions WHERE account_id = ? AND status = 'active'`, a.ID).Scan(&active); err != nil {
		t.Fatal(err)
	}
	if active != 1 {
		t.Fatalf("expected exactly one active subscription, got %d", active)
	}

	if err := s.CancelSubscription(ctx, a.ID); err != nil {
		t.Fatalf("CancelSubscription: %v", err)
	}
	if sub, _ := s.ActiveSubscription(ctx, a.ID); sub != nil {
		t.Fatalf("expected no active subscription after cancel")
	}

	if err := s.SetAccountActive(ctx, "nope", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCredentialCeiling(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createAccount(t, s)

	for i, hash := range []string{"h1", "h2"} {
		c := &Credential{AccountID: a.ID, SecretHash: hash, Active: true}
		if err := s.InsertCredential(ctx, c, 2); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	err := s.InsertCredential(ctx, &Credential{AccountID: a.ID, SecretHash: "h3", Active: true}, 2)
	if !errors.Is(err, ErrCredentialCeiling) {
		t.Fatalf("expected ErrCredentialCeiling, got %v", err)
	}
}

func TestDeleteLastActiveCredentialRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createAccount(t, s)

	only := addCredential(t, s, a.ID, "only", true)
	if err := s.DeleteCredential(ctx, a.ID, only.ID); !errors.Is(err, ErrLastActiveCredential) {
		t.Fatalf("expected ErrLastActiveCredential, got %v", err)
	}

	inactive := addCredential(t, s, a.ID, "inactive", false)
	if err := s.DeleteCredential(ctx, a.ID, only.ID); !errors.Is(err, ErrLastActiveCredential) {
		t.Fatalf("inactive siblings must not count, got %v", err)
	}
	if err := s.DeleteCredential(ctx, a.ID, inactive.ID); err != nil {
		t.Fatalf("deleting an inactive credential should succeed: %v", err)
	}
}

func TestDeleteNonLastActiveCredential(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createAccount(t, s)

	keep := addCredential(t, s, a.ID, "keep", true)
	drop := addCredential(t, s, a.ID, "drop", true)

	if err := s.DeleteCredential(ctx, a.ID, drop.ID); err != nil {
		t.Fatalf("DeleteCredential: %v", err)
	}

	list, err := s.ListCredentials(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListCredentials: %v", err)
	}
	if len(list) != 1 || list[0].ID != keep.ID || !list[0].Active {
		t.Fatalf("sibling credential affected: %+v", list)
	}

	if err := s.DeleteCredential(ctx, a.ID, drop.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestCredentialsScopedToAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createAccount(t, s)
	b := createAccount(t, s)

	c := addCredential(t, s, a.ID, "a1", true)
	addCredential(t, s, a.ID, "a2", true)

	if _, err := s.GetCredential(ctx, b.ID, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound across accounts, got %v", err)
	}
	if err := s.DeleteCredential(ctx, b.ID, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting another account's credential, got %v", err)
	}
}

func TestUpdateCredentialDeactivation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createAccount(t, s)

	first := addCredential(t, s, a.ID, "first", true)
	second := addCredential(t, s, a.ID, "second", true)

	off := false
	if _, err := s.UpdateCredential(ctx, a.ID, second.ID, CredentialUpdate{Active: &off}); err != nil {
		t.Fatalf("deactivate second: %v", err)
	}
	if _, err := s.UpdateCredential(ctx, a.ID, first.ID, CredentialUpdate{Active: &off}); !errors.Is(err, ErrLastActiveCredential) {
		t.Fatalf("expected ErrLastActiveCredential, got %v", err)
	}

	name := "renamed"
	updated, err := s.UpdateCredential(ctx, a.ID, first.ID, CredentialUpdate{Name: &name})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if updated.Name != "renamed" || !updated.Active {
		t.Fatalf("unexpected credential after rename: %+v", updated)
	}
}

func TestCredentialByHashAndTouch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createAccount(t, s)
	c := addCredential(t, s, a.ID, "abc", true)

	got, err := s.CredentialByHash(ctx, "abc")
	if err != nil || got == nil || got.ID != c.ID {
		t.Fatalf("CredentialByHash: %v %v", got, err)
	}
	if got.LastUsedAt != nil {
		t.Fatalf("expected nil LastUsedAt before touch")
	}

	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	if err := s.TouchCredential(ctx, c.ID, at); err != nil {
		t.Fatalf("TouchCredential: %v", err)
	}
	got, _ = s.CredentialByHash(ctx, "abc")
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(at) {
		t.Fatalf("LastUsedAt = %v, want %v", got.LastUsedAt, at)
	}

	none, err := s.CredentialByHash(ctx, "missing")
	if err != nil || none != nil {
		t.Fatalf("expected (nil, nil), got %v %v", none, err)
	}
}

func TestCountUsageSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	monthStart := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for _, at := range []time.Time{
		monthStart.Add(-time.Second),
		monthStart,
		monthStart.Add(48 * time.Hour),
	} {
		if err := s.InsertUsage(ctx, &UsageRecord{AccountID: "acct", Endpoint: "/v1/render", Status: 200, CreatedAt: at}); err != nil {
			t.Fatalf("InsertUsage: %v", err)
		}
	}
	if err := s.InsertUsage(ctx, &UsageRecord{AccountID: "other", Endpoint: "/v1/render", Status: 500, CreatedAt: monthStart}); err != nil {
		t.Fatalf("InsertUsage: %v", err)
	}

	n, err := s.CountUsageSince(ctx, "acct", monthStart)
	if err != nil {
		t.Fatalf("CountUsageSince: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 records since month start, got %d", n)
	}
}

func TestQueryRequestLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	statuses := []int{200, 201, 400, 429, 500, 101}
	for i, code := range statuses {
		l := &RequestLog{
			AccountID:  "acct",
			Endpoint:   "/v1/render",
			Method:     "POST",
			StatusCode: code,
			LatencyMS:  int64(10 * i),
			Params:     map[string]any{"hasContent": true, "batchSize": i},
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.InsertRequestLog(ctx, l); err != nil {
			t.Fatalf("InsertRequestLog: %v", err)
		}
	}
	old := &RequestLog{AccountID: "acct", Endpoint: "/v1/render", Method: "POST", StatusCode: 200, CreatedAt: base.Add(-30 * 24 * time.Hour)}
	if err := s.InsertRequestLog(ctx, old); err != nil {
		t.Fatalf("InsertRequestLog: %v", err)
	}

	logs, total, err := s.QueryRequestLogs(ctx, LogFilter{AccountID: "acct", Since: base.Add(-time.Hour)})
	if err != nil {
		t.Fatalf("QueryRequestLogs: %v", err)
	}
	if total != len(statuses) || len(logs) != len(statuses) {
		t.Fatalf("expected %d logs within retention, got total=%d len=%d", len(statuses), total, len(logs))
	}
	if logs[0].StatusCode != 101 {
		t.Fatalf("expected newest first, got %d", logs[0].StatusCode)
	}
	if logs[0].Params["hasContent"] != true {
		t.Fatalf("expected params round-trip, got %v", logs[0].Params)
	}

	_, total, err = s.QueryRequestLogs(ctx, LogFilter{AccountID: "acct", Since: base.Add(-time.Hour), Status: StatusClassSuccess})
	if err != nil || total != 2 {
		t.Fatalf("success filter: total=%d err=%v", total, err)
	}
	_, total, err = s.QueryRequestLogs(ctx, LogFilter{AccountID: "acct", Since: base.Add(-time.Hour), Status: StatusClassError})
	if err != nil || total != 4 {
		t.Fatalf("error filter: total=%d err=%v", total, err)
	}

	page, total, err := s.QueryRequestLogs(ctx, LogFilter{AccountID: "acct", Since: base.Add(-time.Hour), Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("paged query: %v", err)
	}
	if total != len(statuses) || len(page) != 2 || page[0].StatusCode != 500 {
		t.Fatalf("unexpected page: total=%d page=%+v", total, page)
	}
}

func TestWebhookConfigLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg, err := s.GetWebhookConfig(ctx, "acct")
	if err != nil || cfg != nil {
		t.Fatalf("expected no config, got %v %v", cfg, err)
	}

	if err := s.SaveWebhookConfig(ctx, &WebhookConfig{AccountID: "acct", URL: "https://example.com/hook", Enabled: true, Secret: "s1"}); err != nil {
		t.Fatalf("SaveWebhookConfig: %v", err)
	}
	if err := s.SaveWebhookConfig(ctx, &WebhookConfig{AccountID: "acct", URL: "https://example.com/other", Enabled: false, Secret: "s1"}); err != nil {
		t.Fatalf("SaveWebhookConfig update: %v", err)
	}
	cfg, err = s.GetWebhookConfig(ctx, "acct")
	if err != nil || cfg == nil {
		t.Fatalf("GetWebhookConfig: %v %v", cfg, err)
	}
	if cfg.URL != "https://example.com/other" || cfg.Enabled || cfg.Secret != "s1" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	if err := s.DeleteWebhookConfig(ctx, "acct"); err != nil {
		t.Fatalf("DeleteWebhookConfig: %v", err)
	}
	if cfg, _ := s.GetWebhookConfig(ctx, "acct"); cfg != nil {
		t.Fatalf("expected config removed")
	}
}

func TestWebhookDeliveries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, ok := range []bool{true, false} {
		d := &WebhookDelivery{
			AccountID:      "acct",
			Event:          "pdf.generated",
			Payload:        `{"event":"pdf.generated"}`,
			ResponseStatus: map[bool]int{true: 200, false: 0}[ok],
			Success:        ok,
			CreatedAt:      time.Unix(int64(1000+i), 0),
		}
		if err := s.InsertWebhookDelivery(ctx, d); err != nil {
			t.Fatalf("InsertWebhookDelivery: %v", err)
		}
	}

	list, err := s.ListWebhookDeliveries(ctx, "acct", 10)
	if err != nil {
		t.Fatalf("ListWebhookDeliveries: %v", err)
	}
	if len(list) != 2 || list[0].Success || list[0].ResponseStatus != 0 {
		t.Fatalf("unexpected deliveries: %+v", list)
	}
}
