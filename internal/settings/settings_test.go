package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type failingBackend struct{ Memory }

func (*failingBackend) Lookup(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk on fire")
}

func TestStore_Defaults(t *testing.T) {
	t.Parallel()
	s := New(&Memory{})
	ctx := context.Background()

	if got := s.UserName(ctx); got != DefaultUserName {
		t.Errorf("UserName = %q, want %q", got, DefaultUserName)
	}
	if got := s.AssistantName(ctx); got != DefaultAssistantName {
		t.Errorf("AssistantName = %q, want %q", got, DefaultAssistantName)
	}
	if s.Muted(ctx) {
		t.Error("Muted = true, want false")
	}
	if got := s.Provider(ctx).Kind; got != DefaultProvider {
		t.Errorf("Provider.Kind = %q, want %q", got, DefaultProvider)
	}
}

func TestStore_BackendErrorFallsBackToDefault(t *testing.T) {
	t.Parallel()
	s := New(&failingBackend{})
	if got := s.Get(context.Background(), KeyUserName, "fallback"); got != "fallback" {
		t.Errorf("Get = %q, want fallback", got)
	}
}

func TestStore_BoolParsing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for _, tc := range []struct {
		raw  string
		want bool
	}{
		{"true", true},
		{"True", true},
		{"1", true},
		{"false", false},
		{"garbage", false},
	} {
		s := New(&Memory{})
		if err := s.Set(ctx, KeyMuted, tc.raw); err != nil {
			t.Fatal(err)
		}
		if got := s.Muted(ctx); got != tc.want {
			t.Errorf("Muted(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestStore_SetProviderClearsLocalKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(&Memory{})

	if err := s.SetProvider(ctx, Provider{Kind: "ollama", APIKey: "leftover"}); err != nil {
		t.Fatal(err)
	}
	if got := s.Provider(ctx).APIKey; got != "" {
		t.Errorf("APIKey = %q, want empty for local provider", got)
	}

	if err := s.SetProvider(ctx, Provider{Kind: "groq", APIKey: "gsk"}); err != nil {
		t.Fatal(err)
	}
	want := Provider{Kind: "groq", APIKey: "gsk"}
	if diff := cmp.Diff(want, s.Provider(ctx)); diff != "" {
		t.Errorf("Provider mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_SnapshotRedactsKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(&Memory{})
	_ = s.Set(ctx, KeyAPIKey, "secret")
	_ = s.SetUserName(ctx, "Alex")

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{KeyAPIKey: "********", KeyUserName: "Alex"}
	if diff := cmp.Diff(want, snap); diff != "" {
		t.Errorf("Snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_RejectsEmptyKey(t *testing.T) {
	t.Parallel()
	if err := New(&Memory{}).Set(context.Background(), "", "x"); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestNiceName(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct{ raw, fallback, want string }{
		{"luna", "Luna", "Luna"},
		{"  misaki ", "Luna", "Misaki"},
		{"", "Luna", "Luna"},
		{"", "", ""},
	} {
		if got := NiceName(tc.raw, tc.fallback); got != tc.want {
			t.Errorf("NiceName(%q, %q) = %q, want %q", tc.raw, tc.fallback, got, tc.want)
		}
	}
}

func TestSQLite_RoundTripAndReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "config.db")

	db, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	s := New(db)
	if err := s.SetAssistantName(ctx, "Zira"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAssistantName(ctx, "Misaki"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMuted(ctx, true); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	db, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s = New(db)
	t.Cleanup(func() { _ = s.Close() })

	if got := s.AssistantName(ctx); got != "Misaki" {
		t.Errorf("AssistantName = %q, want Misaki", got)
	}
	if !s.Muted(ctx) {
		t.Error("Muted = false after reopen")
	}
	if got := s.Get(ctx, "missing", "def"); got != "def" {
		t.Errorf("Get(missing) = %q, want def", got)
	}
}

func TestPostgres_RoundTrip(t *testing.T) {
	dsn := os.Getenv("LUNA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LUNA_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	db, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	s := New(db)
	t.Cleanup(func() { _ = s.Close() })

	if err := s.SetUserName(ctx, "Alex"); err != nil {
		t.Fatal(err)
	}
	if got := s.UserName(ctx); got != "Alex" {
		t.Errorf("UserName = %q, want Alex", got)
	}
}
