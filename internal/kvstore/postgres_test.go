package kvstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/AquaToken/aqua-voting-tracker/internal/kvstore"
	"github.com/AquaToken/aqua-voting-tracker/internal/testutil"
)

func TestPostgresStore(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	s := kvstore.NewPostgres(db)

	if err := s.Set(ctx, "voting.effects_cursor", "100-1", kvstore.Forever); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "voting.effects_cursor", "200-1", kvstore.Forever); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get(ctx, "voting.effects_cursor")
	if err != nil || !ok || v != "200-1" {
		t.Fatalf("Get: got (%q, %v, %v), want 200-1", v, ok, err)
	}

	if err := s.Set(ctx, "short", "x", time.Millisecond); err != nil {
		t.Fatalf("Set ttl: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, ok, _ := s.Get(ctx, "short"); ok {
		t.Error("expired key still readable")
	}
	if n, err := s.PurgeExpired(ctx); err != nil || n != 1 {
		t.Errorf("PurgeExpired: got (%d, %v), want 1", n, err)
	}

	if err := s.Delete(ctx, "voting.effects_cursor"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "voting.effects_cursor"); ok {
		t.Error("deleted key still readable")
	}
}
