package persistence_test

import (
	"context"
	"testing"

	"github.com/AquaToken/aqua-voting-tracker/internal/persistence"
	"github.com/AquaToken/aqua-voting-tracker/internal/testutil"
	"github.com/rs/zerolog"
)

func TestMigratorStatusReportsAllApplied(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	m := persistence.NewMigrator(db, testutil.MigrationsDir(), zerolog.Nop())
	n, err := m.Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if n != 0 {
		t.Errorf("second Up applied %d migrations, want 0", n)
	}

	status, err := m.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(status) != 3 {
		t.Fatalf("status entries: got %d, want 3", len(status))
	}
	for _, s := range status {
		if !s.Applied {
			t.Errorf("migration %s not applied", s.Filename)
		}
	}
}
