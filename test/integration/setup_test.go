package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/eligibility/internal/platform/db"
	"github.com/ehr/eligibility/migrations"
)

// globalPool is nil when no Postgres is available; tests then skip.
var globalPool *pgxpool.Pool

// TestMain uses INTEGRATION_DATABASE_URL when set, otherwise a throwaway
// container.
func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr := os.Getenv("INTEGRATION_DATABASE_URL")
	cleanup := func() {}
	if connStr == "" {
		var err error
		connStr, cleanup, err = startPostgresContainer(ctx)
		if errors.Is(err, errNoDocker) {
			fmt.Fprintln(os.Stderr, "integration: docker unavailable, skipping postgres tests")
			os.Exit(m.Run())
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to setup postgres container: %v\n", err)
			os.Exit(1)
		}
	}

	pool, err := db.NewPool(ctx, connStr, 4, 1)
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}

	globalPool = pool
	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

func requirePool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if globalPool == nil {
		t.Skip("postgres not available")
	}
	return globalPool
}

// migratedSchema applies all migrations to a fresh schema and returns a pool
// whose connections default to it. The schema is dropped when the test ends.
func migratedSchema(t *testing.T, ctx context.Context) (*pgxpool.Pool, string) {
	t.Helper()
	base := requirePool(t)

	schema := "it_" + strings.ReplaceAll(uuid.New().String()[:8], "-", "")
	if _, err := db.NewMigrator(base, migrations.FS).WithSchema(schema).Up(ctx); err != nil {
		t.Fatalf("migrate %s: %v", schema, err)
	}

	cfg := base.Config().Copy()
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("schema pool: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		if _, err := base.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+pgx.Identifier{schema}.Sanitize()+" CASCADE"); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
	})
	return pool, schema
}
