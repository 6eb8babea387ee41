//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/advisa/consult/internal/domain/identity"
	"github.com/advisa/consult/internal/domain/scheduling"
	"github.com/advisa/consult/internal/platform/db"
)

// globalPool is shared by every test. Tests isolate themselves by creating
// their own users rather than by schema.
var globalPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr := os.Getenv("CONSULT_TEST_DATABASE_URL")
	cleanup := func() {}
	if connStr == "" {
		var err error
		connStr, cleanup, err = startPostgresContainer(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to setup postgres container: %v\n", err)
			os.Exit(1)
		}
	}

	pool, err := db.NewPool(ctx, connStr, 10, 1)
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	if _, err := db.NewMigrator(pool, os.DirFS(findMigrationsDir())).Up(ctx); err != nil {
		pool.Close()
		cleanup()
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	globalPool = pool
	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

// findMigrationsDir locates the migrations directory relative to this file.
func findMigrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

func createUser(t *testing.T, ctx context.Context, role, first, last string) *identity.User {
	t.Helper()
	u := &identity.User{
		Role:      role,
		FirstName: first,
		LastName:  last,
		Email:     fmt.Sprintf("%s.%s@example.com", first, uuid.NewString()[:8]),
	}
	if role == identity.RoleAdvisor {
		u.ConsultationFee = decimal.NewFromInt(60)
		u.Availability = scheduling.Availability{{
			Day:       scheduling.Monday,
			Available: true,
			Hours: scheduling.WindowList{
				{Start: scheduling.MustClock("08:00"), End: scheduling.MustClock("18:00")},
			},
		}}
	}
	if err := identity.NewRepoPG(globalPool).Create(ctx, u); err != nil {
		t.Fatalf("create %s: %v", role, err)
	}
	return u
}

// nextMonday returns a Monday at hh:00 UTC at least two days from now.
func nextMonday(hh int) time.Time {
	d := time.Now().UTC().AddDate(0, 0, 2)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), hh, 0, 0, 0, time.UTC)
}
