// Package pgtest starts a disposable PostgreSQL container with the stock
// schema applied, for integration tests.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    pg := pgtest.MustStart()
//	    defer pg.Terminate()
//	    pool = pg.MustPool(context.Background())
//	    os.Exit(m.Run())
//	}
package pgtest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/migrations"
)

// Container wraps a running PostgreSQL container and its DSN.
type Container struct {
	Container testcontainers.Container
	DSN       string
}

// MustStart starts PostgreSQL 16. It exits the process on failure, which suits TestMain.
func MustStart() *Container {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "odyssey",
			"POSTGRES_PASSWORD": "odyssey",
			"POSTGRES_DB":       "odyssey_stock",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fail("start container", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		fail("container host", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fail("container port", err)
	}
	dsn := fmt.Sprintf("postgres://odyssey:odyssey@%s:%s/odyssey_stock?sslmode=disable", host, port.Port())
	return &Container{Container: container, DSN: dsn}
}

// MustPool connects to the container and applies all migrations.
func (c *Container) MustPool(ctx context.Context) *pgxpool.Pool {
	pool, err := db.New(ctx, c.DSN)
	if err != nil {
		fail("connect", err)
	}
	if err := db.RunMigrations(ctx, pool, migrations.FS, Logger()); err != nil {
		fail("migrate", err)
	}
	return pool
}

// Terminate stops and removes the container.
func (c *Container) Terminate() {
	_ = c.Container.Terminate(context.Background())
}

// Logger returns a logger that only reports warnings, for test output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "pgtest: %s: %v\n", step, err)
	os.Exit(1)
}
