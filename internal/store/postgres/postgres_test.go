package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	storepkg "github.com/mnemon-ai/mnemon/internal/store"
	"github.com/mnemon-ai/mnemon/internal/store/storetest"
)

// TestPostgresStoreCompliance runs the shared store suite against a
// disposable Postgres container. Skipped in -short runs and when
// Docker is unavailable.
func TestPostgresStoreCompliance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Postgres integration test in short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "mnemon",
			"POSTGRES_PASSWORD": "mnemon",
			"POSTGRES_DB":       "mnemon_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://mnemon:mnemon@%s:%s/mnemon_test?sslmode=disable", host, port.Port())

	db, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Bootstrap(ctx, db))

	storetest.Run(t, func(t *testing.T) storepkg.Store {
		t.Helper()
		_, err := db.Exec(`TRUNCATE messages, outbox RESTART IDENTITY`)
		require.NoError(t, err)
		return NewWithDB(db)
	})
}
