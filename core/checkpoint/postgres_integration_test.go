//go:build integration

package checkpoint

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgresContainer starts a disposable Postgres instance for the
// relational checkpointer tier, mirroring the rest of the storage-backend
// integration suite.
func setupPostgresContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "dialogrt",
			"POSTGRES_PASSWORD": "dialogrt",
			"POSTGRES_DB":       "dialogrt_checkpoints",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start postgres container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=dialogrt password=dialogrt dbname=dialogrt_checkpoints sslmode=disable", host, port.Port())

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}
	return dsn, cleanup
}

func TestPostgresCheckpointerRoundTrip(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	p, err := OpenPostgresCheckpointer(dsn)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.Save(ctx, &Snapshot{SessionID: "s1", CheckpointID: "c1", State: []byte(`{}`)}))
	require.NoError(t, p.Save(ctx, &Snapshot{SessionID: "s1", CheckpointID: "c2", State: []byte(`{}`)}))
	require.NoError(t, p.Save(ctx, &Snapshot{SessionID: "s1", CheckpointID: "c3", State: []byte(`{}`)}))

	latest, err := p.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "c3", latest.CheckpointID)

	all, err := p.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c3", "c2", "c1"}, []string{all[0].CheckpointID, all[1].CheckpointID, all[2].CheckpointID})

	rewound, err := p.Rewind(ctx, "s1", "c2")
	require.NoError(t, err)
	assert.Equal(t, "c2", rewound.CheckpointID)

	afterRewind, err := p.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, afterRewind, 2)

	require.NoError(t, p.Delete(ctx, "s1"))
	_, err = p.Load(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresCheckpointerLoadNotFound(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	p, err := OpenPostgresCheckpointer(dsn)
	require.NoError(t, err)

	_, err = p.Load(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}
