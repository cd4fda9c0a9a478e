//go:build integration

package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "pgvector/pgvector:0.8.1-pg16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "mnemo_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	host, _ := pgContainer.Host(ctx)
	port, _ := pgContainer.MappedPort(ctx, "5432")
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/mnemo_test?sslmode=disable", host, port.Port())

	m, err := migrate.New("file://../../migrations", dsn)
	require.NoError(t, err)
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("running migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

// unit pads a 2-d direction to the table's 1536 dimensions.
func unit(x, y float32) []float32 {
	v := make([]float32, 1536)
	v[0], v[1] = x, y
	return v
}

func TestPostgresRepository(t *testing.T) {
	pool := setupPostgres(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()

	t.Run("create stamps counter and search ranks natively", func(t *testing.T) {
		p := newPartition()
		for i, v := range [][]float32{unit(1, 0), unit(0, 1), unit(1, 0.1)} {
			m := &Memory{AgentID: p.AgentID, UserID: p.UserID, KeyPoint: fmt.Sprintf("kp%d", i), Embedding: v}
			require.NoError(t, repo.Create(ctx, m))
			assert.Equal(t, int64(i+1), m.UpdateCount)
			assert.NotZero(t, m.ID)
		}

		results, err := repo.SearchSimilar(ctx, p, unit(1, 0), 5, 0.9)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "kp0", results[0].Memory.KeyPoint)
		assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)

		recent, err := repo.ListRecent(ctx, p, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "kp2", recent[0].KeyPoint)
		assert.Len(t, recent[0].Embedding, 1536)
	})

	t.Run("concurrent creates get distinct counts", func(t *testing.T) {
		p := newPartition()
		var wg sync.WaitGroup
		counts := make(chan int64, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				m := &Memory{AgentID: p.AgentID, UserID: p.UserID, KeyPoint: "x", Embedding: unit(1, 0)}
				if assert.NoError(t, repo.Create(ctx, m)) {
					counts <- m.UpdateCount
				}
			}()
		}
		wg.Wait()
		close(counts)

		seen := make(map[int64]bool)
		for c := range counts {
			assert.False(t, seen[c], "count %d handed out twice", c)
			seen[c] = true
		}
		assert.Len(t, seen, 20)

		count, err := repo.UpdateCount(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, int64(20), count)
	})

	t.Run("replace cluster is atomic", func(t *testing.T) {
		p := newPartition()
		var ids []int64
		for i := 0; i < 3; i++ {
			m := &Memory{AgentID: p.AgentID, UserID: p.UserID, KeyPoint: "x", Embedding: unit(1, 0)}
			require.NoError(t, repo.Create(ctx, m))
			ids = append(ids, m.ID)
		}

		// A missing id aborts the whole replacement.
		err := repo.ReplaceCluster(ctx, p, []int64{ids[0], 999999}, []*Memory{{KeyPoint: "s", Embedding: unit(1, 0)}})
		require.ErrorIs(t, err, ErrNotFound)
		n, _ := repo.CountByPartition(ctx, p)
		assert.Equal(t, int64(3), n)

		replacement := &Memory{KeyPoint: "summary", Embedding: unit(1, 0)}
		require.NoError(t, repo.ReplaceCluster(ctx, p, ids[:2], []*Memory{replacement}))
		assert.Equal(t, int64(3), replacement.UpdateCount)

		n, _ = repo.CountByPartition(ctx, p)
		assert.Equal(t, int64(2), n)
		count, _ := repo.UpdateCount(ctx, p)
		assert.Equal(t, int64(3), count)
	})

	t.Run("partition isolation and deletes", func(t *testing.T) {
		p1, p2 := newPartition(), newPartition()
		m1 := &Memory{AgentID: p1.AgentID, UserID: p1.UserID, KeyPoint: "mine", Embedding: unit(1, 0)}
		m2 := &Memory{AgentID: p2.AgentID, UserID: p2.UserID, KeyPoint: "theirs", Embedding: unit(1, 0)}
		require.NoError(t, repo.Create(ctx, m1))
		require.NoError(t, repo.Create(ctx, m2))

		_, err := repo.GetByID(ctx, p1, m2.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, repo.Delete(ctx, p1, m2.ID), ErrNotFound)

		got, err := repo.GetByID(ctx, p1, m1.ID)
		require.NoError(t, err)
		assert.Equal(t, "mine", got.KeyPoint)

		require.NoError(t, repo.DeleteByPartition(ctx, p1))
		require.NoError(t, repo.ResetUpdateCount(ctx, p1))
		n, _ := repo.CountByPartition(ctx, p1)
		assert.Zero(t, n)
		count, _ := repo.UpdateCount(ctx, p1)
		assert.Zero(t, count)
		n, _ = repo.CountByPartition(ctx, p2)
		assert.Equal(t, int64(1), n)
	})

	t.Run("missing embedding rejected", func(t *testing.T) {
		p := newPartition()
		err := repo.Create(ctx, &Memory{AgentID: p.AgentID, UserID: p.UserID, KeyPoint: "x"})
		assert.ErrorIs(t, err, ErrMissingEmbedding)
	})
}
