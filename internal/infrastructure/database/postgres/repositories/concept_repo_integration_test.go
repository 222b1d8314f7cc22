//go:build integration

// Package repositories_test runs the concept repository against a real
// PostgreSQL. Tests require Docker and are gated behind the "integration"
// build tag.
package repositories_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/turtacn/ConceptGuard/internal/config"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/database/postgres"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConceptGuard/internal/intelligence/rules"
)

const migrationsPath = "../../../../../migrations"

// ─────────────────────────────────────────────────────────────────────────────
// Test helpers
// ─────────────────────────────────────────────────────────────────────────────

// startPostgres launches a PostgreSQL 16 container, migrates it and returns
// an open connection.
func startPostgres(t *testing.T) *postgres.Connection {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "conceptguard_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	var portNum int
	_, err = fmt.Sscanf(port.Port(), "%d", &portNum)
	require.NoError(t, err)

	conn, err := postgres.NewConnection(ctx, config.PostgresConfig{
		Host:     host,
		Port:     portNum,
		User:     "test",
		Password: "test",
		DBName:   "conceptguard_test",
		SSLMode:  "disable",
		MaxConns: 4,
	}, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	require.NoError(t, postgres.RunMigrations(conn.ConnString(), migrationsPath))
	return conn
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestConceptRepository_Lifecycle(t *testing.T) {
	conn := startPostgres(t)
	ctx := context.Background()
	repo := repositories.NewConceptRepository(conn.Pool(), logging.NewNopLogger())

	version, dirty, err := postgres.MigrationStatus(conn.ConnString(), migrationsPath)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	n, err := repo.Upsert(ctx, []repositories.Concept{
		{ID: "C0018810", PreferredName: "Heart rate", TypeIDs: []string{"T201"}, Source: "umls"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	store := rules.NewStore(rules.Tables{Rows: []rules.Row{
		{Source: "numerical", Keyword: "HR", ConceptID: "C0018810", KeywordHints: "pulse"},
		{Source: "internal", Keyword: "Fever", ConceptID: "C0015967"},
	}}, rules.PolicyOverride, nil)
	n, err = repo.SeedFromRules(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	info, found, err := repo.Lookup(ctx, "c0018810")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Heart rate", info.PreferredName, "existing preferred name is kept")
	assert.Equal(t, []string{"T201"}, info.TypeIDs)

	info, found, err = repo.Lookup(ctx, "C0015967")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Fever", info.PreferredName)
	assert.Empty(t, info.TypeIDs)

	_, found, err = repo.Lookup(ctx, "C404")
	require.NoError(t, err)
	assert.False(t, found)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "C0015967", all[0].ID)
	assert.Equal(t, []string{"pulse"}, all[1].Synonyms)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, repo.Delete(ctx, "C0015967"))
	assert.Error(t, repo.Delete(ctx, "C0015967"))
}

func TestWithTransaction(t *testing.T) {
	conn := startPostgres(t)
	ctx := context.Background()
	pool := conn.Pool()

	_, err := pool.Exec(ctx, "CREATE TABLE tx_probe (id INT)")
	require.NoError(t, err)

	err = postgres.WithTransaction(ctx, pool, func(tx pgx.Tx, txCtx context.Context) error {
		_, err := tx.Exec(txCtx, "INSERT INTO tx_probe VALUES (1)")
		return err
	})
	require.NoError(t, err)

	err = postgres.WithTransaction(ctx, pool, func(tx pgx.Tx, txCtx context.Context) error {
		if _, err := tx.Exec(txCtx, "INSERT INTO tx_probe VALUES (2)"); err != nil {
			return err
		}
		return fmt.Errorf("intentional error for rollback test")
	})
	require.Error(t, err)

	assert.Panics(t, func() {
		_ = postgres.WithTransaction(ctx, pool, func(tx pgx.Tx, txCtx context.Context) error {
			_, _ = tx.Exec(txCtx, "INSERT INTO tx_probe VALUES (3)")
			panic("intentional panic")
		})
	})

	err = postgres.WithTransaction(ctx, pool, func(outer pgx.Tx, outerCtx context.Context) error {
		if _, err := outer.Exec(outerCtx, "INSERT INTO tx_probe VALUES (4)"); err != nil {
			return err
		}
		inner := postgres.WithTransaction(outerCtx, pool, func(tx pgx.Tx, innerCtx context.Context) error {
			_, _ = tx.Exec(innerCtx, "INSERT INTO tx_probe VALUES (5)")
			return fmt.Errorf("inner failure")
		})
		assert.Error(t, inner)
		return nil
	})
	require.NoError(t, err)

	var ids []int32
	rows, err := pool.Query(ctx, "SELECT id FROM tx_probe ORDER BY id")
	require.NoError(t, err)
	ids, err = pgx.CollectRows(rows, pgx.RowTo[int32])
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 4}, ids)

	require.NoError(t, conn.HealthCheck(ctx))
}
