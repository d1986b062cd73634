// Package testenv provides connections to the external stores used by
// integration tests. Tests that need a store skip unless its environment
// variable is set.
package testenv

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	surrealdb "github.com/surrealdb/surrealdb.go"
)

const (
	// EnvPostgresDSN is the environment variable that specifies the
	// PostgreSQL DSN for integration tests.
	EnvPostgresDSN = "LMS_POSTGRES_DSN"

	// EnvSurrealURL is the environment variable that specifies the SurrealDB
	// URL for integration tests.
	EnvSurrealURL = "SURREALDB_URL"

	// DefaultNamespace is the namespace integration tests use.
	DefaultNamespace = "surreallms_test"
)

// PostgresDSN returns the test DSN or skips the test.
func PostgresDSN(t testing.TB) string {
	t.Helper()
	dsn := os.Getenv(EnvPostgresDSN)
	if dsn == "" {
		t.Skipf("%s not set", EnvPostgresDSN)
	}
	return dsn
}

func surrealHTTPURL(u string) string {
	return strings.Replace(strings.Replace(u, "wss://", "https://", 1), "ws://", "http://", 1)
}

// NewSurreal connects to the test SurrealDB, signs in as root and removes
// the given tables. It skips the test when SURREALDB_URL is unset.
func NewSurreal(t testing.TB, database string, tables ...string) *surrealdb.DB {
	t.Helper()
	u := os.Getenv(EnvSurrealURL)
	if u == "" {
		t.Skipf("%s not set", EnvSurrealURL)
	}
	db, err := connect(context.Background(), surrealHTTPURL(u), database, tables...)
	if err != nil {
		t.Fatalf("Failed to create SurrealDB connection: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(context.Background()) })
	return db
}

func connect(ctx context.Context, url, database string, tables ...string) (*surrealdb.DB, error) {
	if database == "" {
		return nil, fmt.Errorf("database name must be specified")
	}
	db, err := surrealdb.FromEndpointURLString(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}
	if err = db.Use(ctx, DefaultNamespace, database); err != nil {
		return nil, fmt.Errorf("failed to use database: %w", err)
	}

	token, err := db.SignIn(ctx, &surrealdb.Auth{Username: "root", Password: "root"})
	if err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}
	if err = db.Authenticate(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	for _, table := range tables {
		// REMOVE TABLE does not accept a parameter for the table name.
		if _, err = surrealdb.Query[any](ctx, db, "REMOVE TABLE IF EXISTS "+table, nil); err != nil {
			return nil, fmt.Errorf("failed to remove table %s: %w", table, err)
		}
	}
	return db, nil
}
