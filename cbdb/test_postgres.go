//go:build test_db_postgres

package cbdb

import (
	"testing"
)

// activeTestDB is the name of the backend the store tests run against.
const activeTestDB = "postgres"

// NewTestDB is a helper function that creates a Postgres database for testing.
func NewTestDB(t *testing.T) *PostgresStore {
	return NewTestPostgresDB(t)
}
