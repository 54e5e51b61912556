//go:build !test_db_postgres

package cbdb

import (
	"testing"
)

// activeTestDB is the name of the backend the store tests run against.
const activeTestDB = "sqlite"

// NewTestDB is a helper function that creates an SQLite database for testing.
func NewTestDB(t *testing.T) *SqliteStore {
	return NewTestSqliteDB(t)
}
