// internal/testutils/db_test_helper.go
package testutils

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

// SetupArchiveDB returns a PostgreSQL DSN for archive tests and a cleanup
// function that should be deferred by the caller to drop the tables the
// test created. Archive tests need a real database; they are skipped
// unless CERTFORGE_TEST_ARCHIVE_DSN points at one.
func SetupArchiveDB(t *testing.T) (string, func()) {
	t.Helper()

	dsn := os.Getenv("CERTFORGE_TEST_ARCHIVE_DSN")
	if dsn == "" {
		t.Skip("Set CERTFORGE_TEST_ARCHIVE_DSN to run archive tests against a real database")
	}

	cleanup := func() {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			t.Logf("WARN: Failed to open database for cleanup: %s", err)
			return
		}
		defer db.Close()
		if _, err := db.Exec(`DROP TABLE IF EXISTS issuance_runs`); err != nil {
			t.Logf("WARN: Failed to drop test tables: %s", err)
		}
	}

	return dsn, cleanup
}
