// Package testing provides testing utilities and helpers for the portfolio manager.
package testing

import (
	"path/filepath"
	"testing"

	"github.com/aristath/portfolio-manager/internal/database"
)

// NewTestDB creates a temporary file-backed SQLite database with the schema
// for name applied. Returns the database and a cleanup function.
//
// Supported schema names:
//   - "journal" - applies journal_schema.sql
//   - "cache" - applies cache_schema.sql
//   - Unknown names - creates empty database (no schema applied)
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	path := filepath.Join(t.TempDir(), name+".db")

	profile := database.ProfileStandard
	if name == database.NameCache {
		profile = database.ProfileCache
	}

	db, err := database.New(database.Config{
		Path:    path,
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	// the temp dir itself is removed by the testing package
	return db, func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	}
}
