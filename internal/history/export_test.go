package history

import (
	"database/sql"
)

// BumpSchemaVersionForTest rewrites the stored schema version so Open
// reports a mismatch.
func BumpSchemaVersionForTest(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec("UPDATE schema_version SET version = ?", schemaVersion+1)
	return err
}
