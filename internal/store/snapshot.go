package store

import (
	"fmt"
	"os"
)

// Snapshot writes a consistent copy of the database to path, which must not
// exist yet. It is safe while aggregations keep writing.
func (s *Store) Snapshot(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("snapshot %s: file exists", path)
	}
	if _, err := s.db.Exec(`VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}
