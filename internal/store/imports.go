package store

import (
	"database/sql"
	"time"
)

// GetImportedFileHash returns the content hash recorded for an import source,
// or "" if it was never imported.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT hash FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// HasImportedHash reports whether any source with this content hash was imported.
func (s *Store) HasImportedHash(hash string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM imported_files WHERE hash = ?`, hash).Scan(&n)
	return n > 0, err
}

// SetImportedFileHash remembers the content hash of an imported source.
func (s *Store) SetImportedFileHash(path, hash string) error {
	_, err := s.db.Exec(
		`INSERT INTO imported_files (path, hash, imported_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = excluded.hash, imported_at = excluded.imported_at`,
		path, hash, time.Now(),
	)
	return err
}
