package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Storage is the durable artifact registry
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new Storage instance, opening/creating the DB and initializing schema
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storage := &Storage{db: db}

	// Initialize schema
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// initSchema creates tables and indices if they don't exist
func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS artifacts (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		domain TEXT NOT NULL,
		digest TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		original_url TEXT NOT NULL DEFAULT '',
		archive_url TEXT NOT NULL DEFAULT '',
		mimetype TEXT NOT NULL DEFAULT '',
		status_code INTEGER NOT NULL DEFAULT 0,
		file_name TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		stored_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(domain, digest)
	);

	CREATE INDEX IF NOT EXISTS idx_artifacts_domain ON artifacts(domain, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// LookupArtifact retrieves an artifact by domain and digest, returns nil if not found
func (s *Storage) LookupArtifact(domain, digest string) (*Artifact, error) {
	row := s.db.QueryRow(`
		SELECT seq, domain, digest, timestamp, original_url, archive_url, mimetype,
			status_code, file_name, size, stored_at
		FROM artifacts
		WHERE domain = ? AND digest = ?
	`, domain, digest)

	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}

	return a, nil
}

// RecordArtifact inserts an artifact or refreshes its file metadata if the digest is known.
// The discovery order (seq) of an existing entry is preserved; empty source URLs are filled in.
func (s *Storage) RecordArtifact(a Artifact) error {
	_, err := s.db.Exec(`
		INSERT INTO artifacts (domain, digest, timestamp, original_url, archive_url,
			mimetype, status_code, file_name, size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain, digest) DO UPDATE SET
			file_name = EXCLUDED.file_name,
			size = EXCLUDED.size,
			original_url = CASE WHEN artifacts.original_url = '' THEN EXCLUDED.original_url ELSE artifacts.original_url END,
			archive_url = CASE WHEN artifacts.archive_url = '' THEN EXCLUDED.archive_url ELSE artifacts.archive_url END
	`, a.Domain, a.Digest, a.Timestamp, a.OriginalURL, a.ArchiveURL,
		a.MimeType, a.StatusCode, a.FileName, a.Size)

	if err != nil {
		return fmt.Errorf("failed to record artifact: %w", err)
	}
	return nil
}

// ListArtifacts returns all artifacts of a domain in discovery order
func (s *Storage) ListArtifacts(domain string) ([]Artifact, error) {
	rows, err := s.db.Query(`
		SELECT seq, domain, digest, timestamp, original_url, archive_url, mimetype,
			status_code, file_name, size, stored_at
		FROM artifacts
		WHERE domain = ?
		ORDER BY seq ASC
	`, domain)

	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifacts: %w", err)
	}

	return artifacts, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row scanner) (*Artifact, error) {
	var a Artifact
	err := row.Scan(&a.Seq, &a.Domain, &a.Digest, &a.Timestamp, &a.OriginalURL, &a.ArchiveURL,
		&a.MimeType, &a.StatusCode, &a.FileName, &a.Size, &a.StoredAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
