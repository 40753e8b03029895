// Package registry provides a SQLite-backed domain.ManifestProvider, adapted
// from the retrieval pack's model registry (WAL mode, single-writer
// connection pool) but storing ModelManifest rows instead of pulled-model
// metadata.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO required

	"github.com/infercore/infercore/internal/domain"
)

// Store is a durable registry of ModelManifest rows, keyed by
// (tenantId, modelId), implementing domain.ManifestProvider.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/registry.db.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}

	dbPath := filepath.Join(dir, "registry.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS manifest (
		tenant_id TEXT NOT NULL,
		model_id  TEXT NOT NULL,
		version   TEXT NOT NULL,
		payload   BLOB NOT NULL,
		PRIMARY KEY (tenant_id, model_id)
	)`)
	return err
}

// Close shuts down the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks database connectivity, satisfying health.Pinger.
func (s *Store) Ping() error { return s.db.Ping() }

// Put inserts or replaces a manifest.
func (s *Store) Put(manifest domain.ModelManifest) error {
	payload, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO manifest (tenant_id, model_id, version, payload) VALUES (?, ?, ?, ?)
		 ON CONFLICT(tenant_id, model_id) DO UPDATE SET version=excluded.version, payload=excluded.payload`,
		manifest.TenantID, manifest.ModelID, manifest.Version, payload,
	)
	return err
}

// Resolve implements domain.ManifestProvider.
func (s *Store) Resolve(_ context.Context, tenantID, modelID string) (domain.ModelManifest, error) {
	var payload []byte
	err := s.db.QueryRow(
		`SELECT payload FROM manifest WHERE tenant_id = ? AND model_id = ?`,
		tenantID, modelID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.ModelManifest{}, fmt.Errorf("%w: %s", domain.ErrModelNotFound, modelID)
	}
	if err != nil {
		return domain.ModelManifest{}, err
	}

	var manifest domain.ModelManifest
	if err := json.Unmarshal(payload, &manifest); err != nil {
		return domain.ModelManifest{}, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return manifest, nil
}

// List returns every manifest registered for a tenant.
func (s *Store) List(tenantID string) ([]domain.ModelManifest, error) {
	rows, err := s.db.Query(`SELECT payload FROM manifest WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ModelManifest
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var m domain.ModelManifest
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
