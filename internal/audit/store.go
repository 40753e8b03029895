// Package audit implements a durable, best-effort AuditSink (§9) backed by
// the same pure-Go SQLite driver and WAL-mode connection shape as the
// retrieval pack's sqlite.DB, generalized from model/node-info tables to an
// append-only audit_event log. Event payloads are lz4-compressed before
// insertion, since audit volume at PROCESSING/COMPLETED/FAILED cadence for a
// busy tenant can dwarf the model-registry row counts the teacher's schema
// was sized for.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
	_ "modernc.org/sqlite"

	"github.com/infercore/infercore/internal/domain"
)

// Store is a durable domain.AuditSink. Record is best-effort: a write
// failure is logged, never returned or propagated to the orchestrator,
// matching §9's "audit persistence is best-effort" design note.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the audit database at dir/audit.db in WAL mode.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	dsn := filepath.Join(dir, "audit.db") + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping audit db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS audit_event (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id   TEXT NOT NULL,
		tenant_id    TEXT NOT NULL,
		model_id     TEXT NOT NULL,
		runner_name  TEXT NOT NULL,
		phase        TEXT NOT NULL,
		status       TEXT NOT NULL,
		error_kind   TEXT NOT NULL DEFAULT '',
		at           INTEGER NOT NULL,
		payload      BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_request ON audit_event(request_id);
	CREATE INDEX IF NOT EXISTS idx_audit_tenant_at ON audit_event(tenant_id, at);
	`)
	return err
}

// Record persists one AuditEvent, compressing the encoded payload with lz4.
// Failures are logged and swallowed (§9 best-effort).
func (s *Store) Record(_ context.Context, event domain.AuditEvent) {
	raw, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("audit encode failed", slog.Any("error", err))
		return
	}
	compressed, err := compress(raw)
	if err != nil {
		s.logger.Error("audit compress failed", slog.Any("error", err))
		return
	}

	_, err = s.db.Exec(
		`INSERT INTO audit_event (request_id, tenant_id, model_id, runner_name, phase, status, error_kind, at, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.RequestID, event.TenantID, event.ModelID, event.RunnerName,
		string(event.Phase), event.Status, event.ErrorKind, event.At, compressed,
	)
	if err != nil {
		s.logger.Error("audit write failed", slog.Any("error", err))
	}
}

// RecentForRequest returns decompressed events for one request, newest last.
func (s *Store) RecentForRequest(requestID string, limit int) ([]domain.AuditEvent, error) {
	rows, err := s.db.Query(
		`SELECT payload FROM audit_event WHERE request_id = ? ORDER BY id ASC LIMIT ?`,
		requestID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		raw, err := decompress(payload)
		if err != nil {
			return nil, err
		}
		var e domain.AuditEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity, used by the health checker (§12).
func (s *Store) Ping() error {
	return s.db.Ping()
}

func compress(raw []byte) ([]byte, error) {
	buf := make([]byte, lz4.CompressBlockBound(len(raw)))
	var c lz4.Compressor
	n, err := c.CompressBlock(raw, buf)
	if err != nil {
		return nil, err
	}
	// The first byte flags the encoding: 1 for an lz4 block, 0 for raw
	// bytes, used when CompressBlock emits n=0 for incompressible input
	// rather than an error.
	if n == 0 {
		return append([]byte{0}, raw...), nil
	}
	return append([]byte{1}, buf[:n]...), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty audit payload")
	}
	flag, body := data[0], data[1:]
	if flag == 0 {
		return body, nil
	}
	dst := make([]byte, len(body)*4+64)
	for attempt := 0; attempt < 10; attempt++ {
		n, err := lz4.UncompressBlock(body, dst)
		if err == nil {
			return dst[:n], nil
		}
		dst = make([]byte, len(dst)*2)
	}
	return nil, fmt.Errorf("audit payload did not fit expanding buffer")
}
