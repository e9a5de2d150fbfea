package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/incidentq/internal/submission"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the durable submission queue backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	db, err := openDB(dataDir)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(0); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// NewWithDB wraps an already-migrated database handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func openDB(dataDir string) (*sql.DB, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "incidentq.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	return db, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for tests and diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate applies embedded migrations that haven't been run yet. A non-zero
// upTo stops after that version.
func (s *Store) migrate(upTo int) error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}
		if upTo > 0 && version > upTo {
			break
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Queue ---

// Add persists sub and returns its newly assigned identifier. Identifiers
// come from an AUTOINCREMENT key and are never reused after deletion.
func (s *Store) Add(ctx context.Context, sub submission.Submission) (int64, error) {
	fieldsJSON, err := json.Marshal(sub.Fields)
	if err != nil {
		return 0, fmt.Errorf("%w: encoding fields: %v", ErrUnencodable, err)
	}
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var name, typ sql.NullString
	var data []byte
	if a := sub.Attachment; a != nil {
		name = sql.NullString{String: a.Filename, Valid: true}
		typ = sql.NullString{String: a.ContentType, Valid: true}
		data = a.Data
		if data == nil {
			data = []byte{}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fault("add", fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO submissions (fields_json, created_at, attachment_name, attachment_type, attachment_data)
		VALUES (?, ?, ?, ?, ?)`,
		string(fieldsJSON), createdAt.UTC().Format(time.RFC3339Nano), name, typ, data,
	)
	if err != nil {
		return 0, fault("add", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fault("add", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fault("add", fmt.Errorf("committing: %w", err))
	}
	return id, nil
}

// GetAll returns every queued submission, oldest first.
func (s *Store) GetAll(ctx context.Context) ([]submission.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fields_json, created_at, attachment_name, attachment_type, attachment_data
		FROM submissions ORDER BY id ASC`)
	if err != nil {
		return nil, fault("get_all", err)
	}
	defer rows.Close()

	var results []submission.Submission
	for rows.Next() {
		var (
			sub        submission.Submission
			fieldsJSON string
			createdAt  string
			name, typ  sql.NullString
			data       []byte
		)
		if err := rows.Scan(&sub.ID, &fieldsJSON, &createdAt, &name, &typ, &data); err != nil {
			return nil, fault("get_all", err)
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &sub.Fields); err != nil {
			return nil, fault("get_all", fmt.Errorf("decoding fields of submission %d: %w", sub.ID, err))
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fault("get_all", fmt.Errorf("parsing created_at of submission %d: %w", sub.ID, err))
		}
		sub.CreatedAt = t
		if name.Valid {
			sub.Attachment = &submission.Attachment{
				Filename:    name.String,
				ContentType: typ.String,
				Data:        data,
			}
		}
		results = append(results, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("get_all", err)
	}
	return results, nil
}

// Delete removes the submission with id. Unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM submissions WHERE id = ?`, id); err != nil {
		return fault("delete", err)
	}
	return nil
}

// Count returns the number of queued submissions.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions`).Scan(&n); err != nil {
		return 0, fault("count", err)
	}
	return n, nil
}
