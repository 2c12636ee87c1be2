package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/carebridge/internal/shared"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// SQLStore implements Repository over SQLite or Postgres.
type SQLStore struct {
	db     *sqlx.DB
	driver string
	retry  shared.RetryPolicy
}

var _ Repository = (*SQLStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	return Open(DriverSQLite, dsn)
}

// NewPostgres creates a new Postgres-backed repository.
func NewPostgres(dsn string) (*SQLStore, error) {
	return Open(DriverPostgres, dsn)
}

// Open connects to the database and ensures the schema exists.
func Open(driver, dsn string) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := newSQLStore(db, driver)
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func newSQLStore(db *sqlx.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver, retry: shared.DefaultRetryPolicy}
}

func (s *SQLStore) initSchema() error {
	ddl := schema
	if s.driver == DriverSQLite {
		ddl = "PRAGMA busy_timeout = 5000;\n" + ddl
		ddl = strings.ReplaceAll(ddl, "{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT")
	} else {
		ddl = strings.ReplaceAll(ddl, "{{serial}}", "BIGSERIAL PRIMARY KEY")
	}
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	last_seen_at BIGINT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS aid_programs (
	id {{serial}},
	code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	program_type TEXT NOT NULL,
	short_description TEXT NOT NULL DEFAULT '',
	full_description TEXT NOT NULL DEFAULT '',
	benefit_amount TEXT NOT NULL DEFAULT '',
	eligibility_json TEXT NOT NULL DEFAULT '[]',
	process_json TEXT NOT NULL DEFAULT '[]',
	contact_phone TEXT NOT NULL DEFAULT '',
	contact_email TEXT NOT NULL DEFAULT '',
	website TEXT NOT NULL DEFAULT '',
	priority INTEGER NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_aid_programs_priority ON aid_programs(priority);

CREATE TABLE IF NOT EXISTS tags (
	id {{serial}},
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS regions (
	id {{serial}},
	name TEXT NOT NULL UNIQUE,
	country TEXT NOT NULL DEFAULT '',
	code TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS program_tags (
	program_id BIGINT NOT NULL REFERENCES aid_programs(id) ON DELETE CASCADE,
	tag_id BIGINT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	PRIMARY KEY (program_id, tag_id)
);

CREATE TABLE IF NOT EXISTS program_regions (
	program_id BIGINT NOT NULL REFERENCES aid_programs(id) ON DELETE CASCADE,
	region_id BIGINT NOT NULL REFERENCES regions(id) ON DELETE CASCADE,
	PRIMARY KEY (program_id, region_id)
);

CREATE TABLE IF NOT EXISTS form_templates (
	id {{serial}},
	aid_program_id BIGINT REFERENCES aid_programs(id),
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	version TEXT NOT NULL DEFAULT '1.0',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	sections_json TEXT NOT NULL DEFAULT '[]',
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_form_templates_program ON form_templates(aid_program_id);

CREATE TABLE IF NOT EXISTS form_fields (
	id {{serial}},
	template_id BIGINT NOT NULL REFERENCES form_templates(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	label TEXT NOT NULL,
	field_type TEXT NOT NULL,
	section TEXT NOT NULL DEFAULT '',
	sort_order INTEGER NOT NULL DEFAULT 0,
	required BOOLEAN NOT NULL DEFAULT FALSE,
	placeholder TEXT NOT NULL DEFAULT '',
	help_text TEXT NOT NULL DEFAULT '',
	rules_json TEXT NOT NULL DEFAULT '[]',
	options_json TEXT NOT NULL DEFAULT '[]',
	autofill_source TEXT NOT NULL DEFAULT '',
	is_sensitive BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (template_id, name)
);

CREATE TABLE IF NOT EXISTS form_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	template_id BIGINT NOT NULL REFERENCES form_templates(id),
	current_section TEXT,
	form_data TEXT NOT NULL DEFAULT '{}',
	completed_fields TEXT NOT NULL DEFAULT '[]',
	is_completed BOOLEAN NOT NULL DEFAULT FALSE,
	started_at BIGINT NOT NULL,
	last_activity BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_form_sessions_user ON form_sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_form_sessions_activity ON form_sessions(last_activity);

CREATE TABLE IF NOT EXISTS user_profiles (
	user_id TEXT PRIMARY KEY,
	full_name TEXT NOT NULL DEFAULT '',
	birth_date TEXT NOT NULL DEFAULT '',
	gender TEXT NOT NULL DEFAULT '',
	id_number TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	phone_number TEXT NOT NULL DEFAULT '',
	alternative_phone TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT '',
	postal_code TEXT NOT NULL DEFAULT '',
	country TEXT NOT NULL DEFAULT '',
	preferred_language TEXT NOT NULL DEFAULT '',
	accessibility_needs TEXT NOT NULL DEFAULT '',
	income TEXT NOT NULL DEFAULT '',
	employment_status TEXT NOT NULL DEFAULT '',
	extra_json TEXT NOT NULL DEFAULT '{}',
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	doc_type TEXT NOT NULL,
	filename TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size_bytes BIGINT NOT NULL,
	storage_path TEXT NOT NULL,
	metadata_json TEXT NOT NULL DEFAULT '{}',
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(user_id, created_at);

CREATE TABLE IF NOT EXISTS email_verifications (
	id {{serial}},
	user_id TEXT NOT NULL,
	email TEXT NOT NULL,
	code_hash TEXT NOT NULL,
	used BOOLEAN NOT NULL DEFAULT FALSE,
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_email_verifications_email ON email_verifications(email, created_at);
CREATE INDEX IF NOT EXISTS idx_email_verifications_user ON email_verifications(user_id, used);
`

// Ping verifies database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Driver returns the database driver name.
func (s *SQLStore) Driver() string {
	return s.driver
}

// write runs fn with retries for lock conflicts.
func (s *SQLStore) write(ctx context.Context, op string, fn func() error) error {
	return shared.RetryWrite(ctx, s.retry, op, fn)
}

// inTx runs fn in a transaction, retrying the whole transaction on lock
// conflicts.
func (s *SQLStore) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	return s.write(ctx, op, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin %s: %w", op, err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", op, err)
		}
		return nil
	})
}

// insertID runs an INSERT ... RETURNING id statement written with ?
// placeholders.
func insertID(ctx context.Context, q sqlx.ExtContext, query string, args ...any) (int64, error) {
	var id int64
	if err := sqlx.GetContext(ctx, q, &id, q.Rebind(query), args...); err != nil {
		return 0, err
	}
	return id, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().Unix()
	}
	return t.Unix()
}
