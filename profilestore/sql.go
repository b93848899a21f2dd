package profilestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	goGate "github.com/MrEthical07/goGate"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const profileColumns = `subject_id, display_name, avatar_ref, class_name, role, tenant_id,
	xp, level, streak, must_change_password, chat_locked, last_active_at, created_at, updated_at`

// SQL stores profiles in a "profiles" table through sqlx. Queries are
// written with ? placeholders and rebound for the driver.
type SQL struct {
	db *sqlx.DB
}

// OpenSQL connects with driver "postgres" or "mysql".
func OpenSQL(ctx context.Context, driver, dsn string) (*SQL, error) {
	switch driver {
	case "postgres", "mysql":
	default:
		return nil, fmt.Errorf("profilestore: unsupported driver %q", driver)
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	return NewSQL(db), nil
}

func NewSQL(db *sqlx.DB) *SQL {
	return &SQL{db: db}
}

// Close closes the underlying pool.
func (s *SQL) Close() error {
	return s.db.Close()
}

// EnsureTable creates the profiles table if it does not exist. Prefer
// migrations in production.
func (s *SQL) EnsureTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, ddlFor(s.db.DriverName()))
	return err
}

func ddlFor(driver string) string {
	ts := "TIMESTAMPTZ"
	if driver == "mysql" {
		ts = "DATETIME(6)"
	}
	return `CREATE TABLE IF NOT EXISTS profiles (
  subject_id VARCHAR(64) PRIMARY KEY,
  display_name VARCHAR(255) NOT NULL DEFAULT '',
  avatar_ref VARCHAR(512) NOT NULL DEFAULT '',
  class_name VARCHAR(255) NOT NULL DEFAULT '',
  role VARCHAR(32) NOT NULL DEFAULT 'student',
  tenant_id VARCHAR(64) NOT NULL DEFAULT '',
  xp BIGINT NOT NULL DEFAULT 0,
  level INT NOT NULL DEFAULT 1,
  streak INT NOT NULL DEFAULT 0,
  must_change_password BOOLEAN NOT NULL DEFAULT false,
  chat_locked BOOLEAN NOT NULL DEFAULT false,
  last_active_at ` + ts + ` NOT NULL,
  created_at ` + ts + ` NOT NULL,
  updated_at ` + ts + ` NOT NULL
)`
}

func (s *SQL) GetProfile(ctx context.Context, subjectID string) (*goGate.Profile, error) {
	q := s.db.Rebind(`SELECT ` + profileColumns + ` FROM profiles WHERE subject_id = ?`)
	var p goGate.Profile
	if err := s.db.GetContext(ctx, &p, q, subjectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goGate.ErrProfileNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *SQL) CreateProfile(ctx context.Context, p *goGate.Profile) error {
	q := `INSERT INTO profiles (` + profileColumns + `) VALUES (:subject_id, :display_name, :avatar_ref,
	:class_name, :role, :tenant_id, :xp, :level, :streak, :must_change_password, :chat_locked,
	:last_active_at, :created_at, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, q, p); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *SQL) UpdateProfile(ctx context.Context, p *goGate.Profile) error {
	const q = `UPDATE profiles SET display_name = :display_name, avatar_ref = :avatar_ref,
	class_name = :class_name, role = :role, tenant_id = :tenant_id, xp = :xp, level = :level,
	streak = :streak, must_change_password = :must_change_password, chat_locked = :chat_locked,
	last_active_at = :last_active_at, updated_at = :updated_at WHERE subject_id = :subject_id`
	res, err := s.db.NamedExecContext(ctx, q, p)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return goGate.ErrProfileNotFound
	}
	return nil
}

// isUniqueViolation matches postgres SQLSTATE 23505 and mysql error 1062.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "Error 1062")
}
