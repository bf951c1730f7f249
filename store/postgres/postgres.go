// Package postgres implements the CredentialStore on PostgreSQL.
// Counter bumps, digest swaps, and token consumption are single
// statements so concurrent logins and rotations never read-modify-write
// a whole record.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fundlift/identity"
	"github.com/fundlift/identity/store/postgres/migrations"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const uniqueViolation = "23505"

// Store is a CredentialStore backed by a PostgreSQL database.
type Store struct {
	db *sql.DB
}

// Open connects to the database and runs pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an existing database handle without migrating.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.Files)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const identityColumns = `
	id, email, COALESCE(username, ''), first_name, last_name, role, provider,
	password_hash, password_changed_at,
	is_verified, is_mobile_verified, is_profile_complete, is_suspended, is_deleted, deleted_at,
	login_retries, last_failed_login, last_login,
	refresh_digest,
	verify_token_hash, verify_token_expires,
	reset_token_hash, reset_token_expires, reset_retries, last_reset_request,
	restore_token_hash, restore_token_expires,
	tf_enabled, tf_method, tf_secret, tf_verified, tf_recovery_codes,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*identity.Identity, error) {
	var (
		ident           identity.Identity
		passwordChanged sql.NullTime
		deletedAt       sql.NullTime
		lastFailed      sql.NullTime
		lastLogin       sql.NullTime
		verifyExpires   sql.NullTime
		resetExpires    sql.NullTime
		lastReset       sql.NullTime
		restoreExpires  sql.NullTime
		recoveryCodes   string
	)

	err := row.Scan(
		&ident.ID, &ident.Email, &ident.Username, &ident.FirstName, &ident.LastName, &ident.Role, &ident.Provider,
		&ident.PasswordHash, &passwordChanged,
		&ident.Verified, &ident.MobileVerified, &ident.ProfileComplete, &ident.Suspended, &ident.Deleted, &deletedAt,
		&ident.LoginRetries, &lastFailed, &lastLogin,
		&ident.RefreshDigest,
		&ident.VerifyTokenHash, &verifyExpires,
		&ident.ResetTokenHash, &resetExpires, &ident.ResetRetries, &lastReset,
		&ident.RestoreTokenHash, &restoreExpires,
		&ident.TwoFactor.Enabled, &ident.TwoFactor.Method, &ident.TwoFactor.Secret, &ident.TwoFactor.Verified, &recoveryCodes,
		&ident.CreatedAt, &ident.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", identity.ErrStoreUnavailable, err)
	}

	ident.PasswordChangedAt = passwordChanged.Time
	ident.DeletedAt = deletedAt.Time
	ident.LastFailedLogin = lastFailed.Time
	ident.LastLogin = lastLogin.Time
	ident.VerifyTokenExpires = verifyExpires.Time
	ident.ResetTokenExpires = resetExpires.Time
	ident.LastResetRequest = lastReset.Time
	ident.RestoreTokenExpires = restoreExpires.Time
	ident.TwoFactor.RecoveryCodes = splitCodes(recoveryCodes)
	return &ident, nil
}

// Recovery code hashes are stored newline-joined in a single column.
func splitCodes(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, "\n")
}

func joinCodes(codes []string) string {
	return strings.Join(codes, "\n")
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (s *Store) Create(ctx context.Context, ident *identity.Identity) error {
	query := `
		INSERT INTO identities (
			email, username, first_name, last_name, role, provider,
			password_hash, password_changed_at, is_verified
		) VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query,
		ident.Email, ident.Username, ident.FirstName, ident.LastName,
		ident.Role, ident.Provider,
		ident.PasswordHash, nullTime(ident.PasswordChangedAt), ident.Verified,
	).Scan(&ident.ID, &ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return identity.ErrDuplicate
		}
		return fmt.Errorf("%w: %v", identity.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) FindByIdentifier(ctx context.Context, identifier string) (*identity.Identity, error) {
	query := `SELECT ` + identityColumns + `
		FROM identities
		WHERE lower(email) = lower($1) OR lower(username) = lower($1)`
	return scanIdentity(s.db.QueryRowContext(ctx, query, identifier))
}

func (s *Store) FindByID(ctx context.Context, id string) (*identity.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	return scanIdentity(s.db.QueryRowContext(ctx, query, id))
}

func tokenColumn(kind identity.TokenKind) (hashCol, expiresCol string, err error) {
	switch kind {
	case identity.TokenVerification:
		return "verify_token_hash", "verify_token_expires", nil
	case identity.TokenPasswordReset:
		return "reset_token_hash", "reset_token_expires", nil
	case identity.TokenRestore:
		return "restore_token_hash", "restore_token_expires", nil
	}
	return "", "", fmt.Errorf("unknown token kind %d", kind)
}

func (s *Store) FindByTokenHash(ctx context.Context, kind identity.TokenKind, hash []byte) (*identity.Identity, error) {
	hashCol, _, err := tokenColumn(kind)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + identityColumns + ` FROM identities WHERE ` + hashCol + ` = $1`
	return scanIdentity(s.db.QueryRowContext(ctx, query, hash))
}

func (s *Store) RecordLoginFailure(ctx context.Context, id string, at time.Time) (int, error) {
	query := `
		UPDATE identities
		SET login_retries = login_retries + 1, last_failed_login = $2, updated_at = now()
		WHERE id = $1
		RETURNING login_retries`

	var retries int
	if err := s.db.QueryRowContext(ctx, query, id, at).Scan(&retries); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, identity.ErrNotFound
		}
		return 0, fmt.Errorf("%w: %v", identity.ErrStoreUnavailable, err)
	}
	return retries, nil
}

func (s *Store) RecordLoginSuccess(ctx context.Context, id string, refreshDigest []byte, at time.Time) error {
	query := `
		UPDATE identities
		SET login_retries = 0, last_failed_login = NULL, last_login = $2,
		    refresh_digest = $3, updated_at = now()
		WHERE id = $1`
	return s.exec(ctx, query, id, at, refreshDigest)
}

func (s *Store) SwapRefreshDigest(ctx context.Context, id string, want, next []byte) (bool, error) {
	// IS NOT DISTINCT FROM treats a cleared (NULL) digest as comparable.
	query := `
		UPDATE identities
		SET refresh_digest = $3, updated_at = now()
		WHERE id = $1 AND refresh_digest IS NOT DISTINCT FROM $2`

	res, err := s.db.ExecContext(ctx, query, id, normalizeDigest(want), normalizeDigest(next))
	if err != nil {
		return false, fmt.Errorf("%w: %v", identity.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", identity.ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

func normalizeDigest(d []byte) []byte {
	if len(d) == 0 {
		return nil
	}
	return d
}

func (s *Store) ClearRefreshDigest(ctx context.Context, id string) error {
	return s.exec(ctx, `UPDATE identities SET refresh_digest = NULL, updated_at = now() WHERE id = $1`, id)
}

func (s *Store) SetFlowToken(ctx context.Context, id string, kind identity.TokenKind, hash []byte, expires time.Time) error {
	hashCol, expiresCol, err := tokenColumn(kind)
	if err != nil {
		return err
	}
	query := `UPDATE identities SET ` + hashCol + ` = $2, ` + expiresCol + ` = $3, updated_at = now() WHERE id = $1`
	return s.exec(ctx, query, id, hash, expires)
}

func (s *Store) ConsumeVerificationToken(ctx context.Context, hash []byte) (*identity.Identity, error) {
	query := `
		UPDATE identities
		SET is_verified = TRUE, verify_token_hash = NULL, verify_token_expires = NULL, updated_at = now()
		WHERE verify_token_hash = $1 AND verify_token_expires > now()
		RETURNING ` + identityColumns

	ident, err := scanIdentity(s.db.QueryRowContext(ctx, query, hash))
	if errors.Is(err, identity.ErrNotFound) {
		return nil, s.classifyMiss(ctx, "verify_token_hash", hash)
	}
	return ident, err
}

func (s *Store) ConsumePasswordResetToken(ctx context.Context, id string, hash []byte, newPasswordHash string, at time.Time) (*identity.Identity, error) {
	query := `
		UPDATE identities
		SET password_hash = $3, password_changed_at = $4,
		    reset_token_hash = NULL, reset_token_expires = NULL, reset_retries = 0,
		    login_retries = 0, last_failed_login = NULL,
		    refresh_digest = NULL, updated_at = now()
		WHERE id = $1 AND reset_token_hash = $2 AND reset_token_expires > now()
		RETURNING ` + identityColumns

	ident, err := scanIdentity(s.db.QueryRowContext(ctx, query, id, hash, newPasswordHash, at))
	if errors.Is(err, identity.ErrNotFound) {
		return nil, s.classifyResetMiss(ctx, id, hash)
	}
	return ident, err
}

// classifyResetMiss is classifyMiss scoped to one identity: the reset
// consume only honors the account's own token.
func (s *Store) classifyResetMiss(ctx context.Context, id string, hash []byte) error {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM identities WHERE id = $1 AND reset_token_hash = $2)`
	if err := s.db.QueryRowContext(ctx, query, id, hash).Scan(&exists); err != nil {
		return fmt.Errorf("%w: %v", identity.ErrStoreUnavailable, err)
	}
	if exists {
		return identity.ErrTokenExpired
	}
	return identity.ErrNotFound
}

func (s *Store) ConsumeRestoreToken(ctx context.Context, hash []byte) (*identity.Identity, error) {
	query := `
		UPDATE identities
		SET is_deleted = FALSE, deleted_at = NULL,
		    restore_token_hash = NULL, restore_token_expires = NULL, updated_at = now()
		WHERE restore_token_hash = $1 AND restore_token_expires > now()
		RETURNING ` + identityColumns

	ident, err := scanIdentity(s.db.QueryRowContext(ctx, query, hash))
	if errors.Is(err, identity.ErrNotFound) {
		return nil, s.classifyMiss(ctx, "restore_token_hash", hash)
	}
	return ident, err
}

// classifyMiss tells an expired token apart from an unknown one after a
// consume matched no rows.
func (s *Store) classifyMiss(ctx context.Context, hashCol string, hash []byte) error {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM identities WHERE ` + hashCol + ` = $1)`
	if err := s.db.QueryRowContext(ctx, query, hash).Scan(&exists); err != nil {
		return fmt.Errorf("%w: %v", identity.ErrStoreUnavailable, err)
	}
	if exists {
		return identity.ErrTokenExpired
	}
	return identity.ErrNotFound
}

func (s *Store) IncrementResetRetries(ctx context.Context, id string, at time.Time) (int, error) {
	query := `
		UPDATE identities
		SET reset_retries = reset_retries + 1, last_reset_request = $2, updated_at = now()
		WHERE id = $1
		RETURNING reset_retries`

	var retries int
	if err := s.db.QueryRowContext(ctx, query, id, at).Scan(&retries); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, identity.ErrNotFound
		}
		return 0, fmt.Errorf("%w: %v", identity.ErrStoreUnavailable, err)
	}
	return retries, nil
}

func (s *Store) SetPassword(ctx context.Context, id string, passwordHash string, at time.Time) error {
	query := `
		UPDATE identities
		SET password_hash = $2, password_changed_at = $3,
		    refresh_digest = NULL, updated_at = now()
		WHERE id = $1`
	return s.exec(ctx, query, id, passwordHash, at)
}

func (s *Store) UpdateTwoFactor(ctx context.Context, id string, tf identity.TwoFactor) error {
	query := `
		UPDATE identities
		SET tf_enabled = $2, tf_method = $3, tf_secret = $4, tf_verified = $5,
		    tf_recovery_codes = $6, updated_at = now()
		WHERE id = $1`
	return s.exec(ctx, query, id, tf.Enabled, string(tf.Method), tf.Secret, tf.Verified, joinCodes(tf.RecoveryCodes))
}

func (s *Store) MarkDeleted(ctx context.Context, id string, restoreHash []byte, expires time.Time, at time.Time) error {
	query := `
		UPDATE identities
		SET is_deleted = TRUE, deleted_at = $2,
		    restore_token_hash = $3, restore_token_expires = $4,
		    refresh_digest = NULL, updated_at = now()
		WHERE id = $1`
	return s.exec(ctx, query, id, at, restoreHash, expires)
}

func (s *Store) SetSuspended(ctx context.Context, id string, suspended bool) error {
	query := `
		UPDATE identities
		SET is_suspended = $2,
		    refresh_digest = CASE WHEN $2 THEN NULL ELSE refresh_digest END,
		    updated_at = now()
		WHERE id = $1`
	return s.exec(ctx, query, id, suspended)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", identity.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", identity.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

var _ identity.CredentialStore = (*Store)(nil)
