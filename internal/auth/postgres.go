package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"kontakt.org/internal/ids"
)

const pgUniqueViolation = "23505"

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const credentialColumns = `id, username, email, password_hash, confirmed, refresh_token, avatar, role, created_at, updated_at`

func (s *PGStore) FindCredentialByEmail(ctx context.Context, email string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+credentialColumns+` from users where email=$1`, normalizeEmail(email))
	return scanCredential(row)
}

func (s *PGStore) FindCredentialByID(ctx context.Context, id string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+credentialColumns+` from users where id=$1`, id)
	return scanCredential(row)
}

// Persist inserts a new credential; a duplicate email maps to ErrAlreadyExists.
func (s *PGStore) Persist(ctx context.Context, cred *Credential) error {
	if cred == nil || cred.Email == "" {
		return ErrInvalidInput
	}
	if cred.ID == "" {
		cred.ID = ids.New()
	}
	if cred.Role == "" {
		cred.Role = RoleUser
	}
	if !cred.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, cred.Role)
	}
	err := s.db.QueryRowContext(ctx, `
		insert into users(id, username, email, password_hash, confirmed, refresh_token, avatar, role)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
		returning created_at, updated_at`,
		cred.ID, cred.Username, normalizeEmail(cred.Email), cred.PasswordHash,
		cred.Confirmed, nullString(cred.RefreshToken), cred.Avatar, string(cred.Role),
	).Scan(&cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrAlreadyExists
		}
		return storeErr(err)
	}
	return nil
}

// UpdateRefreshToken overwrites the stored token; last writer wins.
func (s *PGStore) UpdateRefreshToken(ctx context.Context, email string, token *string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set refresh_token=$2, updated_at=now() where email=$1`,
		normalizeEmail(email), nullString(token))
	return affectedOne(res, err)
}

func (s *PGStore) SetConfirmed(ctx context.Context, email string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set confirmed=true, updated_at=now() where email=$1`, normalizeEmail(email))
	return affectedOne(res, err)
}

func scanCredential(row *sql.Row) (*Credential, error) {
	var (
		c       Credential
		refresh sql.NullString
		avatar  sql.NullString
		role    string
	)
	err := row.Scan(&c.ID, &c.Username, &c.Email, &c.PasswordHash, &c.Confirmed,
		&refresh, &avatar, &role, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr(err)
	}
	if refresh.Valid {
		v := refresh.String
		c.RefreshToken = &v
	}
	c.Avatar = avatar.String
	c.Role = Role(role)
	return &c, nil
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %w", ErrStore, err)
}
