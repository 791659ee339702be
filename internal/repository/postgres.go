// Package repository provides database operations for user accounts and
// login audit records.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kauthdev/kauth/provider"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// User represents a user account linked to a social login provider. The
// optional profile columns mirror the normalized profile: empty string means
// the field was not disclosed.
type User struct {
	ID             uuid.UUID
	Provider       string
	ProviderUserID string
	Email          string
	Name           string
	Image          string
	Phone          string
	Birthday       string
	BirthYear      string
	Gender         string
	AgeRange       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastLoginAt    time.Time
}

// LoginRecord is an audit row for a completed or failed login attempt.
type LoginRecord struct {
	ID        uuid.UUID
	UserID    *uuid.UUID
	Provider  string
	Outcome   string
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

// Repository defines data operations for the login service.
type Repository interface {
	UpsertFromProfile(ctx context.Context, providerKey string, profile provider.User) (*User, bool, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByProvider(ctx context.Context, providerKey, providerUserID string) (*User, error)
	RecordLogin(ctx context.Context, rec *LoginRecord) error
	PurgeLoginRecords(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Postgres implements Repository using PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a new PostgreSQL repository.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const userColumns = `id, provider, provider_user_id, email, name, image, phone, birthday, birth_year, gender, age_range, created_at, updated_at, last_login_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Provider, &u.ProviderUserID, &u.Email, &u.Name, &u.Image,
		&u.Phone, &u.Birthday, &u.BirthYear, &u.Gender, &u.AgeRange,
		&u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return &u, nil
}

// GetUserByID retrieves a user by ID.
func (r *Postgres) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// GetUserByProvider retrieves a user by provider key and provider user ID.
func (r *Postgres) GetUserByProvider(ctx context.Context, providerKey, providerUserID string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE provider = $1 AND provider_user_id = $2`
	return scanUser(r.pool.QueryRow(ctx, query, providerKey, providerUserID))
}

// getUserByEmail looks up an existing account by email for linking. Only
// called with a non-empty email.
func (r *Postgres) getUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

// UpsertFromProfile creates or updates a user account from a normalized
// profile. Matching order: (provider, provider user ID) first, then email
// for cross-provider account linking. Returns the stored user and whether
// the account was newly created.
func (r *Postgres) UpsertFromProfile(ctx context.Context, providerKey string, profile provider.User) (*User, bool, error) {
	existing, err := r.GetUserByProvider(ctx, providerKey, profile.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	if existing == nil && profile.Email != "" {
		existing, err = r.getUserByEmail(ctx, profile.Email)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}

	now := time.Now()

	if existing != nil {
		query := `
			UPDATE users
			SET provider = $2, provider_user_id = $3, email = $4, name = $5,
			    image = $6, phone = $7, birthday = $8, birth_year = $9,
			    gender = $10, age_range = $11, updated_at = $12, last_login_at = $12
			WHERE id = $1
			RETURNING ` + userColumns

		u, err := scanUser(r.pool.QueryRow(ctx, query,
			existing.ID, providerKey, profile.ID, coalesce(profile.Email, existing.Email),
			coalesce(profile.Name, existing.Name), coalesce(profile.Image, existing.Image),
			coalesce(profile.Phone, existing.Phone), coalesce(profile.Birthday, existing.Birthday),
			coalesce(profile.BirthYear, existing.BirthYear), coalesce(string(profile.Gender), existing.Gender),
			coalesce(profile.AgeRange, existing.AgeRange), now,
		))
		if err != nil {
			return nil, false, fmt.Errorf("updating user: %w", err)
		}
		return u, false, nil
	}

	query := `
		INSERT INTO users (id, provider, provider_user_id, email, name, image, phone, birthday, birth_year, gender, age_range, created_at, updated_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12, $12)
		RETURNING ` + userColumns

	u, err := scanUser(r.pool.QueryRow(ctx, query,
		uuid.New(), providerKey, profile.ID, profile.Email, profile.Name,
		profile.Image, profile.Phone, profile.Birthday, profile.BirthYear,
		string(profile.Gender), profile.AgeRange, now,
	))
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a race with a concurrent first login for the same account.
			u, err := r.GetUserByProvider(ctx, providerKey, profile.ID)
			if err != nil {
				return nil, false, err
			}
			return u, false, nil
		}
		return nil, false, fmt.Errorf("creating user: %w", err)
	}
	return u, true, nil
}

// RecordLogin inserts a login audit row.
func (r *Postgres) RecordLogin(ctx context.Context, rec *LoginRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now()

	query := `
		INSERT INTO login_records (id, user_id, provider, outcome, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.UserID, rec.Provider, rec.Outcome,
		rec.IPAddress, rec.UserAgent, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording login: %w", err)
	}
	return nil
}

// PurgeLoginRecords deletes audit rows older than the retention window and
// returns the number of rows removed.
func (r *Postgres) PurgeLoginRecords(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `DELETE FROM login_records WHERE created_at < $1`

	result, err := r.pool.Exec(ctx, query, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("purging login records: %w", err)
	}
	return result.RowsAffected(), nil
}

func coalesce(fresh, stored string) string {
	if fresh != "" {
		return fresh
	}
	return stored
}

// isUniqueViolation checks if an error is a unique constraint violation.
// Code 23505 is unique_violation.
func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "unique") || strings.Contains(err.Error(), "23505"))
}
