package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/cycleconnect/internal/apperror"
	"github.com/sakif/cycleconnect/internal/model"
	"github.com/sakif/cycleconnect/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, username, email, password_hash, first_name, last_name, bio,
	location, experience_level, preferred_distance, bike_type, joined_at, is_active`

// CreateUser inserts a new user and fills in ID and JoinedAt.
//
// UNIQUENESS LIVES IN THE SCHEMA:
// The service checks for an existing username first to give a friendly error,
// but two simultaneous registrations can both pass that check. The UNIQUE
// indexes are what actually guarantee one row; we translate their violation
// into the same Conflict the service would have returned.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	user.JoinedAt = time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.Bio,
		user.Location,
		string(user.ExperienceLevel),
		string(user.PreferredDistance),
		user.BikeType,
		formatTime(user.JoinedAt),
		boolToInt(user.IsActive),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return uniqueUserConflict(err)
		}
		return fmt.Errorf("sqlite: inserting user %q: %w", user.Username, err)
	}
	return nil
}

// GetUserByID returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return db.getUser(ctx, "id", id)
}

// GetUserByEmail matches case-insensitively (the index is COLLATE NOCASE).
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.getUser(ctx, "email", email)
}

func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return db.getUser(ctx, "username", username)
}

// getUser looks a user up by one column. column is always one of our own
// constants, never user input.
func (db *DB) getUser(ctx context.Context, column, value string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = ?`
	if column != "id" {
		query += ` COLLATE NOCASE`
	}

	u, err := scanUser(db.conn.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", value)
		}
		return nil, fmt.Errorf("sqlite: getting user by %s: %w", column, err)
	}
	return u, nil
}

// ListUsers returns all users, oldest account first.
func (db *DB) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY joined_at ASC, rowid ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}
	return users, nil
}

// UpdateUser writes the profile fields of an existing user.
// id, password_hash and joined_at are not touched here.
func (db *DB) UpdateUser(ctx context.Context, user *model.User) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET
			username = ?, email = ?, first_name = ?, last_name = ?, bio = ?,
			location = ?, experience_level = ?, preferred_distance = ?,
			bike_type = ?, is_active = ?
		 WHERE id = ?`,
		user.Username,
		user.Email,
		user.FirstName,
		user.LastName,
		user.Bio,
		user.Location,
		string(user.ExperienceLevel),
		string(user.PreferredDistance),
		user.BikeType,
		boolToInt(user.IsActive),
		user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return uniqueUserConflict(err)
		}
		return fmt.Errorf("sqlite: updating user %s: %w", user.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("user", user.ID)
	}
	return nil
}

func scanUser(s rowScanner) (*model.User, error) {
	var (
		u          model.User
		bio        sql.NullString
		experience string
		distance   string
		joinedAt   string
	)
	if err := s.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.FirstName,
		&u.LastName,
		&bio,
		&u.Location,
		&experience,
		&distance,
		&u.BikeType,
		&joinedAt,
		&u.IsActive,
	); err != nil {
		return nil, err
	}

	var err error
	if u.JoinedAt, err = parseTime(joinedAt); err != nil {
		return nil, err
	}
	if bio.Valid {
		u.Bio = &bio.String
	}
	u.ExperienceLevel = model.ExperienceLevel(experience)
	u.PreferredDistance = model.PreferredDistance(distance)
	return &u, nil
}

// uniqueUserConflict names the field whose unique index was violated.
// SQLite reports it as "UNIQUE constraint failed: users.email".
func uniqueUserConflict(err error) error {
	if strings.Contains(err.Error(), "users.email") {
		return apperror.ConflictField("email", "email already registered")
	}
	return apperror.ConflictField("username", "username taken")
}
