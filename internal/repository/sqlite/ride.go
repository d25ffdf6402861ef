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

// compile-time check that *DB implements repository.RideRepository
var _ repository.RideRepository = (*DB)(nil)

const rideColumns = `id, title, description, date, start_time, start_location,
	start_latitude, start_longitude, distance, duration, difficulty,
	is_recurring, recurring_type, max_participants, requires_approval,
	has_route_map, organizer_id, organizer_name, participant_count, created_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows, so one scan
// function serves GetRide and ListRides.
type rowScanner interface {
	Scan(dest ...any) error
}

// ListRides returns every ride matching filter, soonest first.
//
// DYNAMIC WHERE CLAUSE:
// Each non-empty filter field appends one condition and one argument. The
// values still travel as ? placeholders; only the fixed condition strings
// are concatenated, so there is no injection surface.
//
// CASE-INSENSITIVE SUBSTRING:
// instr(ulower(col), ulower(?)) > 0 is used instead of LIKE so that user input
// containing % or _ is matched literally. ulower (see sqlite.go) folds
// non-ASCII letters too.
//
// Near/RadiusMiles are not handled here. Distance filtering needs
// trigonometry SQLite doesn't ship with, so the service applies it to the
// result of this query.
func (db *DB) ListRides(ctx context.Context, filter model.RideFilter) ([]model.Ride, error) {
	var (
		where []string
		args  []any
	)

	if filter.Difficulty != "" {
		where = append(where, "difficulty = ?")
		args = append(args, string(filter.Difficulty))
	}
	if filter.Date != nil {
		where = append(where, "substr(date, 1, 10) = ?")
		args = append(args, formatDay(*filter.Date))
	}
	if filter.Location != "" {
		where = append(where, "instr(ulower(start_location), ulower(?)) > 0")
		args = append(args, filter.Location)
	}
	if filter.Search != "" {
		where = append(where, `(instr(ulower(title), ulower(?)) > 0
			OR instr(ulower(coalesce(description, '')), ulower(?)) > 0
			OR instr(ulower(start_location), ulower(?)) > 0)`)
		args = append(args, filter.Search, filter.Search, filter.Search)
	}

	query := `SELECT ` + rideColumns + ` FROM rides`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY date ASC, created_at ASC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing rides: %w", err)
	}
	defer rows.Close()

	rides := make([]model.Ride, 0)
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning ride row: %w", err)
		}
		rides = append(rides, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating rides: %w", err)
	}

	return rides, nil
}

// GetRide returns apperror.ErrNotFound if no ride has that id.
func (db *DB) GetRide(ctx context.Context, id string) (*model.Ride, error) {
	return getRide(ctx, db.conn, id)
}

// queryer lets getRide run against the pool or inside a transaction.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRide(ctx context.Context, q queryer, id string) (*model.Ride, error) {
	r, err := scanRide(q.QueryRowContext(ctx,
		`SELECT `+rideColumns+` FROM rides WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("ride", id)
		}
		return nil, fmt.Errorf("sqlite: getting ride %s: %w", id, err)
	}
	return r, nil
}

// CreateRide assigns ID and CreatedAt and starts the count at zero,
// whatever the caller put in those fields.
func (db *DB) CreateRide(ctx context.Context, ride *model.Ride) error {
	ride.ID = xid.New().String()
	ride.CreatedAt = time.Now().UTC()
	ride.ParticipantCount = 0

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO rides (`+rideColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ride.ID,
		ride.Title,
		ride.Description,
		formatTime(ride.Date),
		ride.StartTime,
		ride.StartLocation,
		ride.StartLatitude,
		ride.StartLongitude,
		ride.Distance,
		ride.Duration,
		string(ride.Difficulty),
		boolToInt(ride.IsRecurring),
		recurringArg(ride.RecurringType),
		ride.MaxParticipants,
		boolToInt(ride.RequiresApproval),
		boolToInt(ride.HasRouteMap),
		ride.OrganizerID,
		ride.OrganizerName,
		ride.ParticipantCount,
		formatTime(ride.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating ride: %w", err)
	}
	return nil
}

// UpdateRide writes the full, already-merged ride.
//
// participant_count, organizer_id and created_at are deliberately absent
// from the SET list: they are owned by CreateRide and the join/leave
// transactions, never by an edit.
func (db *DB) UpdateRide(ctx context.Context, ride *model.Ride) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE rides SET
			title = ?, description = ?, date = ?, start_time = ?, start_location = ?,
			start_latitude = ?, start_longitude = ?, distance = ?, duration = ?,
			difficulty = ?, is_recurring = ?, recurring_type = ?, max_participants = ?,
			requires_approval = ?, has_route_map = ?, organizer_name = ?
		 WHERE id = ? AND (? IS NULL OR participant_count <= ?)`,
		ride.Title,
		ride.Description,
		formatTime(ride.Date),
		ride.StartTime,
		ride.StartLocation,
		ride.StartLatitude,
		ride.StartLongitude,
		ride.Distance,
		ride.Duration,
		string(ride.Difficulty),
		boolToInt(ride.IsRecurring),
		recurringArg(ride.RecurringType),
		ride.MaxParticipants,
		boolToInt(ride.RequiresApproval),
		boolToInt(ride.HasRouteMap),
		ride.OrganizerName,
		ride.ID,
		ride.MaxParticipants,
		ride.MaxParticipants,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating ride %s: %w", ride.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Either the ride is gone or more riders joined than the new cap.
		if _, err := db.GetRide(ctx, ride.ID); err != nil {
			return err
		}
		return apperror.ValidationFailed("maxParticipants",
			"maxParticipants cannot be lower than the number of riders already joined")
	}
	return nil
}

// DeleteRide removes the participation rows and then the ride, in one
// transaction. The FK also cascades, but the explicit delete keeps the
// behaviour independent of the foreign_keys pragma.
func (db *DB) DeleteRide(ctx context.Context, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM ride_participants WHERE ride_id = ?`, id,
		); err != nil {
			return fmt.Errorf("sqlite: deleting participants of ride %s: %w", id, err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM rides WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("sqlite: deleting ride %s: %w", id, err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: checking rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return apperror.NotFound("ride", id)
		}
		return nil
	})
}

func scanRide(s rowScanner) (*model.Ride, error) {
	var (
		r             model.Ride
		description   sql.NullString
		date          string
		lat, lng      sql.NullFloat64
		distance      sql.NullFloat64
		duration      sql.NullFloat64
		difficulty    string
		recurringType sql.NullString
		maxPart       sql.NullInt64
		createdAt     string
	)

	if err := s.Scan(
		&r.ID,
		&r.Title,
		&description,
		&date,
		&r.StartTime,
		&r.StartLocation,
		&lat,
		&lng,
		&distance,
		&duration,
		&difficulty,
		&r.IsRecurring,
		&recurringType,
		&maxPart,
		&r.RequiresApproval,
		&r.HasRouteMap,
		&r.OrganizerID,
		&r.OrganizerName,
		&r.ParticipantCount,
		&createdAt,
	); err != nil {
		return nil, err
	}

	var err error
	if r.Date, err = parseTime(date); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	r.Difficulty = model.Difficulty(difficulty)
	if description.Valid {
		r.Description = &description.String
	}
	if lat.Valid {
		r.StartLatitude = &lat.Float64
	}
	if lng.Valid {
		r.StartLongitude = &lng.Float64
	}
	if distance.Valid {
		r.Distance = &distance.Float64
	}
	if duration.Valid {
		r.Duration = &duration.Float64
	}
	if recurringType.Valid {
		rt := model.RecurringType(recurringType.String)
		r.RecurringType = &rt
	}
	if maxPart.Valid {
		n := int(maxPart.Int64)
		r.MaxParticipants = &n
	}

	return &r, nil
}

// recurringArg converts the optional enum into something database/sql can
// bind; a nil *model.RecurringType is not a driver.Valuer.
func recurringArg(rt *model.RecurringType) any {
	if rt == nil {
		return nil
	}
	return string(*rt)
}
