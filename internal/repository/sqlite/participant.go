package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/cycleconnect/internal/apperror"
	"github.com/sakif/cycleconnect/internal/model"
)

// ListParticipants returns the ride's participants, most recent first.
// rowid breaks ties between rows joined within the same nanosecond.
func (db *DB) ListParticipants(ctx context.Context, rideID string) ([]model.RideParticipant, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, ride_id, participant_id, participant_name, joined_at
		 FROM ride_participants
		 WHERE ride_id = ?
		 ORDER BY joined_at DESC, rowid DESC`,
		rideID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing participants of ride %s: %w", rideID, err)
	}
	defer rows.Close()

	participants := make([]model.RideParticipant, 0)
	for rows.Next() {
		var (
			p        model.RideParticipant
			joinedAt string
		)
		if err := rows.Scan(&p.ID, &p.RideID, &p.ParticipantID, &p.ParticipantName, &joinedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning participant row: %w", err)
		}
		if p.JoinedAt, err = parseTime(joinedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning participant row: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating participants: %w", err)
	}

	return participants, nil
}

// JoinRide inserts the participation row and refreshes the cached count.
//
// THE LOST-UPDATE RACE:
// "insert row, then count = count + 1" as two independent statements lets two
// concurrent joins interleave and drift the count away from the real number of
// rows. Everything here runs in ONE transaction, and because the DSN sets
// _txlock=immediate, BEGIN already holds SQLite's write lock: a second join
// waits (busy_timeout) until the first commits. The count is then recomputed
// from COUNT(*) rather than incremented, so it is correct even if an older
// build left it wrong.
func (db *DB) JoinRide(ctx context.Context, p *model.RideParticipant) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		ride, err := getRide(ctx, tx, p.RideID)
		if err != nil {
			return err
		}
		if ride.IsFull() {
			return apperror.ConflictField("rideId", "ride is full")
		}

		p.ID = xid.New().String()
		p.JoinedAt = time.Now().UTC()

		_, err = tx.ExecContext(ctx,
			`INSERT INTO ride_participants (id, ride_id, participant_id, participant_name, joined_at)
			 VALUES (?, ?, ?, ?, ?)`,
			p.ID,
			p.RideID,
			p.ParticipantID,
			p.ParticipantName,
			formatTime(p.JoinedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperror.ConflictField("participantId", "already joined this ride")
			}
			return fmt.Errorf("sqlite: inserting participant: %w", err)
		}

		return refreshParticipantCount(ctx, tx, p.RideID)
	})
}

// LeaveRide deletes the (rideID, participantID) row if present.
// No matching row is not an error: it returns false and leaves the count alone.
func (db *DB) LeaveRide(ctx context.Context, rideID, participantID string) (bool, error) {
	var left bool
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM ride_participants WHERE ride_id = ? AND participant_id = ?`,
			rideID, participantID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: deleting participant: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: checking rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return nil
		}
		left = true
		return refreshParticipantCount(ctx, tx, rideID)
	})
	if err != nil {
		return false, err
	}
	return left, nil
}

// refreshParticipantCount sets the cached count from a live COUNT(*).
// COUNT(*) is never negative, so the "clamp at zero" rule holds by construction.
func refreshParticipantCount(ctx context.Context, tx *sql.Tx, rideID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE rides
		 SET participant_count = (SELECT COUNT(*) FROM ride_participants WHERE ride_id = ?)
		 WHERE id = ?`,
		rideID, rideID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: refreshing participant count of ride %s: %w", rideID, err)
	}
	return nil
}
