// Package repository declares the storage contracts the services depend on.
//
// The services only ever see these interfaces. sqlite.DB is the one real
// implementation; service tests swap in small in-memory fakes.
package repository

import (
	"context"

	"github.com/sakif/cycleconnect/internal/model"
)

// RideRepository owns rides and their participation rows.
//
// It is the only writer of Ride.ParticipantCount: JoinRide and LeaveRide
// change the participation row and the cached count in one transaction.
type RideRepository interface {
	ListRides(ctx context.Context, filter model.RideFilter) ([]model.Ride, error)
	GetRide(ctx context.Context, id string) (*model.Ride, error)
	CreateRide(ctx context.Context, ride *model.Ride) error
	UpdateRide(ctx context.Context, ride *model.Ride) error
	// DeleteRide removes the ride and all of its participation rows.
	DeleteRide(ctx context.Context, id string) error

	ListParticipants(ctx context.Context, rideID string) ([]model.RideParticipant, error)
	// JoinRide fills in p.ID and p.JoinedAt.
	JoinRide(ctx context.Context, p *model.RideParticipant) error
	// LeaveRide reports false when there was no matching row.
	LeaveRide(ctx context.Context, rideID, participantID string) (bool, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUser(ctx context.Context, user *model.User) error
}

type SessionRepository interface {
	CreateSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	DeleteSession(ctx context.Context, id string) error
	// DeleteExpiredSessions returns the number of rows removed.
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}
