package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sakif/cycleconnect/internal/apperror"
	"github.com/sakif/cycleconnect/internal/model"
	"github.com/sakif/cycleconnect/internal/repository"
)

// =========================================================================
// MOCK REPOSITORIES
// =========================================================================
//
// In-memory stand-ins for the repository interfaces. They follow the same
// contracts as sqlite.DB (NotFound/Conflict errors, cached participant
// count) so the services can be tested without a database.
// Stored values are copies, so a test can't mutate state through a pointer
// it got back.

var (
	_ repository.RideRepository    = (*mockRideRepo)(nil)
	_ repository.UserRepository    = (*mockUserRepo)(nil)
	_ repository.SessionRepository = (*mockSessionRepo)(nil)
)

type mockRideRepo struct {
	mu           sync.Mutex
	rides        map[string]*model.Ride
	participants map[string][]model.RideParticipant // rideID → rows, oldest first
	nextID       int
	clock        time.Time

	// failList makes ListRides return an error.
	failList error
}

func newMockRideRepo() *mockRideRepo {
	return &mockRideRepo{
		rides:        make(map[string]*model.Ride),
		participants: make(map[string][]model.RideParticipant),
		clock:        time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// tick returns a strictly increasing timestamp so ordering is deterministic.
func (m *mockRideRepo) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *mockRideRepo) ListRides(_ context.Context, f model.RideFilter) ([]model.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failList != nil {
		return nil, m.failList
	}

	out := []model.Ride{}
	for _, r := range m.rides {
		if f.Difficulty != "" && r.Difficulty != f.Difficulty {
			continue
		}
		if f.Date != nil && !r.Date.Equal(*f.Date) {
			continue
		}
		if f.Location != "" && !containsFold(r.StartLocation, f.Location) {
			continue
		}
		if f.Search != "" {
			desc := ""
			if r.Description != nil {
				desc = *r.Description
			}
			if !containsFold(r.Title, f.Search) && !containsFold(desc, f.Search) && !containsFold(r.StartLocation, f.Search) {
				continue
			}
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *mockRideRepo) GetRide(_ context.Context, id string) (*model.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rides[id]
	if !ok {
		return nil, apperror.NotFound("ride", id)
	}
	cp := *r
	return &cp, nil
}

func (m *mockRideRepo) CreateRide(_ context.Context, r *model.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	r.ID = fmt.Sprintf("ride-%d", m.nextID)
	r.CreatedAt = m.tick()
	r.ParticipantCount = 0
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *mockRideRepo) UpdateRide(_ context.Context, r *model.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.rides[r.ID]
	if !ok {
		return apperror.NotFound("ride", r.ID)
	}
	cp := *r
	cp.OrganizerID = old.OrganizerID
	cp.ParticipantCount = old.ParticipantCount
	cp.CreatedAt = old.CreatedAt
	m.rides[r.ID] = &cp
	return nil
}

func (m *mockRideRepo) DeleteRide(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rides[id]; !ok {
		return apperror.NotFound("ride", id)
	}
	delete(m.rides, id)
	delete(m.participants, id)
	return nil
}

func (m *mockRideRepo) ListParticipants(_ context.Context, rideID string) ([]model.RideParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.participants[rideID]
	out := make([]model.RideParticipant, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, rows[i])
	}
	return out, nil
}

func (m *mockRideRepo) JoinRide(_ context.Context, p *model.RideParticipant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rides[p.RideID]
	if !ok {
		return apperror.NotFound("ride", p.RideID)
	}
	for _, existing := range m.participants[p.RideID] {
		if existing.ParticipantID == p.ParticipantID {
			return apperror.ConflictField("participantId", "already joined this ride")
		}
	}
	if r.IsFull() {
		return apperror.ConflictField("rideId", "ride is full")
	}

	m.nextID++
	p.ID = fmt.Sprintf("part-%d", m.nextID)
	p.JoinedAt = m.tick()
	m.participants[p.RideID] = append(m.participants[p.RideID], *p)
	r.ParticipantCount = len(m.participants[p.RideID])
	return nil
}

func (m *mockRideRepo) LeaveRide(_ context.Context, rideID, participantID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.participants[rideID]
	for i, p := range rows {
		if p.ParticipantID == participantID {
			m.participants[rideID] = append(rows[:i:i], rows[i+1:]...)
			if r, ok := m.rides[rideID]; ok {
				r.ParticipantCount = len(m.participants[rideID])
			}
			return true, nil
		}
	}
	return false, nil
}

type mockUserRepo struct {
	mu     sync.Mutex
	users  map[string]*model.User
	nextID int
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*model.User)}
}

func (m *mockUserRepo) CreateUser(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if strings.EqualFold(existing.Username, u.Username) {
			return apperror.ConflictField("username", "username taken")
		}
		if strings.EqualFold(existing.Email, u.Email) {
			return apperror.ConflictField("email", "email already registered")
		}
	}
	m.nextID++
	u.ID = fmt.Sprintf("user-%d", m.nextID)
	u.JoinedAt = time.Date(2024, 1, 1, 0, 0, m.nextID, 0, time.UTC)
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	return m.findBy(func(u *model.User) bool { return strings.EqualFold(u.Email, email) }, email)
}

func (m *mockUserRepo) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	return m.findBy(func(u *model.User) bool { return strings.EqualFold(u.Username, username) }, username)
}

func (m *mockUserRepo) findBy(match func(*model.User) bool, key string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("user", key)
}

func (m *mockUserRepo) ListUsers(_ context.Context) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (m *mockUserRepo) UpdateUser(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[u.ID]; !ok {
		return apperror.NotFound("user", u.ID)
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

type mockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	now      func() time.Time
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]*model.Session), now: time.Now}
}

func (m *mockSessionRepo) CreateSession(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *mockSessionRepo) GetSession(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, apperror.NotFound("session", id)
	}
	cp := *s
	return &cp, nil
}

func (m *mockSessionRepo) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}

func (m *mockSessionRepo) DeleteExpiredSessions(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	now := m.now()
	for id, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// =========================================================================
// TEST HELPERS
// =========================================================================

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func ptr[T any](v T) *T { return &v }
