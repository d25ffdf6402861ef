package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/cycleconnect/internal/apperror"
	"github.com/sakif/cycleconnect/internal/model"
	"github.com/sakif/cycleconnect/internal/repository"
)

// UserService serves public profiles and lets a user edit their own.
type UserService struct {
	users  repository.UserRepository
	logger *slog.Logger
}

func NewUserService(users repository.UserRepository, logger *slog.Logger) *UserService {
	return &UserService{users: users, logger: logger}
}

// ProfilePatch is the body of PATCH /api/users/{id}.
// Username, email and password are not editable through it.
type ProfilePatch struct {
	FirstName         *string                  `json:"firstName"`
	LastName          *string                  `json:"lastName"`
	Bio               Optional[string]         `json:"bio"`
	Location          *string                  `json:"location"`
	ExperienceLevel   *model.ExperienceLevel   `json:"experienceLevel"`
	PreferredDistance *model.PreferredDistance `json:"preferredDistance"`
	BikeType          *string                  `json:"bikeType"`
}

func (s *UserService) List(ctx context.Context) ([]model.User, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		s.logger.Error("failed to list users", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

func (s *UserService) Get(ctx context.Context, id string) (*model.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "user ID is required")
	}
	return s.users.GetUserByID(ctx, id)
}

// UpdateProfile applies patch to user id. Only that user may do so.
func (s *UserService) UpdateProfile(ctx context.Context, actor *model.User, id string, patch ProfilePatch) (*model.User, error) {
	if actor.ID != id {
		return nil, apperror.Forbidden("you can only edit your own profile")
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.FirstName != nil {
		user.FirstName = strings.TrimSpace(*patch.FirstName)
	}
	if patch.LastName != nil {
		user.LastName = strings.TrimSpace(*patch.LastName)
	}
	if patch.Bio.Set {
		user.Bio = trimOptional(patch.Bio.Value)
	}
	if patch.Location != nil {
		user.Location = strings.TrimSpace(*patch.Location)
	}
	if patch.ExperienceLevel != nil {
		user.ExperienceLevel = *patch.ExperienceLevel
	}
	if patch.PreferredDistance != nil {
		user.PreferredDistance = *patch.PreferredDistance
	}
	if patch.BikeType != nil {
		user.BikeType = strings.TrimSpace(*patch.BikeType)
	}

	if err := validateStruct(user); err != nil {
		return nil, err
	}

	if err := s.users.UpdateUser(ctx, user); err != nil {
		s.logger.Error("failed to update user",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("updating user: %w", err)
	}

	s.logger.Info("profile updated", slog.String("userID", user.ID))
	return user, nil
}
