package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"order-fulfillment/apperrors"
	"order-fulfillment/models"
	"order-fulfillment/repository"
	"order-fulfillment/utils"
)

type UserService struct {
	store  repository.Store
	logger *zap.Logger
}

func NewUserService(store repository.Store, logger *zap.Logger) *UserService {
	return &UserService{store: store, logger: logger}
}

func (s *UserService) FindByID(ctx context.Context, p models.Principal, id int64) (*models.User, error) {
	if p.UserID != id && !p.HasRole(models.RoleAdmin) {
		return nil, apperrors.AccessDenied("access denied to user %d", id)
	}
	user, err := s.store.Repositories().Users.FindByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "User", id)
	}
	return user, nil
}

func (s *UserService) UpdateRoles(ctx context.Context, p models.Principal, id int64, roles []models.Role) (user *models.User, err error) {
	if err := requireAdmin(p, "changing roles"); err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, apperrors.Validation("at least one role is required", "roles")
	}
	for _, r := range roles {
		if !r.Valid() {
			return nil, apperrors.Validation("unknown role: "+string(r), "roles")
		}
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		current, err := repos.Users.FindByID(ctx, id)
		if err != nil {
			return lookupErr(err, "User", id)
		}
		current.Roles = append([]models.Role(nil), roles...)
		user = current
		return repos.Users.Save(ctx, current)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("User roles updated", zap.Int64("user_id", id), zap.Any("roles", roles), zap.String("actor", p.Actor()))
	return user, nil
}

// ProfileUpdate holds the fields a user may change on their own account. Nil
// fields are left untouched.
type ProfileUpdate struct {
	Name  *string
	Email *string
}

// Me returns the caller's own account.
func (s *UserService) Me(ctx context.Context, p models.Principal) (*models.User, error) {
	return s.FindByID(ctx, p, p.UserID)
}

func (s *UserService) List(ctx context.Context, p models.Principal, page repository.PageRequest) (repository.Page[models.User], error) {
	if err := requireAdmin(p, "listing users"); err != nil {
		return repository.Page[models.User]{}, err
	}
	users, err := s.store.Repositories().Users.List(ctx, page)
	if err != nil {
		return repository.Page[models.User]{}, pageErr(err)
	}
	return users, nil
}

func (s *UserService) FindByEmail(ctx context.Context, p models.Principal, email string) (*models.User, error) {
	if err := requireAdmin(p, "looking up users by email"); err != nil {
		return nil, err
	}
	email = normalizeEmail(email)
	user, err := s.store.Repositories().Users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("User", "email", email)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", email, err)
	}
	return user, nil
}

func (s *UserService) FindByRole(ctx context.Context, p models.Principal, role models.Role) ([]models.User, error) {
	if err := requireAdmin(p, "listing users by role"); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, apperrors.Validation("unknown role: "+string(role), "role")
	}
	return s.store.Repositories().Users.FindByRole(ctx, role)
}

// UpdateProfile changes name and email of the user. Only the user themself or
// an ADMIN may do so, and the new email must not belong to another account.
func (s *UserService) UpdateProfile(ctx context.Context, p models.Principal, id int64, in ProfileUpdate) (user *models.User, err error) {
	if p.UserID != id && !p.HasRole(models.RoleAdmin) {
		return nil, apperrors.AccessDenied("access denied to user %d", id)
	}

	var v apperrors.ValidationErrors
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		switch {
		case name == "":
			v.Add("name", "is required")
		case len([]rune(name)) > maxNameLength:
			v.Add("name", "must be at most %d characters", maxNameLength)
		}
		in.Name = &name
	}
	if in.Email != nil {
		email := normalizeEmail(*in.Email)
		if err := validate.Var(email, "required,email"); err != nil {
			v.Add("email", "must be a valid email address")
		}
		in.Email = &email
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		current, err := repos.Users.FindByID(ctx, id)
		if err != nil {
			return lookupErr(err, "User", id)
		}
		if in.Email != nil && !strings.EqualFold(*in.Email, current.Email) {
			taken, err := repos.Users.ExistsByEmail(ctx, *in.Email)
			if err != nil {
				return err
			}
			if taken {
				return apperrors.Authentication(apperrors.CodeEmailExists, "email already in use: "+*in.Email)
			}
			current.Email = *in.Email
		}
		if in.Name != nil {
			current.Name = *in.Name
		}
		user = current
		return repos.Users.Save(ctx, current)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("User profile updated", zap.Int64("user_id", id), zap.String("actor", p.Actor()))
	return user, nil
}

// Delete removes a user account. Accounts that still own orders are kept.
func (s *UserService) Delete(ctx context.Context, p models.Principal, id int64) error {
	if err := requireAdmin(p, "deleting users"); err != nil {
		return err
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		return repos.Users.Delete(ctx, id)
	})
	switch {
	case errors.Is(err, repository.ErrReferenced):
		return apperrors.BusinessRule("user %d has orders and cannot be deleted", id)
	case err != nil:
		return lookupErr(err, "User", id)
	}

	s.logger.Info("User deleted", zap.Int64("user_id", id), zap.String("actor", p.Actor()))
	return nil
}

// CurrentPrincipal reloads the caller from the store so that role changes
// and deletions take effect before the caller's token expires.
func (s *UserService) CurrentPrincipal(ctx context.Context, userID int64) (models.Principal, error) {
	user, err := s.store.Repositories().Users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Principal{}, apperrors.Authentication(apperrors.CodeAuthentication, "account no longer exists")
	}
	if err != nil {
		return models.Principal{}, fmt.Errorf("load principal %d: %w", userID, err)
	}
	return user.Principal(), nil
}

// BootstrapAdmin makes sure an ADMIN account exists for email. An existing
// account is promoted; its password is left untouched.
func (s *UserService) BootstrapAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil
	}

	return s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		existing, err := repos.Users.FindByEmail(ctx, email)
		switch {
		case err == nil:
			if existing.Principal().HasRole(models.RoleAdmin) {
				return nil
			}
			existing.Roles = append(existing.Roles, models.RoleAdmin)
			s.logger.Info("Promoted bootstrap admin", zap.String("email", email))
			return repos.Users.Save(ctx, existing)
		case !errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("load bootstrap admin: %w", err)
		}

		hash, err := utils.HashPassword(password)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		admin := &models.User{
			Name:         "Administrator",
			Email:        email,
			PasswordHash: hash,
			Roles:        []models.Role{models.RoleAdmin},
			CreatedAt:    time.Now(),
		}
		if err := repos.Users.Save(ctx, admin); err != nil {
			return err
		}
		s.logger.Info("Created bootstrap admin", zap.String("email", email))
		return nil
	})
}
