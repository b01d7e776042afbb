package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"order-fulfillment/apperrors"
	"order-fulfillment/models"
	"order-fulfillment/repository"
	"order-fulfillment/utils"
)

const minPasswordLength = 6

var validate = validator.New()

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

type AuthResult struct {
	Token     string       `json:"token"`
	Type      string       `json:"type"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

type AuthService struct {
	store  repository.Store
	secret string
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewAuthService(store repository.Store, secret string, ttl time.Duration, logger *zap.Logger) *AuthService {
	return &AuthService{store: store, secret: secret, ttl: ttl, logger: logger, now: time.Now}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)

	var v apperrors.ValidationErrors
	switch {
	case in.Name == "":
		v.Add("name", "is required")
	case len([]rune(in.Name)) > maxNameLength:
		v.Add("name", "must be at most %d characters", maxNameLength)
	}
	if err := validate.Var(in.Email, "required,email"); err != nil {
		v.Add("email", "must be a valid email address")
	}
	if len(in.Password) < minPasswordLength {
		v.Add("password", "must be at least %d characters", minPasswordLength)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Roles:        []models.Role{models.RoleClient},
		CreatedAt:    s.now(),
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		exists, err := repos.Users.ExistsByEmail(ctx, user.Email)
		if err != nil {
			return err
		}
		if exists {
			return apperrors.Authentication(apperrors.CodeEmailExists, "email already registered: "+user.Email)
		}
		return repos.Users.Save(ctx, user)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("User registered", zap.Int64("user_id", user.ID), zap.String("email", user.Email))
	return s.issue(user)
}

// Login never tells an unknown email apart from a wrong password.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.store.Repositories().Users.FindByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Authentication(apperrors.CodeInvalidCreds, "invalid email or password")
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !utils.CheckPassword(user.PasswordHash, password) {
		s.logger.Warn("Failed login attempt", zap.String("email", user.Email))
		return nil, apperrors.Authentication(apperrors.CodeInvalidCreds, "invalid email or password")
	}
	return s.issue(user)
}

func (s *AuthService) issue(user *models.User) (*AuthResult, error) {
	token, expiresAt, err := utils.GenerateToken(s.secret, s.ttl, user, s.now())
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, Type: "Bearer", ExpiresAt: expiresAt, User: user}, nil
}
