package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"order-fulfillment/apperrors"
	"order-fulfillment/models"
	"order-fulfillment/repository"
	"order-fulfillment/utils"
)

const testSecret = "test-secret"

func TestRegisterAndLogin(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := NewAuthService(store, testSecret, time.Hour, zap.NewNop())
	ctx := context.Background()

	registered, err := svc.Register(ctx, RegisterInput{Name: "Ana", Email: " Ana@Example.com ", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", registered.User.Email)
	assert.Equal(t, []models.Role{models.RoleClient}, registered.User.Roles)
	assert.Equal(t, "Bearer", registered.Type)

	p, err := utils.ParseToken(testSecret, registered.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, p.UserID)
	assert.True(t, p.HasRole(models.RoleClient))

	loggedIn, err := svc.Login(ctx, "ANA@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, loggedIn.User.ID)

	stored, err := store.Repositories().Users.FindByID(ctx, registered.User.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", stored.PasswordHash)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := NewAuthService(repository.NewMemoryStore(), testSecret, time.Hour, zap.NewNop())
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Name: "Ana", Email: "ana@example.com", Password: "secret1"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterInput{Name: "Other", Email: "ANA@example.com", Password: "secret2"})
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.KindAuthentication, appErr.Kind)
	assert.Equal(t, apperrors.CodeEmailExists, appErr.Code)
}

func TestRegisterValidation(t *testing.T) {
	svc := NewAuthService(repository.NewMemoryStore(), testSecret, time.Hour, zap.NewNop())

	_, err := svc.Register(context.Background(), RegisterInput{Name: "", Email: "not-an-email", Password: "123"})
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.KindValidation, appErr.Kind)
	assert.Len(t, appErr.Fields, 3)
}

func TestLoginFailuresLookAlike(t *testing.T) {
	svc := NewAuthService(repository.NewMemoryStore(), testSecret, time.Hour, zap.NewNop())
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{Name: "Ana", Email: "ana@example.com", Password: "secret1"})
	require.NoError(t, err)

	_, wrongPassword := svc.Login(ctx, "ana@example.com", "nope")
	_, unknownEmail := svc.Login(ctx, "bob@example.com", "secret1")

	for _, err := range []error{wrongPassword, unknownEmail} {
		var appErr *apperrors.Error
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, apperrors.CodeInvalidCreds, appErr.Code)
	}
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}
