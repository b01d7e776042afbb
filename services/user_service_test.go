package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"order-fulfillment/apperrors"
	"order-fulfillment/models"
	"order-fulfillment/repository"
	"order-fulfillment/utils"
)

func TestUpdateRoles(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := NewUserService(store, zap.NewNop())
	ctx := context.Background()
	admin := seedUser(t, store, "admin@example.com", models.RoleAdmin)
	operator := seedUser(t, store, "ops@example.com", models.RoleOperator)
	client := seedUser(t, store, "client@example.com", models.RoleClient)

	_, err := svc.UpdateRoles(ctx, operator, client.UserID, []models.Role{models.RoleOperator})
	assert.True(t, apperrors.IsKind(err, apperrors.KindAccessDenied))

	_, err = svc.UpdateRoles(ctx, admin, client.UserID, []models.Role{"ROOT"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	_, err = svc.UpdateRoles(ctx, admin, client.UserID, nil)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	updated, err := svc.UpdateRoles(ctx, admin, client.UserID, []models.Role{models.RoleOperator, models.RoleClient})
	require.NoError(t, err)
	assert.True(t, updated.Principal().IsElevated())

	_, err = svc.UpdateRoles(ctx, admin, 999, []models.Role{models.RoleClient})
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestFindUserSelfOrAdmin(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := NewUserService(store, zap.NewNop())
	ctx := context.Background()
	admin := seedUser(t, store, "admin@example.com", models.RoleAdmin)
	operator := seedUser(t, store, "ops@example.com", models.RoleOperator)
	client := seedUser(t, store, "client@example.com", models.RoleClient)

	u, err := svc.FindByID(ctx, client, client.UserID)
	require.NoError(t, err)
	assert.Equal(t, "client@example.com", u.Email)

	_, err = svc.FindByID(ctx, admin, client.UserID)
	assert.NoError(t, err)

	_, err = svc.FindByID(ctx, operator, client.UserID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindAccessDenied))
}

func TestBootstrapAdmin(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := NewUserService(store, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, svc.BootstrapAdmin(ctx, "", ""))
	require.NoError(t, svc.BootstrapAdmin(ctx, "Root@Example.com", "changeme"))
	require.NoError(t, svc.BootstrapAdmin(ctx, "root@example.com", "ignored"))

	u, err := store.Repositories().Users.FindByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, []models.Role{models.RoleAdmin}, u.Roles)
	assert.True(t, utils.CheckPassword(u.PasswordHash, "changeme"))

	client := seedUser(t, store, "promote@example.com", models.RoleClient)
	require.NoError(t, svc.BootstrapAdmin(ctx, "promote@example.com", "whatever"))
	promoted, err := store.Repositories().Users.FindByID(ctx, client.UserID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.Role{models.RoleClient, models.RoleAdmin}, promoted.Roles)
}

func TestUpdateProfile(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := NewUserService(store, zap.NewNop())
	ctx := context.Background()
	admin := seedUser(t, store, "admin@example.com", models.RoleAdmin)
	operator := seedUser(t, store, "ops@example.com", models.RoleOperator)
	client := seedUser(t, store, "client@example.com", models.RoleClient)

	_, err := svc.UpdateProfile(ctx, operator, client.UserID, ProfileUpdate{Name: ptr("Nope")})
	assert.True(t, apperrors.IsKind(err, apperrors.KindAccessDenied))

	_, err = svc.UpdateProfile(ctx, client, client.UserID, ProfileUpdate{Email: ptr("not-an-email")})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	_, err = svc.UpdateProfile(ctx, client, client.UserID, ProfileUpdate{Name: ptr("  ")})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	_, err = svc.UpdateProfile(ctx, client, client.UserID, ProfileUpdate{Email: ptr("ADMIN@example.com")})
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeEmailExists, appErr.Code)

	u, err := svc.UpdateProfile(ctx, client, client.UserID, ProfileUpdate{Name: ptr("Clara"), Email: ptr("Clara@Example.com ")})
	require.NoError(t, err)
	assert.Equal(t, "Clara", u.Name)
	assert.Equal(t, "clara@example.com", u.Email)

	u, err = svc.UpdateProfile(ctx, client, client.UserID, ProfileUpdate{Email: ptr("clara@example.com")})
	require.NoError(t, err, "keeping the current email is not a conflict")
	assert.Equal(t, "Clara", u.Name)

	u, err = svc.UpdateProfile(ctx, admin, client.UserID, ProfileUpdate{Name: ptr("Clara S.")})
	require.NoError(t, err)
	assert.Equal(t, "clara@example.com", u.Email)

	_, err = svc.UpdateProfile(ctx, admin, 999, ProfileUpdate{Name: ptr("Ghost")})
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestAdminUserQueries(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := NewUserService(store, zap.NewNop())
	ctx := context.Background()
	admin := seedUser(t, store, "admin@example.com", models.RoleAdmin)
	operator := seedUser(t, store, "ops@example.com", models.RoleOperator)
	seedUser(t, store, "client@example.com", models.RoleClient)

	_, err := svc.List(ctx, operator, repository.PageRequest{})
	assert.True(t, apperrors.IsKind(err, apperrors.KindAccessDenied))
	page, err := svc.List(ctx, admin, repository.PageRequest{Size: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.TotalElements)
	assert.Len(t, page.Content, 2)
	_, err = svc.List(ctx, admin, repository.PageRequest{SortBy: "roles"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	_, err = svc.FindByEmail(ctx, operator, "client@example.com")
	assert.True(t, apperrors.IsKind(err, apperrors.KindAccessDenied))
	u, err := svc.FindByEmail(ctx, admin, "CLIENT@example.com")
	require.NoError(t, err)
	assert.Equal(t, "client@example.com", u.Email)
	_, err = svc.FindByEmail(ctx, admin, "ghost@example.com")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	ops, err := svc.FindByRole(ctx, admin, models.RoleOperator)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, operator.UserID, ops[0].ID)
	_, err = svc.FindByRole(ctx, admin, "ROOT")
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	me, err := svc.Me(ctx, operator)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", me.Email)
}

func TestDeleteUser(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := NewUserService(store, zap.NewNop())
	ctx := context.Background()
	admin := seedUser(t, store, "admin@example.com", models.RoleAdmin)
	operator := seedUser(t, store, "ops@example.com", models.RoleOperator)
	client := seedUser(t, store, "client@example.com", models.RoleClient)
	buyer := seedUser(t, store, "buyer@example.com", models.RoleClient)

	buyerUser, err := store.Repositories().Users.FindByID(ctx, buyer.UserID)
	require.NoError(t, err)
	require.NoError(t, store.Repositories().Orders.Save(ctx, models.NewOrder(buyerUser, fixedNow)))

	assert.True(t, apperrors.IsKind(svc.Delete(ctx, operator, client.UserID), apperrors.KindAccessDenied))
	assert.True(t, apperrors.IsKind(svc.Delete(ctx, admin, buyer.UserID), apperrors.KindBusinessRule))

	require.NoError(t, svc.Delete(ctx, admin, client.UserID))
	assert.True(t, apperrors.IsKind(svc.Delete(ctx, admin, client.UserID), apperrors.KindNotFound))
}

func TestCurrentPrincipalReflectsStore(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := NewUserService(store, zap.NewNop())
	ctx := context.Background()
	admin := seedUser(t, store, "admin@example.com", models.RoleAdmin)
	operator := seedUser(t, store, "ops@example.com", models.RoleOperator)

	_, err := svc.UpdateRoles(ctx, admin, operator.UserID, []models.Role{models.RoleClient})
	require.NoError(t, err)

	p, err := svc.CurrentPrincipal(ctx, operator.UserID)
	require.NoError(t, err)
	assert.False(t, p.IsElevated())
	assert.Equal(t, "ops@example.com", p.Email)

	_, err = svc.CurrentPrincipal(ctx, 999)
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthentication))
}
