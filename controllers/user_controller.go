package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"order-fulfillment/apperrors"
	"order-fulfillment/models"
	"order-fulfillment/repository"
	"order-fulfillment/services"
)

type UserService interface {
	Me(ctx context.Context, p models.Principal) (*models.User, error)
	List(ctx context.Context, p models.Principal, page repository.PageRequest) (repository.Page[models.User], error)
	FindByID(ctx context.Context, p models.Principal, id int64) (*models.User, error)
	FindByEmail(ctx context.Context, p models.Principal, email string) (*models.User, error)
	FindByRole(ctx context.Context, p models.Principal, role models.Role) ([]models.User, error)
	UpdateProfile(ctx context.Context, p models.Principal, id int64, in services.ProfileUpdate) (*models.User, error)
	UpdateRoles(ctx context.Context, p models.Principal, id int64, roles []models.Role) (*models.User, error)
	Delete(ctx context.Context, p models.Principal, id int64) error
}

type UserController struct {
	users UserService
}

func NewUserController(users UserService) *UserController {
	return &UserController{users: users}
}

type rolesRequest struct {
	Roles []string `json:"roles" binding:"required,min=1"`
}

type profileRequest struct {
	Name  *string `json:"name" binding:"omitempty,max=255"`
	Email *string `json:"email" binding:"omitempty,email"`
}

func (h *UserController) Me(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	user, err := h.users.Me(c.Request.Context(), p)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "", user)
}

func (h *UserController) ListUsers(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	page, valid := pageRequest(c)
	if !valid {
		return
	}
	result, err := h.users.List(c.Request.Context(), p, page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "", toPage(result))
}

func (h *UserController) GetUser(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}
	user, err := h.users.FindByID(c.Request.Context(), p, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "", user)
}

func (h *UserController) GetUserByEmail(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	user, err := h.users.FindByEmail(c.Request.Context(), p, c.Param("email"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "", user)
}

func (h *UserController) ListByRole(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	roles, err := models.ParseRoles([]string{c.Param("role")})
	if err != nil {
		_ = c.Error(apperrors.Validation(err.Error(), "role"))
		return
	}
	users, err := h.users.FindByRole(c.Request.Context(), p, roles[0])
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "", users)
}

func (h *UserController) UpdateProfile(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	user, err := h.users.UpdateProfile(c.Request.Context(), p, id, services.ProfileUpdate{Name: req.Name, Email: req.Email})
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "Profile updated", user)
}

func (h *UserController) UpdateRoles(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}
	var req rolesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}
	roles, err := models.ParseRoles(req.Roles)
	if err != nil {
		_ = c.Error(apperrors.Validation(err.Error(), "roles"))
		return
	}

	user, err := h.users.UpdateRoles(c.Request.Context(), p, id, roles)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "Roles updated", user)
}

func (h *UserController) DeleteUser(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}
	if err := h.users.Delete(c.Request.Context(), p, id); err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "User deleted", nil)
}
