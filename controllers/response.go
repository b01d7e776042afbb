package controllers

import (
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"order-fulfillment/apperrors"
	"order-fulfillment/middlewares"
	"order-fulfillment/models"
	"order-fulfillment/repository"
)

// Envelope wraps every successful response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type PageResponse[T any] struct {
	Content       []T   `json:"content"`
	TotalElements int64 `json:"total_elements"`
	TotalPages    int   `json:"total_pages"`
	Page          int   `json:"page"`
	Size          int   `json:"size"`
}

func toPage[T any](p repository.Page[T]) PageResponse[T] {
	content := p.Content
	if content == nil {
		content = []T{}
	}
	return PageResponse[T]{
		Content:       content,
		TotalElements: p.TotalElements,
		TotalPages:    p.TotalPages(),
		Page:          p.Page,
		Size:          p.Size,
	}
}

func ok(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Envelope{Success: true, Message: message, Data: data})
}

// UseJSONFieldNames makes binding errors report fields by their JSON names.
func UseJSONFieldNames() {
	v, isValidator := binding.Validator.Engine().(*validator.Validate)
	if !isValidator {
		return
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

func principal(c *gin.Context) (models.Principal, bool) {
	p, found := middlewares.PrincipalFrom(c)
	if !found {
		_ = c.Error(apperrors.Authentication(apperrors.CodeAuthentication, "authentication required"))
	}
	return p, found
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		_ = c.Error(apperrors.Validation("invalid id: "+c.Param("id"), "id"))
		return 0, false
	}
	return id, true
}

// pageRequest reads page, size and sort ("field" or "field,desc").
func pageRequest(c *gin.Context) (repository.PageRequest, bool) {
	var (
		req repository.PageRequest
		v   apperrors.ValidationErrors
	)
	if raw := c.Query("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil || n < 0:
			v.Add("page", "must be a non-negative integer")
		case n > repository.MaxPage:
			v.Add("page", "must not exceed %d", repository.MaxPage)
		}
		req.Page = n
	}
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			v.Add("size", "must be a positive integer")
		}
		req.Size = n
	}
	if raw := c.Query("sort"); raw != "" {
		field, dir, _ := strings.Cut(raw, ",")
		req.SortBy = strings.TrimSpace(field)
		req.Desc = strings.EqualFold(strings.TrimSpace(dir), "desc")
	}
	if err := v.Err(); err != nil {
		_ = c.Error(err)
		return req, false
	}
	return req.Normalize(), true
}

func health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
