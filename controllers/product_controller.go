package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"order-fulfillment/apperrors"
	"order-fulfillment/middlewares"
	"order-fulfillment/models"
	"order-fulfillment/repository"
	"order-fulfillment/services"
)

type ProductService interface {
	Create(ctx context.Context, p models.Principal, in services.CreateProductInput) (*models.Product, error)
	Update(ctx context.Context, p models.Principal, id int64, in services.UpdateProductInput) (*models.Product, error)
	Delete(ctx context.Context, p models.Principal, id int64) error
	FindByID(ctx context.Context, id int64) (*models.Product, error)
	ListActive(ctx context.Context, page repository.PageRequest) (repository.Page[models.Product], error)
	ListByCategory(ctx context.Context, category string, page repository.PageRequest) (repository.Page[models.Product], error)
	Search(ctx context.Context, f repository.ProductFilter, page repository.PageRequest) (repository.Page[models.Product], error)
	LowStock(ctx context.Context) ([]models.Product, error)
	Movements(ctx context.Context, p models.Principal, id int64) ([]models.StockMovement, error)
	PriceHistory(ctx context.Context, p models.Principal, id int64) ([]models.PriceHistory, error)
}

type StockLedger interface {
	ApplyMovement(ctx context.Context, p models.Principal, productID int64, kind models.MovementType, quantity int, reason string) (*models.Product, error)
}

type ProductController struct {
	products  ProductService
	inventory StockLedger
}

func NewProductController(products ProductService, inventory StockLedger) *ProductController {
	return &ProductController{products: products, inventory: inventory}
}

type createProductRequest struct {
	Name          string          `json:"name" binding:"required"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	Category      string          `json:"category" binding:"required"`
	StockQuantity int             `json:"stock_quantity" binding:"gte=0"`
}

type updateProductRequest struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Category    *string          `json:"category"`
	Active      *bool            `json:"active"`
}

type stockRequest struct {
	MovementType string `json:"movement_type" binding:"required"`
	Quantity     int    `json:"quantity"`
	Reason       string `json:"reason" binding:"max=255"`
}

func (h *ProductController) ListActive(c *gin.Context) {
	page, valid := pageRequest(c)
	if !valid {
		return
	}
	result, err := h.products.ListActive(c.Request.Context(), page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "", toPage(result))
}

func parseDecimal(v *apperrors.ValidationErrors, field, raw string) *decimal.Decimal {
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		v.Add(field, "must be a decimal number")
		return nil
	}
	return &d
}

func (h *ProductController) Search(c *gin.Context) {
	var v apperrors.ValidationErrors
	f := repository.ProductFilter{
		Name:     c.Query("name"),
		Category: c.Query("category"),
		MinPrice: parseDecimal(&v, "min_price", c.Query("min_price")),
		MaxPrice: parseDecimal(&v, "max_price", c.Query("max_price")),
	}
	if err := v.Err(); err != nil {
		_ = c.Error(err)
		return
	}
	page, valid := pageRequest(c)
	if !valid {
		return
	}

	result, err := h.products.Search(c.Request.Context(), f, page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "", toPage(result))
}

func (h *ProductController) GetProduct(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	product, err := h.products.FindByID(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "", product)
}

func (h *ProductController) ListByCategory(c *gin.Context) {
	page, valid := pageRequest(c)
	if !valid {
		return
	}
	result, err := h.products.ListByCategory(c.Request.Context(), c.Param("category"), page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "", toPage(result))
}

func (h *ProductController) LowStock(c *gin.Context) {
	products, err := h.products.LowStock(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "", products)
}

func (h *ProductController) CreateProduct(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	product, err := h.products.Create(c.Request.Context(), p, services.CreateProductInput{
		Name:          req.Name,
		Description:   req.Description,
		Price:         req.Price,
		Category:      req.Category,
		StockQuantity: req.StockQuantity,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusCreated, "Product created successfully", product)
}

func (h *ProductController) UpdateProduct(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}
	var req updateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	product, err := h.products.Update(c.Request.Context(), p, id, services.UpdateProductInput{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
		Active:      req.Active,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "Product updated successfully", product)
}

func (h *ProductController) UpdateStock(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}
	var req stockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	kind := models.MovementType(strings.ToUpper(strings.TrimSpace(req.MovementType)))
	product, err := h.inventory.ApplyMovement(c.Request.Context(), p, id, kind, req.Quantity, req.Reason)
	middlewares.RecordStockMovement(string(kind), err == nil)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "Stock updated successfully", product)
}

func (h *ProductController) DeleteProduct(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}
	if err := h.products.Delete(c.Request.Context(), p, id); err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "Product deactivated", nil)
}

func (h *ProductController) Movements(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}
	movements, err := h.products.Movements(c.Request.Context(), p, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "", movements)
}

func (h *ProductController) PriceHistory(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}
	history, err := h.products.PriceHistory(c.Request.Context(), p, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "", history)
}
