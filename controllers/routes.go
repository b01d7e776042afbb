package controllers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"order-fulfillment/middlewares"
)

type Router struct {
	Orders    *OrderController
	Products  *ProductController
	Auth      *AuthController
	Users     *UserController
	JWTSecret string
	// Principals reloads the caller on every secured request. Nil trusts the
	// roles carried by the token.
	Principals middlewares.PrincipalLoader
	// RateLimit guards the login and register endpoints. Nil disables it.
	RateLimit gin.HandlerFunc
	Logger    *zap.Logger
}

// Engine builds the gin engine with every route and middleware installed.
func (rt *Router) Engine() *gin.Engine {
	UseJSONFieldNames()

	r := gin.New()
	r.Use(
		gin.Recovery(),
		middlewares.RequestLogger(rt.Logger),
		middlewares.PrometheusMiddleware(),
		middlewares.ErrorHandler(rt.Logger),
	)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", health)

	api := r.Group("/api")

	limited := []gin.HandlerFunc{}
	if rt.RateLimit != nil {
		limited = append(limited, rt.RateLimit)
	}
	auth := api.Group("/auth", limited...)
	{
		auth.POST("/register", rt.Auth.Register)
		auth.POST("/login", rt.Auth.Login)
	}

	// catalog browsing is public
	api.GET("/products", rt.Products.ListActive)
	api.GET("/products/search", rt.Products.Search)
	api.GET("/products/low-stock", rt.Products.LowStock)
	api.GET("/products/category/:category", rt.Products.ListByCategory)
	api.GET("/products/:id", rt.Products.GetProduct)

	secured := api.Group("", middlewares.AuthMiddleware(rt.JWTSecret, rt.Principals))
	{
		secured.POST("/products", rt.Products.CreateProduct)
		secured.PUT("/products/:id", rt.Products.UpdateProduct)
		secured.PATCH("/products/:id/stock", rt.Products.UpdateStock)
		secured.DELETE("/products/:id", rt.Products.DeleteProduct)
		secured.GET("/products/:id/movements", rt.Products.Movements)
		secured.GET("/products/:id/price-history", rt.Products.PriceHistory)

		secured.POST("/orders", rt.Orders.CreateOrder)
		secured.GET("/orders", rt.Orders.ListOrders)
		secured.GET("/orders/:id", rt.Orders.GetOrder)
		secured.GET("/orders/user/:email", rt.Orders.ListByUser)
		secured.GET("/orders/status/:status", rt.Orders.ListByStatus)
		secured.PATCH("/orders/:id/status", rt.Orders.UpdateStatus)
		secured.PATCH("/orders/:id/payment", rt.Orders.UpdatePayment)
		secured.POST("/orders/:id/cancel", rt.Orders.CancelOrder)

		secured.GET("/users", rt.Users.ListUsers)
		secured.GET("/users/me", rt.Users.Me)
		secured.GET("/users/email/:email", rt.Users.GetUserByEmail)
		secured.GET("/users/role/:role", rt.Users.ListByRole)
		secured.GET("/users/:id", rt.Users.GetUser)
		secured.PUT("/users/:id/profile", rt.Users.UpdateProfile)
		secured.PUT("/users/:id/roles", rt.Users.UpdateRoles)
		secured.DELETE("/users/:id", rt.Users.DeleteUser)
	}

	return r
}
