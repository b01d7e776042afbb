// Package services holds the business operations. Every operation takes the
// calling principal explicitly and runs its writes in one store transaction.
package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"order-fulfillment/apperrors"
	"order-fulfillment/cache"
	"order-fulfillment/models"
	"order-fulfillment/repository"
)

func requireElevated(p models.Principal, action string) error {
	if !p.IsElevated() {
		return apperrors.AccessDenied("access denied: %s requires an administrative role", action)
	}
	return nil
}

func requireAdmin(p models.Principal, action string) error {
	if !p.HasRole(models.RoleAdmin) {
		return apperrors.AccessDenied("access denied: %s requires the ADMIN role", action)
	}
	return nil
}

// lookupErr turns a repository miss into a not-found domain error.
func lookupErr(err error, resource string, id any) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound(resource, "id", id)
	}
	return fmt.Errorf("load %s %v: %w", resource, id, err)
}

func pageErr(err error) error {
	if errors.Is(err, repository.ErrInvalidSort) {
		return apperrors.Validation(err.Error(), "sort")
	}
	if errors.Is(err, repository.ErrPageOutOfRange) {
		return apperrors.Validation(err.Error(), "page")
	}
	return err
}

// evict drops a cache entry after a commit. Failures are logged and swallowed
// because the write itself already succeeded.
func evict(ctx context.Context, c cache.Cache, logger *zap.Logger, key string) {
	if err := c.Invalidate(ctx, key); err != nil {
		logger.Warn("Cache invalidation failed", zap.String("key", key), zap.Error(err))
	}
}

func evictAll(ctx context.Context, c cache.Cache, logger *zap.Logger) {
	if err := c.InvalidateAll(ctx); err != nil {
		logger.Warn("Cache flush failed", zap.Error(err))
	}
}

func remember(ctx context.Context, c cache.Cache, logger *zap.Logger, key string, value any) {
	if err := c.Set(ctx, key, value); err != nil {
		logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// recall reads a cache entry. A failing cache behaves like a miss.
func recall(ctx context.Context, c cache.Cache, logger *zap.Logger, key string, dest any) bool {
	found, err := c.Get(ctx, key, dest)
	if err != nil {
		logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return found
}
