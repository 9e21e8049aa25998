package service

import (
	"context"

	"github.com/pushgate/webhooks/internal/models"
)

// AppManager resolves applications. Implementations return apperrors.NotFoundError for unknown
// or disabled apps.
type AppManager interface {
	FindByKey(ctx context.Context, key string) (*models.App, error)
	FindByID(ctx context.Context, id string) (*models.App, error)
}
