package scylla

import (
	"context"
	"time"

	"wallet-auth-service/internal/models"
)

// PhoneCodeRepository is the verification-code store contract. CRUD only;
// windowing decisions (dedup, validity) belong to the auth service.
type PhoneCodeRepository interface {
	Create(ctx context.Context, code *models.PhoneCode) error
	RecentByPhone(ctx context.Context, phone string, since time.Time) ([]*models.PhoneCode, error)
	SetDispatchStatus(ctx context.Context, phone string, createdAt time.Time, messageID, status string) error
	UpdateDeliveryStatus(ctx context.Context, messageID, status string) error
}

// UserRepository is the user-store contract: find, upsert-create and
// narrow field updates, no business logic.
type UserRepository interface {
	FindByPhone(ctx context.Context, phone string) (*models.User, error)
	UpsertByPhone(ctx context.Context, phone string) (*models.User, error)
	SaveCarrier(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, user *models.User, at time.Time) error
	HealthCheck(ctx context.Context) error
}
