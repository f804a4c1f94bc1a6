package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"wallet-auth-service/internal/models"
	"wallet-auth-service/internal/util"
)

type phoneCodeRepository struct {
	client *ScyllaClient
}

func NewPhoneCodeRepository(client *ScyllaClient) PhoneCodeRepository {
	return &phoneCodeRepository{client: client}
}

func (r *phoneCodeRepository) Create(ctx context.Context, code *models.PhoneCode) error {
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}

	query := r.client.Prepared.CreatePhoneCode.WithContext(ctx).Bind(
		code.PhoneNumber, code.CreatedAt, code.Code,
		code.SmsProvider, code.ProviderMessageID, code.ProviderStatus)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create phone code",
			zap.String("phone_number", code.PhoneNumber),
			zap.Error(err))
		return fmt.Errorf("failed to create phone code: %w", err)
	}

	util.Info("Phone code created",
		zap.String("phone_number", code.PhoneNumber),
		zap.String("sms_provider", code.SmsProvider))

	return nil
}

// RecentByPhone returns every code issued to the phone at or after the
// cutoff, newest first. Codes are history rows; the caller decides which
// window (30 s dedup, 20 min validity) it is evaluating.
func (r *phoneCodeRepository) RecentByPhone(ctx context.Context, phone string, since time.Time) ([]*models.PhoneCode, error) {
	iter := r.client.Prepared.GetRecentPhoneCodes.WithContext(ctx).Bind(phone, since.UTC()).Iter()

	var codes []*models.PhoneCode
	for {
		code := &models.PhoneCode{}
		if !iter.Scan(&code.PhoneNumber, &code.CreatedAt, &code.Code,
			&code.SmsProvider, &code.ProviderMessageID, &code.ProviderStatus) {
			break
		}
		codes = append(codes, code)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to load recent phone codes",
			zap.String("phone_number", phone),
			zap.Error(err))
		return nil, fmt.Errorf("failed to load recent phone codes: %w", err)
	}

	return codes, nil
}

func (r *phoneCodeRepository) SetDispatchStatus(ctx context.Context, phone string, createdAt time.Time, messageID, status string) error {
	query := r.client.Prepared.SetDispatchStatus.WithContext(ctx).Bind(
		messageID, status, phone, createdAt.UTC())

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to set dispatch status",
			zap.String("phone_number", phone),
			zap.String("message_id", messageID),
			zap.Error(err))
		return fmt.Errorf("failed to set dispatch status: %w", err)
	}

	return nil
}

// UpdateDeliveryStatus records an asynchronous provider callback. The
// partition key is recovered from the message id via a filtered lookup,
// then the row is updated directly. Unknown ids are a no-op: the
// callback may race the initial dispatch or reference a purged record.
func (r *phoneCodeRepository) UpdateDeliveryStatus(ctx context.Context, messageID, status string) error {
	var phone string
	var createdAt time.Time

	err := r.client.Session.Query(
		`SELECT phone_number, created_at FROM phone_codes WHERE provider_message_id = ? LIMIT 1 ALLOW FILTERING`,
		messageID).WithContext(ctx).Scan(&phone, &createdAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			util.Warn("Delivery status for unknown message id",
				zap.String("message_id", messageID),
				zap.String("status", status))
			return nil
		}
		return fmt.Errorf("failed to find phone code by message id: %w", err)
	}

	query := r.client.Prepared.UpdateDeliveryStatus.WithContext(ctx).Bind(status, phone, createdAt)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to update delivery status",
			zap.String("message_id", messageID),
			zap.String("status", status),
			zap.Error(err))
		return fmt.Errorf("failed to update delivery status: %w", err)
	}

	util.Debug("Delivery status updated",
		zap.String("message_id", messageID),
		zap.String("status", status))

	return nil
}
