package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"wallet-auth-service/internal/bucketing"
	"wallet-auth-service/internal/models"
	"wallet-auth-service/internal/util"
)

type userRepository struct {
	client    *ScyllaClient
	bucketing *bucketing.Manager
}

func NewUserRepository(client *ScyllaClient, bucketingMgr *bucketing.Manager) UserRepository {
	return &userRepository{
		client:    client,
		bucketing: bucketingMgr,
	}
}

// FindByPhone resolves a user through the phone_to_user lookup table.
// Absence is a valid (nil, nil) result, not an error.
func (r *userRepository) FindByPhone(ctx context.Context, phone string) (*models.User, error) {
	var userBucket int
	var userID string

	query := r.client.Prepared.GetUserByPhone.WithContext(ctx).Bind(phone)
	if err := r.client.ScanWithRetry(query, &userBucket, &userID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		util.Error("Failed to resolve user by phone",
			zap.String("phone_number", phone),
			zap.Error(err))
		return nil, fmt.Errorf("failed to resolve user by phone: %w", err)
	}

	return r.getByID(ctx, userBucket, userID)
}

func (r *userRepository) getByID(ctx context.Context, userBucket int, userID string) (*models.User, error) {
	user := &models.User{}

	query := r.client.Prepared.GetUserByID.WithContext(ctx).Bind(userBucket, userID)
	err := r.client.ScanWithRetry(query,
		&user.UserBucket, &user.UserID, &user.PhoneNumber,
		&user.CarrierName, &user.CarrierType, &user.CountryCode,
		&user.MobileCountryCode, &user.MobileNetworkCode,
		&user.DeviceTokens, &user.CreatedAt, &user.LastLogin)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return user, nil
}

// UpsertByPhone returns the existing user for the phone or creates one.
// Creation is not transactional with the lookup; a rare concurrent first
// login can race, and the second insert simply overwrites the mapping
// with an equivalent row.
func (r *userRepository) UpsertByPhone(ctx context.Context, phone string) (*models.User, error) {
	existing, err := r.FindByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	user := &models.User{
		UserID:      uuid.New().String(),
		PhoneNumber: phone,
		CreatedAt:   now,
	}
	user.UserBucket = r.bucketing.UserBucket(user.UserID)

	createUser := r.client.Prepared.CreateUser.WithContext(ctx).Bind(
		user.UserBucket, user.UserID, user.PhoneNumber,
		user.CarrierName, user.CarrierType, user.CountryCode,
		user.MobileCountryCode, user.MobileNetworkCode,
		user.DeviceTokens, user.CreatedAt, user.LastLogin)
	if err := r.client.ExecuteWithRetry(createUser, 2); err != nil {
		util.Error("Failed to create user",
			zap.String("phone_number", phone),
			zap.Error(err))
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	createMapping := r.client.Prepared.CreatePhoneToUser.WithContext(ctx).Bind(
		phone, user.UserBucket, user.UserID, now)
	if err := r.client.ExecuteWithRetry(createMapping, 2); err != nil {
		util.Error("Failed to create phone-to-user mapping",
			zap.String("phone_number", phone),
			zap.Error(err))
		return nil, fmt.Errorf("failed to create phone-to-user mapping: %w", err)
	}

	util.Info("New user registered",
		zap.String("user_id", user.UserID),
		zap.Int("user_bucket", user.UserBucket))

	return user, nil
}

func (r *userRepository) SaveCarrier(ctx context.Context, user *models.User) error {
	query := r.client.Prepared.UpdateCarrier.WithContext(ctx).Bind(
		user.CarrierName, user.CarrierType, user.CountryCode,
		user.MobileCountryCode, user.MobileNetworkCode,
		user.UserBucket, user.UserID)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to save carrier metadata: %w", err)
	}
	return nil
}

func (r *userRepository) UpdateLastLogin(ctx context.Context, user *models.User, at time.Time) error {
	query := r.client.Prepared.UpdateLastLogin.WithContext(ctx).Bind(
		at.UTC(), user.UserBucket, user.UserID)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func (r *userRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck()
}
