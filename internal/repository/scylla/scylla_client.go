package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/util"
)

// PreparedStatements holds the statements used by the repositories.
type PreparedStatements struct {
	CreatePhoneCode      *gocql.Query
	GetRecentPhoneCodes  *gocql.Query
	SetDispatchStatus    *gocql.Query
	UpdateDeliveryStatus *gocql.Query

	CreateUser        *gocql.Query
	CreatePhoneToUser *gocql.Query
	GetUserByPhone    *gocql.Query
	GetUserByID       *gocql.Query
	UpdateCarrier     *gocql.Query
	UpdateLastLogin   *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreatePhoneCode = s.Session.Query(`
        INSERT INTO phone_codes (phone_number, created_at, code, sms_provider, provider_message_id, provider_status)
        VALUES (?, ?, ?, ?, ?, ?)`)

	prepared.GetRecentPhoneCodes = s.Session.Query(`
        SELECT phone_number, created_at, code, sms_provider, provider_message_id, provider_status
        FROM phone_codes WHERE phone_number = ? AND created_at >= ?`)

	prepared.SetDispatchStatus = s.Session.Query(`
        UPDATE phone_codes SET provider_message_id = ?, provider_status = ?
        WHERE phone_number = ? AND created_at = ?`)

	prepared.UpdateDeliveryStatus = s.Session.Query(`
        UPDATE phone_codes SET provider_status = ?
        WHERE phone_number = ? AND created_at = ?`)

	prepared.CreateUser = s.Session.Query(`
        INSERT INTO users (
            user_bucket, user_id, phone_number, carrier_name, carrier_type,
            country_code, mobile_country_code, mobile_network_code,
            device_tokens, created_at, last_login
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.CreatePhoneToUser = s.Session.Query(`
        INSERT INTO phone_to_user (phone_number, user_bucket, user_id, created_at)
        VALUES (?, ?, ?, ?)`)

	prepared.GetUserByPhone = s.Session.Query(`
        SELECT user_bucket, user_id FROM phone_to_user WHERE phone_number = ?`)

	prepared.GetUserByID = s.Session.Query(`
        SELECT user_bucket, user_id, phone_number, carrier_name, carrier_type,
            country_code, mobile_country_code, mobile_network_code,
            device_tokens, created_at, last_login
        FROM users WHERE user_bucket = ? AND user_id = ?`)

	prepared.UpdateCarrier = s.Session.Query(`
        UPDATE users SET carrier_name = ?, carrier_type = ?, country_code = ?,
            mobile_country_code = ?, mobile_network_code = ?
        WHERE user_bucket = ? AND user_id = ?`)

	prepared.UpdateLastLogin = s.Session.Query(`
        UPDATE users SET last_login = ? WHERE user_bucket = ? AND user_id = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created successfully")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
