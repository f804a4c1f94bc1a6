package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"go.uber.org/zap"

	"wallet-auth-service/internal/audit"
	"wallet-auth-service/internal/carrier"
	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/ipcheck"
	"wallet-auth-service/internal/limiter"
	"wallet-auth-service/internal/models"
	"wallet-auth-service/internal/repository/scylla"
	"wallet-auth-service/internal/sms"
	"wallet-auth-service/internal/token"
	"wallet-auth-service/internal/util"
)

// CarrierResolver resolves carrier metadata for a phone number.
type CarrierResolver interface {
	Lookup(ctx context.Context, phone string) (*carrier.Info, error)
}

// AuthService is the login front door: it rate-limits and screens
// verification-code requests, dispatches codes over SMS, and exchanges a
// correct code for a signed session credential.
type AuthService struct {
	config   *config.Config
	limiter  *limiter.Engine
	gate     *ipcheck.Gate
	codes    scylla.PhoneCodeRepository
	users    scylla.UserRepository
	registry *sms.Registry
	carrier  CarrierResolver
	signer   *token.Signer
	audit    *audit.Publisher
}

func NewAuthService(
	cfg *config.Config,
	engine *limiter.Engine,
	gate *ipcheck.Gate,
	codes scylla.PhoneCodeRepository,
	users scylla.UserRepository,
	registry *sms.Registry,
	carrierResolver CarrierResolver,
	signer *token.Signer,
	auditPub *audit.Publisher,
) *AuthService {
	return &AuthService{
		config:   cfg,
		limiter:  engine,
		gate:     gate,
		codes:    codes,
		users:    users,
		registry: registry,
		carrier:  carrierResolver,
		signer:   signer,
		audit:    auditPub,
	}
}

func (s *AuthService) emit(eventType, phone, ip, userID, details string) {
	if s.audit != nil {
		s.audit.Emit(eventType, phone, ip, userID, details)
	}
}

// screenIP applies the IP reputation gate. The static deny-list is
// authoritative; the external lookup is advisory and fails open.
func (s *AuthService) screenIP(ctx context.Context, phone, ip string) error {
	if s.gate.IsBlacklisted(ip) {
		s.emit(models.EventIPBlocked, phone, ip, "", "deny-listed ip")
		return &IPBlacklistedError{IP: ip, Reason: "deny-listed ip"}
	}

	details, err := s.gate.Lookup(ctx, ip)
	if err != nil {
		util.Warn("IP lookup failed, allowing request",
			zap.String("ip", ip),
			zap.Error(err))
		return nil
	}
	if details.Unavailable() {
		return nil
	}
	if s.gate.IsTypeBlacklisted(details.Type) {
		s.emit(models.EventIPBlocked, phone, ip, "", "blocked network type: "+details.Type)
		return &IPBlacklistedError{IP: ip, Reason: "blocked network type: " + details.Type}
	}
	return nil
}

// consume takes one point from the named limiter, translating a budget
// overrun into the transport-facing error type.
func (s *AuthService) consume(ctx context.Context, name, key, phone, ip string) error {
	err := s.limiter.Consume(ctx, name, key, 1)
	if err == nil {
		return nil
	}
	var exceeded *limiter.ExceededError
	if errors.As(err, &exceeded) {
		s.emit(models.EventRateLimited, phone, ip, "", name)
		return &TooManyRequestsError{RetryAfter: exceeded.RetryAfter}
	}
	return err
}

// RequestPhoneCode issues a verification code to the phone, subject to the
// IP gate and the request budgets. It reports true when the caller should
// be told a code is on its way, which includes the dedup case where a code
// was already sent moments ago.
func (s *AuthService) RequestPhoneCode(ctx context.Context, phone, ip string) (bool, error) {
	phone = util.NormalizePhone(phone)
	if !util.IsE164(phone) {
		return false, ErrInvalidPhone
	}

	if err := s.screenIP(ctx, phone, ip); err != nil {
		return false, err
	}

	if err := s.consume(ctx, limiter.RequestPhoneCodePerPhone, phone, phone, ip); err != nil {
		return false, err
	}
	if err := s.consume(ctx, limiter.RequestPhoneCodePerIP, ip, phone, ip); err != nil {
		return false, err
	}

	// Test accounts log in with a pre-agreed code, nothing to send.
	if s.config.TestAccountFor(phone) != nil {
		return true, nil
	}

	now := time.Now().UTC()
	recent, err := s.codes.RecentByPhone(ctx, phone, now.Add(-s.config.OTP.DedupWindow))
	if err != nil {
		return false, fmt.Errorf("failed to check recent codes: %w", err)
	}
	if len(recent) > 0 {
		util.Debug("Code already sent within dedup window", zap.String("phone", phone))
		return true, nil
	}

	code, err := generateCode()
	if err != nil {
		return false, fmt.Errorf("failed to generate verification code: %w", err)
	}

	provider, ok := s.registry.Get(s.config.SMSProvider)
	if !ok {
		return false, fmt.Errorf("sms provider %q is not registered", s.config.SMSProvider)
	}

	record := &models.PhoneCode{
		PhoneNumber: phone,
		Code:        code,
		CreatedAt:   now,
		SmsProvider: provider.Name(),
	}
	if err := s.codes.Create(ctx, record); err != nil {
		return false, fmt.Errorf("failed to persist verification code: %w", err)
	}

	body := fmt.Sprintf("%s is your verification code for %s", code, s.config.ServiceName)
	result, err := provider.Send(ctx, phone, body)
	if err != nil {
		// Dispatch failure is a false result, not an error: it has been
		// recorded and the caller may simply retry.
		util.Error("SMS dispatch failed",
			zap.String("phone", phone),
			zap.String("provider", provider.Name()),
			zap.Error(err))
		s.emit(models.EventSMSDispatchFailed, phone, ip, "", err.Error())
		if statusErr := s.codes.SetDispatchStatus(ctx, phone, now, "", "failed"); statusErr != nil {
			util.Warn("failed to record dispatch failure", zap.Error(statusErr))
		}
		return false, nil
	}

	status := result.Status
	if status == "" {
		status = "sent"
	}
	if err := s.codes.SetDispatchStatus(ctx, phone, now, result.MessageID, status); err != nil {
		util.Warn("failed to record dispatch status",
			zap.String("phone", phone),
			zap.Error(err))
	}

	s.emit(models.EventCodeRequested, phone, ip, "", provider.Name())
	return true, nil
}

// Login exchanges a verification code for a session token. A wrong or
// expired code returns an empty token with a nil error so the transport
// answers a uniform 401 without leaking which part failed.
func (s *AuthService) Login(ctx context.Context, phone, code, ip string) (string, error) {
	phone = util.NormalizePhone(phone)
	if !util.IsE164(phone) {
		return "", ErrInvalidPhone
	}

	// Pre-check the failed-login budget without consuming: only failed
	// attempts add points, a successful login must not be charged.
	failed, err := s.limiter.Get(ctx, limiter.FailedLoginPerIP, ip)
	if err != nil {
		util.Warn("failed-login counter read failed, allowing attempt",
			zap.String("ip", ip),
			zap.Error(err))
	} else if failed.ConsumedPoints >= s.limiter.Budget(limiter.FailedLoginPerIP) {
		s.emit(models.EventRateLimited, phone, ip, "", limiter.FailedLoginPerIP)
		return "", &TooManyRequestsError{RetryAfter: failed.TimeToReset}
	}

	if err := s.consume(ctx, limiter.LoginAttemptPerPhone, phone, phone, ip); err != nil {
		return "", err
	}

	valid, err := s.checkCode(ctx, phone, code)
	if err != nil {
		return "", err
	}
	if !valid {
		if err := s.limiter.Consume(ctx, limiter.FailedLoginPerIP, ip, 1); err != nil {
			var exceeded *limiter.ExceededError
			if !errors.As(err, &exceeded) {
				util.Warn("failed to record failed login", zap.Error(err))
			}
		}
		s.emit(models.EventLoginFailed, phone, ip, "", "")
		return "", nil
	}

	if err := s.limiter.Delete(ctx, limiter.LoginAttemptPerPhone, phone); err != nil {
		util.Warn("failed to reset login-attempt counter", zap.Error(err))
	}
	if err := s.limiter.Reward(ctx, limiter.RequestPhoneCodePerIP, ip, 1); err != nil {
		util.Warn("failed to reward request-code counter", zap.Error(err))
	}

	user, err := s.users.UpsertByPhone(ctx, phone)
	if err != nil {
		return "", fmt.Errorf("failed to load user: %w", err)
	}

	s.attachCarrier(ctx, user)

	if err := s.users.UpdateLastLogin(ctx, user, time.Now().UTC()); err != nil {
		util.Warn("failed to update last login",
			zap.String("user_id", user.UserID),
			zap.Error(err))
	}

	signed, err := s.signer.Issue(user.UserID, s.config.Network)
	if err != nil {
		return "", fmt.Errorf("failed to issue session token: %w", err)
	}

	s.emit(models.EventLoginSuccess, phone, ip, user.UserID, "")
	return signed, nil
}

// checkCode reports whether the submitted code authenticates the phone,
// either as a configured test account or against a code issued within the
// validity window.
func (s *AuthService) checkCode(ctx context.Context, phone, code string) (bool, error) {
	if account := s.config.TestAccountFor(phone); account != nil {
		return account.Code == code, nil
	}

	since := time.Now().UTC().Add(-s.config.OTP.ValidityWindow)
	recent, err := s.codes.RecentByPhone(ctx, phone, since)
	if err != nil {
		return false, fmt.Errorf("failed to load recent codes: %w", err)
	}
	for _, record := range recent {
		if record.Code == code {
			return true, nil
		}
	}
	return false, nil
}

// attachCarrier resolves carrier metadata the first time a user logs in.
// Analytics-grade data only, so any failure is logged and ignored.
func (s *AuthService) attachCarrier(ctx context.Context, user *models.User) {
	if s.carrier == nil || user.HasCarrier() {
		return
	}

	info, err := s.carrier.Lookup(ctx, user.PhoneNumber)
	if err != nil {
		util.Warn("carrier lookup failed",
			zap.String("user_id", user.UserID),
			zap.Error(err))
		return
	}

	user.CarrierName = info.Name
	user.CarrierType = info.Type
	user.CountryCode = info.CountryCode
	user.MobileCountryCode = info.MobileCountryCode
	user.MobileNetworkCode = info.MobileNetworkCode

	if err := s.users.SaveCarrier(ctx, user); err != nil {
		util.Warn("failed to save carrier metadata",
			zap.String("user_id", user.UserID),
			zap.Error(err))
	}
}

// RecordDeliveryStatus applies an asynchronous provider delivery update to
// the matching verification-code record.
func (s *AuthService) RecordDeliveryStatus(ctx context.Context, messageID, status string) error {
	if messageID == "" || status == "" {
		return errors.New("message id and status are required")
	}
	return s.codes.UpdateDeliveryStatus(ctx, messageID, status)
}

// generateCode draws a uniform six digit code from crypto/rand.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+100000, 10), nil
}
