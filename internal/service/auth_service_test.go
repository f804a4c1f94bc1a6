package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"wallet-auth-service/internal/carrier"
	"wallet-auth-service/internal/client"
	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/ipcheck"
	"wallet-auth-service/internal/limiter"
	"wallet-auth-service/internal/models"
	redisrepo "wallet-auth-service/internal/repository/redis"
	"wallet-auth-service/internal/sms"
	"wallet-auth-service/internal/token"
)

type fakeCodeRepo struct {
	mu       sync.Mutex
	records  []*models.PhoneCode
	statuses map[string]string
}

func newFakeCodeRepo() *fakeCodeRepo {
	return &fakeCodeRepo{statuses: make(map[string]string)}
}

func (r *fakeCodeRepo) Create(ctx context.Context, code *models.PhoneCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *code
	r.records = append(r.records, &copied)
	return nil
}

func (r *fakeCodeRepo) RecentByPhone(ctx context.Context, phone string, since time.Time) ([]*models.PhoneCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var recent []*models.PhoneCode
	for _, rec := range r.records {
		if rec.PhoneNumber == phone && rec.CreatedAt.After(since) {
			recent = append(recent, rec)
		}
	}
	return recent, nil
}

func (r *fakeCodeRepo) SetDispatchStatus(ctx context.Context, phone string, createdAt time.Time, messageID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.PhoneNumber == phone && rec.CreatedAt.Equal(createdAt) {
			rec.ProviderMessageID = messageID
			rec.ProviderStatus = status
		}
	}
	return nil
}

func (r *fakeCodeRepo) UpdateDeliveryStatus(ctx context.Context, messageID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[messageID] = status
	return nil
}

func (r *fakeCodeRepo) count(phone string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.PhoneNumber == phone {
			n++
		}
	}
	return n
}

func (r *fakeCodeRepo) seed(phone, code string, createdAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, &models.PhoneCode{
		PhoneNumber: phone,
		Code:        code,
		CreatedAt:   createdAt,
		SmsProvider: "twilio",
	})
}

type fakeUserRepo struct {
	mu      sync.Mutex
	users   map[string]*models.User
	nextID  int
	carrier int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*models.User)}
}

func (r *fakeUserRepo) FindByPhone(ctx context.Context, phone string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[phone], nil
}

func (r *fakeUserRepo) UpsertByPhone(ctx context.Context, phone string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[phone]; ok {
		return user, nil
	}
	r.nextID++
	user := &models.User{
		UserID:      fmt.Sprintf("user-%d", r.nextID),
		PhoneNumber: phone,
		CreatedAt:   time.Now().UTC(),
	}
	r.users[phone] = user
	return user, nil
}

func (r *fakeUserRepo) SaveCarrier(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carrier++
	r.users[user.PhoneNumber] = user
	return nil
}

func (r *fakeUserRepo) UpdateLastLogin(ctx context.Context, user *models.User, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user.LastLogin = &at
	return nil
}

func (r *fakeUserRepo) HealthCheck(ctx context.Context) error { return nil }

type fakeProvider struct {
	mu    sync.Mutex
	sends []string
	err   error
}

func (p *fakeProvider) Name() string { return "twilio" }

func (p *fakeProvider) Send(ctx context.Context, to, body string) (*sms.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.sends = append(p.sends, body)
	return &sms.SendResult{Success: true, MessageID: "SM123", Status: "queued"}, nil
}

func (p *fakeProvider) sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sends)
}

type fakeCarrier struct {
	calls int
	err   error
}

func (c *fakeCarrier) Lookup(ctx context.Context, phone string) (*carrier.Info, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &carrier.Info{CountryCode: "US", Name: "T-Mobile", Type: "mobile"}, nil
}

type testHarness struct {
	service *AuthService
	engine  *limiter.Engine
	codes   *fakeCodeRepo
	users   *fakeUserRepo
	sms     *fakeProvider
	carrier *fakeCarrier
	config  *config.Config
	signer  *token.Signer
}

type harnessOption func(*config.Config)

func withDedupWindow(window time.Duration) harnessOption {
	return func(cfg *config.Config) { cfg.OTP.DedupWindow = window }
}

func withLimit(apply func(*config.LimitsConfig)) harnessOption {
	return func(cfg *config.Config) { apply(&cfg.Limits) }
}

// ipLookupStatus builds an IP intelligence stub that classifies every IP
// with the given type.
func ipLookupStatus(t *testing.T, ipType string) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ipcheck.Details{
			Status:      ipcheck.StatusOK,
			Type:        ipType,
			CountryCode: "US",
			Provider:    "TestNet",
		})
	}))
	t.Cleanup(server.Close)
	return server.URL
}

func newHarness(t *testing.T, lookupURL string, opts ...harnessOption) *testHarness {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rc := client.NewRedisClientFromAddr(mr.Addr())
	t.Cleanup(func() { _ = rc.Close() })

	cfg := &config.Config{
		Environment: "development",
		ServiceName: "wallet",
		Network:     "REGTEST",
		SMSProvider: "twilio",
		IPCheck: config.IPCheckConfig{
			LookupURL:          lookupURL,
			Timeout:            time.Second,
			BlacklistedIPs:     []string{"203.0.113.66"},
			BlacklistedIPTypes: []string{"vpn", "tor", "hosting"},
		},
		JWT: config.JWTConfig{Secret: "test-secret", TokenTTL: time.Hour},
		Limits: config.LimitsConfig{
			RequestCodePerPhone:  config.LimitConfig{Points: 4, Window: time.Hour},
			RequestCodePerIP:     config.LimitConfig{Points: 8, Window: time.Hour},
			LoginAttemptPerPhone: config.LimitConfig{Points: 6, Window: time.Hour},
			FailedLoginPerIP:     config.LimitConfig{Points: 10, Window: 24 * time.Hour},
		},
		OTP: config.OTPConfig{
			DedupWindow:    30 * time.Second,
			ValidityWindow: 20 * time.Minute,
		},
		TestAccounts: []config.TestAccount{{Phone: "+15005550006", Code: "123456"}},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	engine := limiter.NewEngine(redisrepo.NewCounterCache(rc), cfg.Limits)
	signer, err := token.NewSigner(cfg.JWT)
	require.NoError(t, err)

	codes := newFakeCodeRepo()
	users := newFakeUserRepo()
	provider := &fakeProvider{}
	carrierResolver := &fakeCarrier{}

	svc := NewAuthService(
		cfg,
		engine,
		ipcheck.NewGate(cfg.IPCheck),
		codes,
		users,
		sms.NewRegistry(provider),
		carrierResolver,
		signer,
		nil,
	)

	return &testHarness{
		service: svc,
		engine:  engine,
		codes:   codes,
		users:   users,
		sms:     provider,
		carrier: carrierResolver,
		config:  cfg,
		signer:  signer,
	}
}

const (
	testPhone = "+15551234567"
	testIP    = "198.51.100.7"
)

func TestRequestPhoneCodeDispatchesCode(t *testing.T) {
	h := newHarness(t, ipLookupStatus(t, "mobile"))
	ctx := context.Background()

	sent, err := h.service.RequestPhoneCode(ctx, testPhone, testIP)
	require.NoError(t, err)
	require.True(t, sent)

	require.Equal(t, 1, h.codes.count(testPhone))
	record := h.codes.records[0]
	require.Regexp(t, regexp.MustCompile(`^[1-9]\d{5}$`), record.Code)
	require.Equal(t, "twilio", record.SmsProvider)
	require.Equal(t, "SM123", record.ProviderMessageID)
	require.Equal(t, "queued", record.ProviderStatus)

	require.Equal(t, 1, h.sms.sent())
	require.Contains(t, h.sms.sends[0], record.Code)
}

func TestRequestPhoneCodeRejectsInvalidPhone(t *testing.T) {
	h := newHarness(t, ipLookupStatus(t, "mobile"))

	_, err := h.service.RequestPhoneCode(context.Background(), "not-a-phone", testIP)
	require.ErrorIs(t, err, ErrInvalidPhone)
}

func TestRequestPhoneCodeBudgetExhausted(t *testing.T) {
	h := newHarness(t, ipLookupStatus(t, "mobile"),
		withDedupWindow(0),
		withLimit(func(l *config.LimitsConfig) {
			l.RequestCodePerPhone = config.LimitConfig{Points: 5, Window: time.Hour}
		}))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		sent, err := h.service.RequestPhoneCode(ctx, testPhone, testIP)
		require.NoError(t, err)
		require.True(t, sent)
	}

	_, err := h.service.RequestPhoneCode(ctx, testPhone, testIP)
	var tooMany *TooManyRequestsError
	require.ErrorAs(t, err, &tooMany)
	require.Greater(t, tooMany.RetryAfter, time.Duration(0))
	require.Equal(t, 5, h.sms.sent())
}

func TestRequestPhoneCodeDedupWindow(t *testing.T) {
	h := newHarness(t, ipLookupStatus(t, "mobile"))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		sent, err := h.service.RequestPhoneCode(ctx, testPhone, testIP)
		require.NoError(t, err)
		require.True(t, sent)
	}

	require.Equal(t, 1, h.codes.count(testPhone))
	require.Equal(t, 1, h.sms.sent())

	// The deduped request still consumed budget.
	counter, err := h.engine.Get(ctx, limiter.RequestPhoneCodePerPhone, testPhone)
	require.NoError(t, err)
	require.Equal(t, 2, counter.ConsumedPoints)
}

func TestRequestPhoneCodeTestAccountSkipsDispatch(t *testing.T) {
	h := newHarness(t, ipLookupStatus(t, "mobile"))

	sent, err := h.service.RequestPhoneCode(context.Background(), "+15005550006", testIP)
	require.NoError(t, err)
	require.True(t, sent)
	require.Zero(t, h.sms.sent())
	require.Zero(t, h.codes.count("+15005550006"))
}

func TestRequestPhoneCodeDenyListedIP(t *testing.T) {
	h := newHarness(t, ipLookupStatus(t, "mobile"))

	_, err := h.service.RequestPhoneCode(context.Background(), testPhone, "203.0.113.66")
	var blocked *IPBlacklistedError
	require.ErrorAs(t, err, &blocked)
	require.Zero(t, h.sms.sent())
}

func TestRequestPhoneCodeBlockedNetworkType(t *testing.T) {
	h := newHarness(t, ipLookupStatus(t, "VPN"))
	ctx := context.Background()

	_, err := h.service.RequestPhoneCode(ctx, testPhone, testIP)
	var blocked *IPBlacklistedError
	require.ErrorAs(t, err, &blocked)

	// Gate rejections leave limiter state untouched.
	counter, err := h.engine.Get(ctx, limiter.RequestPhoneCodePerPhone, testPhone)
	require.NoError(t, err)
	require.Zero(t, counter.ConsumedPoints)
}

func TestRequestPhoneCodeLookupFailsOpen(t *testing.T) {
	h := newHarness(t, "http://127.0.0.1:1")

	sent, err := h.service.RequestPhoneCode(context.Background(), testPhone, testIP)
	require.NoError(t, err)
	require.True(t, sent)
	require.Equal(t, 1, h.sms.sent())
}

func TestRequestPhoneCodeDispatchFailure(t *testing.T) {
	h := newHarness(t, ipLookupStatus(t, "mobile"))
	h.sms.err = errors.New("twilio unavailable")

	sent, err := h.service.RequestPhoneCode(context.Background(), testPhone, testIP)
	require.NoError(t, err)
	require.False(t, sent)
	require.Equal(t, 1, h.codes.count(testPhone))
	require.Equal(t, "failed", h.codes.records[0].ProviderStatus)
}

func TestLoginWithCorrectCode(t *testing.T) {
	h := newHarness(t, ipLookupStatus(t, "mobile"))
	ctx := context.Background()

	// Simulate a preceding code request that charged both request budgets.
	require.NoError(t, h.engine.Consume(ctx, limiter.RequestPhoneCodePerIP, testIP, 1))
	h.codes.seed(testPhone, "482913", time.Now().UTC().Add(-time.Minute))

	signed, err := h.service.Login(ctx, testPhone, "482913", testIP)
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	claims, err := h.signer.Parse(signed)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UID)
	require.Equal(t, "REGTEST", claims.Network)

	// Success resets the attempt counter and refunds the request budget.
	attempts, err := h.engine.Get(ctx, limiter.LoginAttemptPerPhone, testPhone)
	require.NoError(t, err)
	require.Zero(t, attempts.ConsumedPoints)

	requests, err := h.engine.Get(ctx, limiter.RequestPhoneCodePerIP, testIP)
	require.NoError(t, err)
	require.Zero(t, requests.ConsumedPoints)

	user := h.users.users[testPhone]
	require.NotNil(t, user)
	require.NotNil(t, user.LastLogin)
	require.Equal(t, "T-Mobile", user.CarrierName)
	require.Equal(t, 1, h.carrier.calls)
}

func TestLoginWithWrongCode(t *testing.T) {
	h := newHarness(t, ipLookupStatus(t, "mobile"))
	ctx := context.Background()

	h.codes.seed(testPhone, "482913", time.Now().UTC().Add(-time.Minute))

	signed, err := h.service.Login(ctx, testPhone, "000000", testIP)
	require.NoError(t, err)
	require.Empty(t, signed)

	failed, err := h.engine.Get(ctx, limiter.FailedLoginPerIP, testIP)
	require.NoError(t, err)
	require.Equal(t, 1, failed.ConsumedPoints)

	require.Empty(t, h.users.users)
}

func TestLoginWithExpiredCode(t *testing.T) {
	h := newHarness(t, ipLookupStatus(t, "mobile"))

	h.codes.seed(testPhone, "482913", time.Now().UTC().Add(-25*time.Minute))

	signed, err := h.service.Login(context.Background(), testPhone, "482913", testIP)
	require.NoError(t, err)
	require.Empty(t, signed)
}

func TestLoginFailedBudgetBlocksBeforeAttempt(t *testing.T) {
	h := newHarness(t, ipLookupStatus(t, "mobile"),
		withLimit(func(l *config.LimitsConfig) {
			l.FailedLoginPerIP = config.LimitConfig{Points: 2, Window: 24 * time.Hour}
		}))
	ctx := context.Background()

	require.NoError(t, h.engine.Consume(ctx, limiter.FailedLoginPerIP, testIP, 2))

	_, err := h.service.Login(ctx, testPhone, "482913", testIP)
	var tooMany *TooManyRequestsError
	require.ErrorAs(t, err, &tooMany)

	// The pre-check consumed nothing from the per-phone attempt budget.
	attempts, err := h.engine.Get(ctx, limiter.LoginAttemptPerPhone, testPhone)
	require.NoError(t, err)
	require.Zero(t, attempts.ConsumedPoints)
}

func TestLoginAttemptBudgetExhausted(t *testing.T) {
	h := newHarness(t, ipLookupStatus(t, "mobile"),
		withLimit(func(l *config.LimitsConfig) {
			l.LoginAttemptPerPhone = config.LimitConfig{Points: 2, Window: time.Hour}
		}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		signed, err := h.service.Login(ctx, testPhone, "000000", testIP)
		require.NoError(t, err)
		require.Empty(t, signed)
	}

	_, err := h.service.Login(ctx, testPhone, "000000", testIP)
	var tooMany *TooManyRequestsError
	require.ErrorAs(t, err, &tooMany)
}

func TestLoginTestAccount(t *testing.T) {
	h := newHarness(t, ipLookupStatus(t, "mobile"))

	signed, err := h.service.Login(context.Background(), "+15005550006", "123456", testIP)
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	claims, err := h.signer.Parse(signed)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UID)
}

func TestLoginTestAccountWrongCode(t *testing.T) {
	h := newHarness(t, ipLookupStatus(t, "mobile"))

	signed, err := h.service.Login(context.Background(), "+15005550006", "999999", testIP)
	require.NoError(t, err)
	require.Empty(t, signed)
}

func TestLoginCarrierLookupFailureIsNonFatal(t *testing.T) {
	h := newHarness(t, ipLookupStatus(t, "mobile"))
	h.carrier.err = errors.New("lookup unavailable")

	h.codes.seed(testPhone, "482913", time.Now().UTC().Add(-time.Minute))

	signed, err := h.service.Login(context.Background(), testPhone, "482913", testIP)
	require.NoError(t, err)
	require.NotEmpty(t, signed)
	require.Empty(t, h.users.users[testPhone].CarrierName)
}

func TestLoginCarrierLookupOnlyOnce(t *testing.T) {
	h := newHarness(t, ipLookupStatus(t, "mobile"))
	ctx := context.Background()

	h.codes.seed(testPhone, "482913", time.Now().UTC().Add(-time.Minute))

	for i := 0; i < 2; i++ {
		signed, err := h.service.Login(ctx, testPhone, "482913", testIP)
		require.NoError(t, err)
		require.NotEmpty(t, signed)
	}

	require.Equal(t, 1, h.carrier.calls)
}

func TestRecordDeliveryStatus(t *testing.T) {
	h := newHarness(t, ipLookupStatus(t, "mobile"))

	require.NoError(t, h.service.RecordDeliveryStatus(context.Background(), "SM123", "delivered"))
	require.Equal(t, "delivered", h.codes.statuses["SM123"])

	require.Error(t, h.service.RecordDeliveryStatus(context.Background(), "", "delivered"))
}
