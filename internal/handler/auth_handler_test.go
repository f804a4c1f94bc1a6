package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wallet-auth-service/internal/service"
)

type stubAuthService struct {
	requestNotSent bool
	requestErr     error
	loginToken     string
	loginErr       error
	deliveryErr    error

	lastPhone     string
	lastCode      string
	lastIP        string
	lastMessageID string
	lastStatus    string
}

func (s *stubAuthService) RequestPhoneCode(ctx context.Context, phone, ip string) (bool, error) {
	s.lastPhone, s.lastIP = phone, ip
	if s.requestErr != nil {
		return false, s.requestErr
	}
	return !s.requestNotSent, nil
}

func (s *stubAuthService) Login(ctx context.Context, phone, code, ip string) (string, error) {
	s.lastPhone, s.lastCode, s.lastIP = phone, code, ip
	return s.loginToken, s.loginErr
}

func (s *stubAuthService) RecordDeliveryStatus(ctx context.Context, messageID, status string) error {
	s.lastMessageID, s.lastStatus = messageID, status
	return s.deliveryErr
}

func newTestServer(t *testing.T, stub *stubAuthService, healthErr error) *httptest.Server {
	t.Helper()
	authHandler := NewAuthHandler(stub, zap.NewNop())
	router := NewRouter(authHandler, func(ctx context.Context) error { return healthErr }, zap.NewNop())
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRequestCodeOK(t *testing.T) {
	stub := &stubAuthService{}
	server := newTestServer(t, stub, nil)

	resp := postJSON(t, server.URL+"/api/v1/auth/code", `{"phone":"+15551234567"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "+15551234567", stub.lastPhone)
	require.NotEmpty(t, stub.lastIP)

	var body Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.True(t, body.Success)
}

func TestRequestCodeDispatchFailureIsNotAnError(t *testing.T) {
	stub := &stubAuthService{requestNotSent: true}
	server := newTestServer(t, stub, nil)

	resp := postJSON(t, server.URL+"/api/v1/auth/code", `{"phone":"+15551234567"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.True(t, body.Success)
	data, ok := body.Data.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, false, data["sent"])
}

func TestRequestCodeBlockedIP(t *testing.T) {
	stub := &stubAuthService{requestErr: &service.IPBlacklistedError{IP: "1.2.3.4", Reason: "deny-listed ip"}}
	server := newTestServer(t, stub, nil)

	resp := postJSON(t, server.URL+"/api/v1/auth/code", `{"phone":"+15551234567"}`)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRequestCodeRateLimited(t *testing.T) {
	stub := &stubAuthService{requestErr: &service.TooManyRequestsError{RetryAfter: 90 * time.Second}}
	server := newTestServer(t, stub, nil)

	resp := postJSON(t, server.URL+"/api/v1/auth/code", `{"phone":"+15551234567"}`)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "90", resp.Header.Get("Retry-After"))
}

func TestRequestCodeInvalidPhone(t *testing.T) {
	stub := &stubAuthService{requestErr: service.ErrInvalidPhone}
	server := newTestServer(t, stub, nil)

	resp := postJSON(t, server.URL+"/api/v1/auth/code", `{"phone":"bogus"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRequestCodeMalformedBody(t *testing.T) {
	server := newTestServer(t, &stubAuthService{}, nil)

	resp := postJSON(t, server.URL+"/api/v1/auth/code", `{not json`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoginSuccess(t *testing.T) {
	stub := &stubAuthService{loginToken: "signed.jwt.token"}
	server := newTestServer(t, stub, nil)

	resp := postJSON(t, server.URL+"/api/v1/auth/login", `{"phone":"+15551234567","code":"482913"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "482913", stub.lastCode)

	var body Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.True(t, body.Success)
	data, ok := body.Data.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "signed.jwt.token", data["authToken"])
}

func TestLoginWrongCodeIsUniform401(t *testing.T) {
	stub := &stubAuthService{loginToken: ""}
	server := newTestServer(t, stub, nil)

	resp := postJSON(t, server.URL+"/api/v1/auth/login", `{"phone":"+15551234567","code":"000000"}`)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTwilioMessageStatus(t *testing.T) {
	stub := &stubAuthService{}
	server := newTestServer(t, stub, nil)

	form := url.Values{"MessageSid": {"SM123"}, "MessageStatus": {"delivered"}}
	resp, err := http.PostForm(server.URL+"/twilioMessageStatus", form)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "SM123", stub.lastMessageID)
	require.Equal(t, "delivered", stub.lastStatus)
}

func TestTwilioMessageStatusMissingFields(t *testing.T) {
	server := newTestServer(t, &stubAuthService{}, nil)

	resp, err := http.PostForm(server.URL+"/twilioMessageStatus", url.Values{"MessageSid": {"SM123"}})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, &stubAuthService{}, nil)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
