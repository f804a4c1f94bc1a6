package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"wallet-auth-service/internal/service"
	"wallet-auth-service/internal/util"
)

// AuthService is the slice of the auth service the HTTP layer consumes.
type AuthService interface {
	RequestPhoneCode(ctx context.Context, phone, ip string) (bool, error)
	Login(ctx context.Context, phone, code, ip string) (string, error)
	RecordDeliveryStatus(ctx context.Context, messageID, status string) error
}

// AuthHandler handles HTTP requests for phone authentication
type AuthHandler struct {
	authService AuthService
	logger      *zap.Logger
}

func NewAuthHandler(authService AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// RegisterRoutes registers the auth routes
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/code", h.RequestCode)
		r.Post("/login", h.Login)
	})
}

type requestCodeBody struct {
	Phone string `json:"phone"`
}

// RequestCode handles verification-code issuance for a phone number.
func (h *AuthHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req requestCodeBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	ip := clientIP(r)
	sent, err := h.authService.RequestPhoneCode(ctx, req.Phone, ip)
	if err != nil {
		h.respondWithAuthError(w, err, "Failed to request verification code")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]bool{"sent": sent}, "Verification code requested"))
	h.logger.Info("Verification code requested via HTTP",
		util.String("ip", ip),
		util.Duration("duration", time.Since(startTime)),
	)
}

type loginBody struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// Login exchanges a verification code for a session token. Wrong codes and
// unknown phones share one 401 so callers cannot probe which failed.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req loginBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	ip := clientIP(r)
	authToken, err := h.authService.Login(ctx, req.Phone, req.Code, ip)
	if err != nil {
		h.respondWithAuthError(w, err, "Login failed")
		return
	}
	if authToken == "" {
		h.respondWithError(w, http.StatusUnauthorized, errors.New("invalid phone or code"), "Login failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{"authToken": authToken}, "Login successful"))
	h.logger.Info("Login succeeded via HTTP",
		util.String("ip", ip),
		util.Duration("duration", time.Since(startTime)),
	)
}

// TwilioMessageStatus receives Twilio's delivery status callback. Twilio
// posts form-encoded MessageSid and MessageStatus fields.
func (h *AuthHandler) TwilioMessageStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid form body")
		return
	}

	messageSid := r.PostFormValue("MessageSid")
	messageStatus := r.PostFormValue("MessageStatus")
	if messageSid == "" || messageStatus == "" {
		h.respondWithError(w, http.StatusBadRequest,
			errors.New("MessageSid and MessageStatus are required"), "Invalid status callback")
		return
	}

	if err := h.authService.RecordDeliveryStatus(r.Context(), messageSid, messageStatus); err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to record delivery status")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// respondWithAuthError maps service errors onto the auth status codes,
// attaching Retry-After on rate-limit rejections.
func (h *AuthHandler) respondWithAuthError(w http.ResponseWriter, err error, message string) {
	var blocked *service.IPBlacklistedError
	if errors.As(err, &blocked) {
		h.respondWithError(w, http.StatusForbidden, fmt.Errorf("request origin is not allowed"), message)
		return
	}

	var tooMany *service.TooManyRequestsError
	if errors.As(err, &tooMany) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(tooMany.RetryAfter)))
		h.respondWithError(w, http.StatusTooManyRequests, err, message)
		return
	}

	if errors.Is(err, service.ErrInvalidPhone) {
		h.respondWithError(w, http.StatusBadRequest, err, message)
		return
	}

	h.respondWithError(w, http.StatusInternalServerError, err, message)
}

// retryAfterSeconds rounds up so a sub-second wait never advertises zero.
func retryAfterSeconds(d time.Duration) int {
	seconds := int((d + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// clientIP extracts the caller address. middleware.RealIP has already
// folded X-Forwarded-For into RemoteAddr where trusted.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *AuthHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}
