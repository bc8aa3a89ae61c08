package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tryhardly/apiserver/internal/auth"
	"github.com/tryhardly/apiserver/internal/metrics"
	"github.com/tryhardly/apiserver/internal/services"
	"github.com/tryhardly/apiserver/types"
)

const (
	maxAuthBodyBytes = 1 << 20

	msgInvalidToken       = "invalid or expired token"
	msgInvalidCredentials = "invalid credentials"
	msgConflict           = "account already exists"
	msgInternal           = "internal server error"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// AuthHandler provides registration, login and identity endpoints.
type AuthHandler struct {
	authService *services.AuthService
	userService *services.UserService
	logger      *slog.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(authService *services.AuthService, userService *services.UserService, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		authService: authService,
		userService: userService,
		logger:      logger,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.With(authMiddleware).Get("/me", handler.Me)
}

// RequireAuth enforces bearer token authentication and injects the user id
// into the request context. Every failure gets the same 401 body; the
// specific reason only reaches logs and metrics.
func RequireAuth(tokens TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, reason := bearerToken(r)
			if reason != "" {
				rejectToken(w, r, logger, reason, nil)
				return
			}

			claims, err := tokens.Verify(tokenString)
			if err != nil {
				rejectToken(w, r, logger, auth.RejectReason(err), err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.UserID)))
		})
	}
}

func rejectToken(w http.ResponseWriter, r *http.Request, logger *slog.Logger, reason string, err error) {
	attrs := []any{
		"reason", reason,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
	}
	if err != nil {
		attrs = append(attrs, "error", err.Error())
	}
	logger.WarnContext(r.Context(), "bearer token rejected", attrs...)
	metrics.TokenRejectionsTotal.WithLabelValues(reason).Inc()
	writeError(w, http.StatusUnauthorized, msgInvalidToken)
}

// Register creates a new user account and returns it with a token.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.observe("register", "invalid")
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	class := req.Class
	if class == "" {
		class = req.UserClass
	}

	res, err := h.authService.Register(r.Context(), services.RegisterInput{
		Email:       req.Email,
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		Class:       class,
	})
	if err != nil {
		h.writeServiceError(w, r, "register", err)
		return
	}

	h.observe("register", "success")
	writeJSON(w, http.StatusCreated, AuthResponse{Token: res.Token, User: res.User})
}

// Login verifies credentials and returns the account with a token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.observe("login", "invalid")
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	res, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, r, "login", err)
		return
	}

	h.observe("login", "success")
	writeJSON(w, http.StatusOK, AuthResponse{Token: res.Token, User: res.User})
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, msgInvalidToken)
		return
	}

	user, err := h.userService.GetPublic(r.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, msgInvalidToken)
			return
		}
		logError(h.logger, r, "failed to load user", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	writeJSON(w, http.StatusOK, MeResponse{UserID: userID, User: user})
}

func (h *AuthHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var vErr *services.ValidationError
	switch {
	case errors.As(err, &vErr):
		h.observe(op, "invalid")
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, services.ErrConflict):
		h.observe(op, "conflict")
		writeError(w, http.StatusConflict, msgConflict)
	case errors.Is(err, services.ErrUnauthorized):
		h.observe(op, "unauthorized")
		writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
	case errors.Is(err, context.Canceled):
		h.observe(op, "cancelled")
		h.logger.InfoContext(r.Context(), "request cancelled", "operation", op)
	default:
		h.observe(op, "error")
		logError(h.logger, r, op+" failed", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}

func (h *AuthHandler) observe(op, outcome string) {
	metrics.AuthAttemptsTotal.WithLabelValues(op, outcome).Inc()
}

type RegisterRequest struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
	Class       string `json:"class"`
	// UserClass is the field name used by the web client.
	UserClass string `json:"userClass"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	User  types.PublicUser `json:"user"`
	Token string           `json:"token"`
}

type MeResponse struct {
	UserID string           `json:"userId"`
	User   types.PublicUser `json:"user"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxAuthBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// bearerToken extracts the token from the Authorization header, or returns
// the rejection reason.
func bearerToken(r *http.Request) (string, string) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" || strings.EqualFold(header, "Bearer") {
		return "", auth.ReasonMissing
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", auth.ReasonScheme
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", auth.ReasonMissing
	}
	return token, ""
}
