package services

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/tryhardly/apiserver/internal/metrics"
	"github.com/tryhardly/apiserver/internal/store"
	"github.com/tryhardly/apiserver/types"
)

const (
	// DefaultTokenTTL is used when no TTL is configured.
	DefaultTokenTTL = 7 * 24 * time.Hour

	maxPasswordBytes   = 1024
	maxDisplayNameLen  = 64
	maxEmailLen        = 254
	missingFieldsError = "missing required fields"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

// dummyPasswordHash is verified when the email is unknown so that login takes
// the same time whether or not the account exists. It matches no password.
//
//nolint:gosec // G101: not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// CredentialHasher hashes and verifies passwords, honoring ctx while waiting
// for a hashing slot.
type CredentialHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, password, record string) (bool, error)
	// NeedsUpgrade reports records written by a legacy scheme.
	NeedsUpgrade(record string) bool
}

// TokenIssuer mints bearer tokens for a user id.
type TokenIssuer interface {
	Issue(userID string, ttl time.Duration) (string, error)
}

// RegisterInput is the raw registration payload.
type RegisterInput struct {
	Email       string
	Username    string
	DisplayName string
	Password    string
	Class       string
}

// AuthResult is returned by successful register and login calls.
type AuthResult struct {
	User  types.PublicUser `json:"user"`
	Token string           `json:"token"`
}

// AuthService orchestrates registration and login.
type AuthService struct {
	users    UserRepository
	hasher   CredentialHasher
	tokens   TokenIssuer
	tokenTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// NewAuthService constructs an AuthService. A non-positive ttl falls back to
// DefaultTokenTTL and a nil logger to slog.Default().
func NewAuthService(users UserRepository, hasher CredentialHasher, tokens TokenIssuer, ttl time.Duration, logger *slog.Logger) *AuthService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		tokenTTL: ttl,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Register creates an account and returns it with a fresh token.
// It performs exactly one write.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	user, err := s.validateRegistration(in)
	if err != nil {
		return AuthResult{}, err
	}

	if err := s.ensureAvailable(ctx, user.Email, user.Username); err != nil {
		return AuthResult{}, err
	}

	hashed, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return AuthResult{}, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}
	user.PasswordHash = hashed

	created, err := s.users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return AuthResult{}, oops.Code("AUTH_CONFLICT").
				With("operation", "create user").
				Wrap(ErrConflict)
		}
		return AuthResult{}, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	token, err := s.tokens.Issue(created.ID, s.tokenTTL)
	if err != nil {
		return AuthResult{}, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "issue token").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", created.ID, "class", created.Class)
	return AuthResult{User: created.Public(), Token: token}, nil
}

// Login verifies credentials and returns the account with a fresh token.
// It performs no writes.
func (s *AuthService) Login(ctx context.Context, email, password string) (AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return AuthResult{}, invalid("", "missing credentials")
	}

	user, lookupErr := s.users.FindByEmail(ctx, email)
	exists := true
	record := user.PasswordHash
	if lookupErr != nil {
		if !errors.Is(lookupErr, store.ErrNotFound) {
			return AuthResult{}, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "find user by email").
				Wrap(lookupErr)
		}
		exists = false
		record = dummyPasswordHash
	}

	ok, err := s.hasher.Verify(ctx, password, record)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return AuthResult{}, err
		}
		if !exists {
			return AuthResult{}, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrUnauthorized)
		}
		return AuthResult{}, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID).
			Wrap(err)
	}

	if !exists || !ok {
		reason := "password_mismatch"
		if !exists {
			reason = "unknown_email"
		}
		s.logger.InfoContext(ctx, "login rejected", "reason", reason)
		return AuthResult{}, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrUnauthorized)
	}

	if s.hasher.NeedsUpgrade(record) {
		metrics.LegacyCredentialLoginsTotal.Inc()
		s.logger.WarnContext(ctx, "login with legacy password hash", "user_id", user.ID)
	}

	token, err := s.tokens.Issue(user.ID, s.tokenTTL)
	if err != nil {
		return AuthResult{}, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue token").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID)
	return AuthResult{User: user.Public(), Token: token}, nil
}

func (s *AuthService) ensureAvailable(ctx context.Context, email, username string) error {
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return oops.Code("AUTH_CONFLICT").With("field", "email").Wrap(ErrConflict)
	} else if !errors.Is(err, store.ErrNotFound) {
		return oops.Code("AUTH_REGISTER_FAILED").With("operation", "find user by email").Wrap(err)
	}

	if _, err := s.users.FindByUsername(ctx, username); err == nil {
		return oops.Code("AUTH_CONFLICT").With("field", "username").Wrap(ErrConflict)
	} else if !errors.Is(err, store.ErrNotFound) {
		return oops.Code("AUTH_REGISTER_FAILED").With("operation", "find user by username").Wrap(err)
	}
	return nil
}

func (s *AuthService) validateRegistration(in RegisterInput) (types.User, error) {
	email := normalizeEmail(in.Email)
	username := strings.TrimSpace(in.Username)
	displayName := strings.TrimSpace(in.DisplayName)
	if email == "" || username == "" || displayName == "" || in.Password == "" {
		return types.User{}, invalid("", missingFieldsError)
	}

	if len(email) > maxEmailLen {
		return types.User{}, invalid("email", "invalid email address")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return types.User{}, invalid("email", "invalid email address")
	}
	if !usernamePattern.MatchString(username) {
		return types.User{}, invalid("username", "must be 3-32 letters, digits, '_' or '-'")
	}
	if utf8.RuneCountInString(displayName) > maxDisplayNameLen {
		return types.User{}, invalid("displayName", "too long")
	}
	if len(in.Password) > maxPasswordBytes {
		return types.User{}, invalid("password", "too long")
	}

	class, ok := types.ParseClass(in.Class)
	if !ok {
		return types.User{}, invalid("class", "must be one of WARRIOR, MAGE, ROGUE, CLERIC")
	}

	now := s.now().UTC()
	return types.User{
		ID:          s.newID(),
		Email:       email,
		Username:    username,
		DisplayName: displayName,
		Class:       class,
		Level:       types.DefaultLevel,
		XP:          types.DefaultXP,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
