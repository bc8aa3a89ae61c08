package auth

import (
	"crypto/hmac"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// MinSecretLength is the minimum accepted HMAC key size in bytes.
const MinSecretLength = 32

var signingMethod = jwt.SigningMethodHS256

// Claims is the verified content of a token.
type Claims struct {
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenService issues and verifies HS256-signed JWTs.
// It holds no mutable state and is safe for concurrent use.
type TokenService struct {
	secret []byte
	issuer string
	now    func() time.Time
	parser *jwt.Parser
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

// WithIssuer sets the iss claim written on issue and required on verify.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) {
		s.issuer = strings.TrimSpace(issuer)
	}
}

// NewTokenService constructs a TokenService. The secret must be at least
// MinSecretLength bytes.
func NewTokenService(secret []byte, opts ...TokenOption) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	s := &TokenService{
		secret: append([]byte(nil), secret...),
		now:    time.Now,
		parser: jwt.NewParser(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue returns a signed token for userID that expires after ttl.
func (s *TokenService) Issue(userID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id is required")
	}

	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(signingMethod, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", oops.Code("AUTH_TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

// Verify checks shape, encoding, signature and expiry, in that order, and
// returns the embedded claims.
func (s *TokenService) Verify(tokenString string) (Claims, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Claims{}, oops.Code("AUTH_TOKEN_MALFORMED").Wrapf(ErrMalformedToken, "expected 3 segments")
	}

	for i, name := range []string{"header", "payload"} {
		if err := s.decodeObject(parts[i]); err != nil {
			return Claims{}, oops.Code("AUTH_TOKEN_MALFORMED").
				With("segment", name).
				Wrapf(errors.Join(ErrMalformedToken, err), "decode %s", name)
		}
	}

	sig, err := signingMethod.Sign(parts[0]+"."+parts[1], s.secret)
	if err != nil {
		return Claims{}, oops.Code("AUTH_TOKEN_SIGN_FAILED").Wrap(err)
	}
	expected := base64.RawURLEncoding.EncodeToString(sig)
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return Claims{}, oops.Code("AUTH_TOKEN_SIGNATURE").Wrapf(ErrInvalidSignature, "signature mismatch")
	}

	var registered jwt.RegisteredClaims
	token, _, err := s.parser.ParseUnverified(tokenString, &registered)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenUnverifiable) {
			return Claims{}, oops.Code("AUTH_TOKEN_SIGNATURE").Wrapf(ErrInvalidSignature, "unknown signing method")
		}
		return Claims{}, oops.Code("AUTH_TOKEN_MALFORMED").Wrapf(errors.Join(ErrMalformedToken, err), "decode token")
	}
	if token.Method.Alg() != signingMethod.Alg() {
		return Claims{}, oops.Code("AUTH_TOKEN_SIGNATURE").
			With("alg", token.Method.Alg()).
			Wrapf(ErrInvalidSignature, "unexpected signing method")
	}
	if s.issuer != "" && registered.Issuer != s.issuer {
		return Claims{}, oops.Code("AUTH_TOKEN_SIGNATURE").
			With("iss", registered.Issuer).
			Wrapf(ErrInvalidSignature, "issuer mismatch")
	}
	if strings.TrimSpace(registered.Subject) == "" || registered.ExpiresAt == nil {
		return Claims{}, oops.Code("AUTH_TOKEN_MALFORMED").Wrapf(ErrMalformedToken, "missing sub or exp")
	}

	if !s.now().Before(registered.ExpiresAt.Time) {
		return Claims{}, oops.Code("AUTH_TOKEN_EXPIRED").
			With("expires_at", registered.ExpiresAt.Time).
			Wrapf(ErrExpiredToken, "token expired")
	}

	claims := Claims{
		UserID:    registered.Subject,
		ExpiresAt: registered.ExpiresAt.Time,
	}
	if registered.IssuedAt != nil {
		claims.IssuedAt = registered.IssuedAt.Time
	}
	return claims, nil
}

// decodeObject requires seg to be a base64url-encoded JSON object.
func (s *TokenService) decodeObject(seg string) error {
	raw, err := s.parser.DecodeSegment(seg)
	if err != nil {
		return err
	}
	var obj map[string]json.RawMessage
	return json.Unmarshal(raw, &obj)
}
