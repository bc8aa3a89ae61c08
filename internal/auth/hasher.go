package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	argon2Prefix  = "$argon2id$"
	argon2SaltLen = 16
	argon2KeyLen  = 32

	// MaxArgon2Time and MaxArgon2MemoryKiB bound the cost accepted from
	// configuration and from stored records.
	MaxArgon2Time      = 10
	MaxArgon2MemoryKiB = 1 << 20
)

var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// Argon2Params tunes the cost of new hashes. Existing records keep the
// parameters they were created with.
type Argon2Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultArgon2Params returns the OWASP-recommended argon2id parameters.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Time:      1,
		MemoryKiB: 64 * 1024,
		Threads:   4,
	}
}

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a self-describing hash record of the password.
	Hash(password string) (string, error)

	// Verify checks if the password matches the record.
	// Returns (true, nil) on match, (false, nil) on mismatch, or
	// ErrCorruptCredential when the record cannot be parsed.
	Verify(password, record string) (bool, error)

	// NeedsUpgrade reports whether the record was produced by an older scheme.
	NeedsUpgrade(record string) bool
}

// Argon2idHasher implements PasswordHasher using argon2id and still accepts
// bcrypt records.
type Argon2idHasher struct {
	params Argon2Params
}

// NewArgon2idHasher creates a hasher; zero fields in params fall back to defaults.
func NewArgon2idHasher(params Argon2Params) *Argon2idHasher {
	def := DefaultArgon2Params()
	if params.Time == 0 {
		params.Time = def.Time
	}
	if params.MemoryKiB == 0 {
		params.MemoryKiB = def.MemoryKiB
	}
	if params.Threads == 0 {
		params.Threads = def.Threads
	}
	return &Argon2idHasher{params: params}
}

// Hash produces an argon2id hash of the password in PHC string format.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, argon2KeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks if the password matches the record.
func (h *Argon2idHasher) Verify(password, record string) (bool, error) {
	if isBcrypt(record) {
		return verifyBcrypt(password, record)
	}
	if !strings.HasPrefix(record, argon2Prefix) {
		return false, corrupt("unsupported hash algorithm")
	}

	parts := strings.Split(record, "$")
	if len(parts) != 6 {
		return false, corrupt("invalid hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, corrupt("invalid version segment")
	}
	if version != argon2.Version {
		return false, corrupt("unsupported argon2 version %d", version)
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, corrupt("invalid parameter segment")
	}
	if memory == 0 || iterations == 0 || threads == 0 || threads > 255 ||
		memory > MaxArgon2MemoryKiB || iterations > MaxArgon2Time {
		return false, corrupt("invalid argon2 parameters m=%d t=%d p=%d", memory, iterations, threads)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return false, corrupt("invalid salt encoding")
	}

	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, corrupt("invalid digest encoding")
	}
	keyLen := len(expected)
	if keyLen == 0 || keyLen > 1<<10 {
		return false, corrupt("invalid digest length %d", keyLen)
	}

	computed := argon2.IDKey([]byte(password), salt, iterations, memory, uint8(threads), uint32(keyLen))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// NeedsUpgrade returns true if the record is not argon2id (e.g., bcrypt).
func (h *Argon2idHasher) NeedsUpgrade(record string) bool {
	return !strings.HasPrefix(record, argon2Prefix)
}

func isBcrypt(record string) bool {
	for _, prefix := range bcryptPrefixes {
		if strings.HasPrefix(record, prefix) {
			return true
		}
	}
	return false
}

func verifyBcrypt(password, record string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(record), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword), errors.Is(err, bcrypt.ErrPasswordTooLong):
		return false, nil
	default:
		return false, oops.Code("AUTH_CORRUPT_CREDENTIAL").
			With("scheme", "bcrypt").
			Wrapf(errors.Join(ErrCorruptCredential, err), "invalid bcrypt record")
	}
}

func corrupt(format string, args ...any) error {
	return oops.Code("AUTH_CORRUPT_CREDENTIAL").
		With("scheme", "argon2id").
		Wrapf(ErrCorruptCredential, format, args...)
}
