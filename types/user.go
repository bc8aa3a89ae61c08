package types

import (
	"strings"
	"time"
)

// Class is the adventurer archetype a user picks at registration.
type Class string

const (
	ClassWarrior Class = "WARRIOR"
	ClassMage    Class = "MAGE"
	ClassRogue   Class = "ROGUE"
	ClassCleric  Class = "CLERIC"
)

// DefaultClass is assigned when registration does not name a class.
const DefaultClass = ClassWarrior

// Starting progression values for new accounts.
const (
	DefaultLevel = 1
	DefaultXP    = 0
)

// ParseClass normalizes raw input into a Class. Empty input yields DefaultClass.
func ParseClass(raw string) (Class, bool) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return DefaultClass, true
	}
	c := Class(raw)
	return c, c.Valid()
}

// Valid reports whether c is one of the known classes.
func (c Class) Valid() bool {
	switch c {
	case ClassWarrior, ClassMage, ClassRogue, ClassCleric:
		return true
	default:
		return false
	}
}

// User represents an account in the system.
// It contains identity, progression, and audit metadata.
type User struct {
	// ID is the immutable unique identifier of the user (UUID).
	ID string `json:"id" db:"id"`

	// Email is the user's email address. Unique, stored lower-cased.
	Email string `json:"email" db:"email"`

	// Username is the unique public handle chosen by the user.
	Username string `json:"username" db:"username"`

	// DisplayName is the name shown on profiles and quest boards.
	DisplayName string `json:"displayName" db:"display_name"`

	// PasswordHash stores the self-describing hash record of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// Class is the user's adventurer archetype.
	Class Class `json:"class" db:"class"`

	// Level and XP are progression counters, defaulted at creation.
	Level int `json:"level" db:"level"`
	XP    int `json:"xp" db:"xp"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// PublicUser is the projection of a User that is safe to return to clients.
type PublicUser struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Level       int    `json:"level"`
	XP          int    `json:"xp"`
	Class       Class  `json:"class"`
}

// Public returns the client-facing projection of u.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:          u.ID,
		Email:       u.Email,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Level:       u.Level,
		XP:          u.XP,
		Class:       u.Class,
	}
}
