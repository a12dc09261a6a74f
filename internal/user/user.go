// Package user defines the account owning dream records and its optional
// profile attributes.
package user

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxBioRunes is the longest accepted bio.
const MaxBioRunes = 180

// ErrInvalidProfile wraps every profile validation failure.
var ErrInvalidProfile = errors.New("invalid profile")

// Gender is the profile gender code.
type Gender string

const (
	GenderUnset  Gender = ""
	GenderMale   Gender = "M"
	GenderFemale Gender = "F"
	GenderOther  Gender = "O"
	// GenderUndisclosed means the user chose not to say.
	GenderUndisclosed Gender = "N"
)

// Valid reports whether g is one of the known codes or unset.
func (g Gender) Valid() bool {
	switch g {
	case GenderUnset, GenderMale, GenderFemale, GenderOther, GenderUndisclosed:
		return true
	}
	return false
}

// Profile holds the optional user attributes.
type Profile struct {
	Age    *int   `json:"age,omitempty"`
	Gender Gender `json:"sexe,omitempty"`
	Bio    string `json:"bio,omitempty"`
	// PictureBase64 is the profile picture as a data URL or raw base64.
	PictureBase64 string `json:"profile_picture_base64,omitempty"`
}

// Validate joins every problem found in p.
func (p Profile) Validate() error {
	var errs []error
	if p.Age != nil && (*p.Age < 0 || *p.Age > 150) {
		errs = append(errs, fmt.Errorf("%w: age %d out of range", ErrInvalidProfile, *p.Age))
	}
	if !p.Gender.Valid() {
		errs = append(errs, fmt.Errorf("%w: sexe %q must be one of M, F, O, N", ErrInvalidProfile, p.Gender))
	}
	if n := utf8.RuneCountInString(p.Bio); n > MaxBioRunes {
		errs = append(errs, fmt.Errorf("%w: bio is %d characters, max %d", ErrInvalidProfile, n, MaxBioRunes))
	}
	return errors.Join(errs...)
}

// User is an account.
type User struct {
	ID           uuid.UUID
	Email        string
	Username     string
	PasswordHash []byte
	Profile      Profile
	CreatedAt    time.Time
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
