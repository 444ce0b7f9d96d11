// Package identity derives stable keys from applicant phone numbers.
//
// A phone number is the only identity this system has. Resolve maps it to a
// Key whose accessors produce the cache namespaces for each record type. The
// mapping is pure: no I/O, no shared state, and two different phones never
// yield the same key because every namespace is a fixed prefix followed by
// the raw phone.
package identity

import (
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

const (
	profilePrefix    = "users:"
	transcriptPrefix = "chats:"
	sessionPrefix    = "session:"
	userIDPrefix     = "user_"
)

// phoneRE matches a mainland China mobile number.
var phoneRE = regexp.MustCompile(`^1[3-9]\d{9}$`)

// Normalize trims surrounding whitespace and folds full-width digits (as
// typed by CJK input methods) to ASCII.
func Normalize(phone string) string {
	return width.Narrow.String(strings.TrimSpace(phone))
}

// Valid reports whether phone, after normalization, is a well-formed mobile
// number.
func Valid(phone string) bool {
	return phoneRE.MatchString(Normalize(phone))
}

// Key is the resolved identity of a phone number.
type Key struct {
	phone string
}

// Resolve returns the key for phone. It does not validate; callers check
// Valid first.
func Resolve(phone string) Key {
	return Key{phone: Normalize(phone)}
}

// Phone returns the normalized phone the key was built from.
func (k Key) Phone() string { return k.phone }

// String returns the synthetic user id ("user_<phone>").
func (k Key) String() string { return userIDPrefix + k.phone }

// Profile returns the cache key of the profile snapshot.
func (k Key) Profile() string { return profilePrefix + k.phone }

// Transcript returns the cache key of the transcript snapshot.
func (k Key) Transcript() string { return transcriptPrefix + k.phone }

// SessionKey returns the cache key under which a session's active phone is
// stored.
func SessionKey(sessionID string) string { return sessionPrefix + sessionID }

// Mask hides the middle digits of a phone for logs ("138****1111"). Values
// that are not well-formed phones are fully masked.
func Mask(phone string) string {
	p := Normalize(phone)
	if !phoneRE.MatchString(p) {
		return "***"
	}
	return p[:3] + "****" + p[7:]
}
