// Package domain holds the validated value objects that cross the
// boundary into the delivery pipeline. Construction fails closed:
// invalid input is rejected with a ValidationError and never stored.
package domain

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/rivo/uniseg"
)

// ValidationError describes a rejected field value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

const maxNameGraphemes = 256

var forbiddenNameChars = []rune{'/', '(', ')', '"', '<', '>', '\\', '{', '}'}

// SubscriberName is a display name that satisfied all validation
// constraints at construction time.
type SubscriberName struct {
	value string
}

// NewSubscriberName validates s and returns a SubscriberName.
// The name must be non-empty after trimming, at most 256 grapheme
// clusters long, and free of characters usable for header or markup
// injection.
func NewSubscriberName(s string) (SubscriberName, error) {
	if strings.TrimSpace(s) == "" {
		return SubscriberName{}, &ValidationError{Field: "name", Reason: "empty or whitespace only"}
	}
	if uniseg.GraphemeClusterCount(s) > maxNameGraphemes {
		return SubscriberName{}, &ValidationError{Field: "name", Reason: fmt.Sprintf("longer than %d characters", maxNameGraphemes)}
	}
	for _, c := range s {
		for _, f := range forbiddenNameChars {
			if c == f {
				return SubscriberName{}, &ValidationError{Field: "name", Reason: fmt.Sprintf("contains forbidden character %q", c)}
			}
		}
	}
	return SubscriberName{value: s}, nil
}

func (n SubscriberName) String() string { return n.value }

// SubscriberEmail is a syntactically valid email address.
type SubscriberEmail struct {
	value string
}

// NewSubscriberEmail validates s as a bare address (no display name).
func NewSubscriberEmail(s string) (SubscriberEmail, error) {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return SubscriberEmail{}, &ValidationError{Field: "email", Reason: "not a valid email address"}
	}
	// mail.ParseAddress accepts "Name <a@b.com>" forms; the directory
	// stores bare addresses only.
	if addr.Name != "" || addr.Address != s {
		return SubscriberEmail{}, &ValidationError{Field: "email", Reason: "must be a bare address without display name"}
	}
	return SubscriberEmail{value: s}, nil
}

func (e SubscriberEmail) String() string { return e.value }

// NewSubscriber pairs a validated email with a validated name.
type NewSubscriber struct {
	Email SubscriberEmail
	Name  SubscriberName
}
