package domain

// SecretString wraps a credential so it cannot leak through default
// string conversion, %v formatting, or JSON marshaling. The raw value
// is only reachable through Reveal.
type SecretString struct {
	value string
}

const redacted = "[REDACTED]"

func NewSecretString(v string) SecretString {
	return SecretString{value: v}
}

// Reveal returns the wrapped credential. Call sites should hand the
// result straight to the transport and never store it.
func (s SecretString) Reveal() string { return s.value }

func (s SecretString) String() string { return redacted }

func (s SecretString) GoString() string { return "domain.SecretString" + "{" + redacted + "}" }

func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// IsZero reports whether no credential was configured.
func (s SecretString) IsZero() bool { return s.value == "" }
