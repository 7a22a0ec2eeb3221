package config

import (
	"os"
	"testing"
	"time"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		expected     string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY_1",
			defaultValue: "default",
			envValue:     "env_value",
			expected:     "env_value",
		},
		{
			name:         "returns default when environment variable is empty",
			key:          "TEST_KEY_2",
			defaultValue: "default",
			envValue:     "",
			expected:     "default",
		},
		{
			name:         "handles empty default value",
			key:          "TEST_KEY_3",
			defaultValue: "",
			envValue:     "env_value",
			expected:     "env_value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			result := getenv(tt.key, tt.defaultValue)
			if result != tt.expected {
				t.Errorf("getenv(%q, %q) = %q, want %q", tt.key, tt.defaultValue, result, tt.expected)
			}
		})
	}
}

func TestGetenvDuration(t *testing.T) {
	os.Setenv("TEST_DURATION", "45s")
	defer os.Unsetenv("TEST_DURATION")

	if got := getenvDuration("TEST_DURATION", time.Second); got != 45*time.Second {
		t.Errorf("getenvDuration = %v, want 45s", got)
	}
	if got := getenvDuration("TEST_DURATION_MISSING", 2*time.Second); got != 2*time.Second {
		t.Errorf("getenvDuration default = %v, want 2s", got)
	}

	os.Setenv("TEST_DURATION_BAD", "not-a-duration")
	defer os.Unsetenv("TEST_DURATION_BAD")
	if got := getenvDuration("TEST_DURATION_BAD", 3*time.Second); got != 3*time.Second {
		t.Errorf("getenvDuration invalid = %v, want fallback 3s", got)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	if cfg.AppName != "quillpost" {
		t.Errorf("AppName = %q, want quillpost", cfg.AppName)
	}
	if cfg.Worker.PoolSize != 4 {
		t.Errorf("Worker.PoolSize = %d, want 4", cfg.Worker.PoolSize)
	}
	if cfg.Worker.MaxAttempts != 5 {
		t.Errorf("Worker.MaxAttempts = %d, want 5", cfg.Worker.MaxAttempts)
	}
	if cfg.Worker.BaseBackoff != 2*time.Second {
		t.Errorf("Worker.BaseBackoff = %v, want 2s", cfg.Worker.BaseBackoff)
	}
	if cfg.Email.SendTimeout != 10*time.Second {
		t.Errorf("Email.SendTimeout = %v, want 10s", cfg.Email.SendTimeout)
	}
}

func TestDSN(t *testing.T) {
	cfg := Config{DB: DB{User: "u", Pass: "p", Host: "h", Port: "5432", Name: "db"}}
	want := "postgres://u:p@h:5432/db?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestAuthTokenIsSecret(t *testing.T) {
	os.Setenv("EMAIL_AUTH_TOKEN", "tok-123")
	defer os.Unsetenv("EMAIL_AUTH_TOKEN")

	cfg := FromEnv()
	if cfg.Email.AuthToken.Reveal() != "tok-123" {
		t.Errorf("AuthToken.Reveal() = %q, want tok-123", cfg.Email.AuthToken.Reveal())
	}
	if cfg.Email.AuthToken.String() == "tok-123" {
		t.Error("AuthToken.String() leaked the token")
	}
}
