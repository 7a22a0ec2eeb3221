package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/quillpost/quillpost/internal/domain"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type Email struct {
	BaseURL     string              // provider base URL, e.g. https://api.postmarkapp.com
	Sender      string              // sender address for outgoing issues
	AuthToken   domain.SecretString // provider token, never logged
	SendTimeout time.Duration       // per-request timeout on the send call
}

type Worker struct {
	PoolSize        int           // number of concurrent delivery workers
	MaxAttempts     int           // attempts before a task is quarantined
	BaseBackoff     time.Duration // first retry delay; doubles per attempt
	MaxBackoff      time.Duration // cap on the computed retry delay
	JitterPercent   float64       // backoff jitter percentage (0.0-1.0)
	IdlePoll        time.Duration // sleep between claims when the queue is empty
	StaleClaimAfter time.Duration // claimed tasks older than this are released
	HTTPPort        string        // worker health/metrics port
}

type API struct {
	HTTPPort     string
	JWTPublicKey string // PEM-encoded RSA public key for admin tokens
	JWTIssuer    string
	JWTAudience  string
}

type FakeProvider struct {
	FailFirstN      int    // number of send requests to fail with 500 initially
	Token           string // expected X-Authorization-Token value; empty disables the check
	ResponseDelayMS int    // simulated response delay in milliseconds
	Port            string // server listen port
}

type Config struct {
	AppName      string
	DB           DB
	Email        Email
	Worker       Worker
	API          API
	FakeProvider FakeProvider
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName: getenv("APP_NAME", "quillpost"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "quillpost"),
		},
		Email: Email{
			BaseURL:     getenv("EMAIL_BASE_URL", "http://localhost:8084"),
			Sender:      getenv("EMAIL_SENDER", "newsletter@quillpost.dev"),
			AuthToken:   domain.NewSecretString(os.Getenv("EMAIL_AUTH_TOKEN")),
			SendTimeout: getenvDuration("EMAIL_SEND_TIMEOUT", 10*time.Second),
		},
		Worker: Worker{
			PoolSize:        getenvInt("WORKER_POOL_SIZE", 4),
			MaxAttempts:     getenvInt("MAX_ATTEMPTS", 5),
			BaseBackoff:     getenvDuration("BASE_BACKOFF", 2*time.Second),
			MaxBackoff:      getenvDuration("MAX_BACKOFF", 10*time.Minute),
			JitterPercent:   getenvFloat("BACKOFF_JITTER_PCT", 0.25),
			IdlePoll:        getenvDuration("IDLE_POLL_INTERVAL", time.Second),
			StaleClaimAfter: getenvDuration("STALE_CLAIM_AFTER", 5*time.Minute),
			HTTPPort:        ":" + getenv("WORKER_HTTP_PORT", "8083"),
		},
		API: API{
			HTTPPort:     getenv("HTTP_PORT", ":8080"),
			JWTPublicKey: os.Getenv("JWT_PUBLIC_KEY"),
			JWTIssuer:    getenv("JWT_ISSUER", "quillpost"),
			JWTAudience:  getenv("JWT_AUDIENCE", "quillpost-admin"),
		},
		FakeProvider: FakeProvider{
			FailFirstN:      getenvInt("FAIL_FIRST_N", 0),
			Token:           getenv("PROVIDER_TOKEN", ""),
			ResponseDelayMS: getenvInt("RESPONSE_DELAY_MS", 0),
			Port:            getenv("FAKE_PROVIDER_PORT", ":8084"),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
