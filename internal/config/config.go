package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type Dispatch struct {
	TickInterval    time.Duration   // How often the dispatcher scans for due tasks
	BatchSize       int             // Maximum due tasks fetched per tick
	RecipientCap    int             // Maximum attempts per recipient within one tick
	MaxAttempts     int             // Delivery attempt ceiling before dead-lettering
	BackoffSchedule []time.Duration // Retry backoff durations, indexed by attempt count
	HTTPTimeout     time.Duration   // Per-attempt outbound HTTP timeout
	HTTPPort        string          // Dispatcher health/metrics port
	MigrateOnStart  bool            // Run pending schema migrations at startup
}

type Admin struct {
	JWTPublicKeyFile string // PEM file with the RSA public key for API tokens
	JWTIssuer        string // Expected token issuer
	JWTAudience      string // Expected token audience
}

type FakeReceiver struct {
	FailFirstN           int           // Number of requests to fail initially
	WebhookSecret        string        // Secret for webhook signature verification
	SigningLeewaySeconds int           // Allowed timestamp skew in seconds
	ResponseDelayMS      int           // Simulated response delay in milliseconds
	Port                 string        // Server listen port
	ReadTimeout          time.Duration // HTTP read timeout
	WriteTimeout         time.Duration // HTTP write timeout
	IdleTimeout          time.Duration // HTTP idle timeout
}

type Config struct {
	AppName      string
	HTTPPort     string // :8080
	DB           DB
	Dispatch     Dispatch
	Admin        Admin
	FakeReceiver FakeReceiver
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

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
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

// defaultBackoffSchedule is the retry delay per attempt count: immediate, 30s,
// 2m, 10m, 1h, then 6h for every further attempt until the ceiling.
func defaultBackoffSchedule() []time.Duration {
	return []time.Duration{
		0,
		30 * time.Second,
		2 * time.Minute,
		10 * time.Minute,
		time.Hour,
		6 * time.Hour,
	}
}

func parseBackoffSchedule(schedule string) []time.Duration {
	if schedule == "" {
		return defaultBackoffSchedule()
	}

	parts := strings.Split(schedule, ",")
	durations := make([]time.Duration, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if d, err := time.ParseDuration(part); err == nil {
			durations = append(durations, d)
		}
	}

	if len(durations) == 0 {
		// Fallback to default if parsing failed
		return defaultBackoffSchedule()
	}

	return durations
}

func FromEnv() Config {
	return Config{
		AppName:  getenv("APP_NAME", "drifthook"),
		HTTPPort: getenv("HTTP_PORT", ":8080"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "drifthook"),
		},
		Dispatch: Dispatch{
			TickInterval:    getenvDuration("DISPATCH_TICK_INTERVAL", 5*time.Second),
			BatchSize:       getenvInt("DISPATCH_BATCH_SIZE", 50),
			RecipientCap:    getenvInt("DISPATCH_RECIPIENT_CAP", 3),
			MaxAttempts:     getenvInt("MAX_ATTEMPTS", 10),
			BackoffSchedule: parseBackoffSchedule(getenv("BACKOFF_SCHEDULE", "")),
			HTTPTimeout:     getenvDuration("DELIVERY_HTTP_TIMEOUT", 15*time.Second),
			HTTPPort:        ":" + getenv("DISPATCHER_HTTP_PORT", "8083"),
			MigrateOnStart:  getenvBool("MIGRATE_ON_START", true),
		},
		Admin: Admin{
			JWTPublicKeyFile: getenv("JWT_PUBLIC_KEY_FILE", ""),
			JWTIssuer:        getenv("JWT_ISSUER", "drifthook"),
			JWTAudience:      getenv("JWT_AUDIENCE", "drifthook-api"),
		},
		FakeReceiver: FakeReceiver{
			FailFirstN:           getenvInt("FAIL_FIRST_N", 0),
			WebhookSecret:        getenv("WEBHOOK_SECRET", ""),
			SigningLeewaySeconds: getenvInt("SIGNING_LEEWAY_SECONDS", 300),
			ResponseDelayMS:      getenvInt("RESPONSE_DELAY_MS", 0),
			Port:                 getenv("FAKE_RECEIVER_PORT", ":8081"),
			ReadTimeout:          getenvDuration("FAKE_RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:         getenvDuration("FAKE_RECEIVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:          getenvDuration("FAKE_RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
