package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	ClinicName     string
	ClinicTimezone string

	// Scheduling
	BookingBuffer            time.Duration
	NewPatientDuration       time.Duration
	ReturningPatientDuration time.Duration
	SlotHorizonDays          int
	Doctors                  []string

	// Reminders
	ReminderLeadTimes     []time.Duration
	ReminderMaxAttempts   int
	ReminderBaseDelay     time.Duration
	ReminderSweepInterval time.Duration
	ReminderBatchSize     int

	// Conversation sessions
	SessionIdleTimeout time.Duration
	SessionMaxStalls   int
	ReaperInterval     time.Duration

	OutboxInterval    time.Duration
	OutboxMaxAttempts int

	// HTTP surface
	CORSAllowedOrigins []string
	OperatorJWTSecret  string
	TurnRatePerSecond  int
	TurnRateBurst      int

	// SendGrid Email Configuration
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	// SES is used when SendGrid is not configured
	SESFromEmail string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Free-text interpreter fallback
	BedrockModelID string
	GeminiAPIKey   string
	GeminiModelID  string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		ClinicName:     getEnv("CLINIC_NAME", "Main Street Clinic"),
		ClinicTimezone: getEnv("CLINIC_TIMEZONE", "America/New_York"),

		BookingBuffer:            getEnvAsDuration("BOOKING_BUFFER", 15*time.Minute),
		NewPatientDuration:       getEnvAsDuration("NEW_PATIENT_DURATION", 60*time.Minute),
		ReturningPatientDuration: getEnvAsDuration("RETURNING_PATIENT_DURATION", 30*time.Minute),
		SlotHorizonDays:          getEnvAsInt("SLOT_HORIZON_DAYS", 30),
		Doctors:                  getEnvAsList("DOCTORS", []string{"smith", "johnson", "chen", "rodriguez", "kim", "thompson"}),

		ReminderLeadTimes:     getEnvAsDurations("REMINDER_LEAD_TIMES", []time.Duration{24 * time.Hour, 2 * time.Hour, time.Hour}),
		ReminderMaxAttempts:   getEnvAsInt("REMINDER_MAX_ATTEMPTS", 5),
		ReminderBaseDelay:     getEnvAsDuration("REMINDER_BASE_DELAY", time.Minute),
		ReminderSweepInterval: getEnvAsDuration("REMINDER_SWEEP_INTERVAL", 30*time.Second),
		ReminderBatchSize:     getEnvAsInt("REMINDER_BATCH_SIZE", 25),

		SessionIdleTimeout: getEnvAsDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		SessionMaxStalls:   getEnvAsInt("SESSION_MAX_STALLS", 5),
		ReaperInterval:     getEnvAsDuration("SESSION_REAPER_INTERVAL", time.Minute),

		OutboxInterval:    getEnvAsDuration("OUTBOX_INTERVAL", 2*time.Second),
		OutboxMaxAttempts: getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 5),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		OperatorJWTSecret:  getEnv("OPERATOR_JWT_SECRET", ""),
		TurnRatePerSecond:  getEnvAsInt("TURN_RATE_PER_SECOND", 2),
		TurnRateBurst:      getEnvAsInt("TURN_RATE_BURST", 10),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Clinic Scheduling"),

		SESFromEmail: getEnv("SES_FROM_EMAIL", ""),

		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
	}
}

// Validate checks values that would break the booking or reminder invariants.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	if c.BookingBuffer < 0 {
		errs = append(errs, errors.New("BOOKING_BUFFER must not be negative"))
	}
	if c.NewPatientDuration <= 0 || c.ReturningPatientDuration <= 0 {
		errs = append(errs, errors.New("appointment durations must be positive"))
	}
	if len(c.ReminderLeadTimes) != 3 {
		errs = append(errs, fmt.Errorf("REMINDER_LEAD_TIMES needs exactly 3 values, got %d", len(c.ReminderLeadTimes)))
	} else {
		for i := 1; i < len(c.ReminderLeadTimes); i++ {
			if c.ReminderLeadTimes[i] >= c.ReminderLeadTimes[i-1] {
				errs = append(errs, errors.New("REMINDER_LEAD_TIMES must be strictly decreasing"))
				break
			}
		}
		if c.ReminderLeadTimes[len(c.ReminderLeadTimes)-1] <= 0 {
			errs = append(errs, errors.New("REMINDER_LEAD_TIMES must be positive"))
		}
	}
	if c.ReminderMaxAttempts <= 0 {
		errs = append(errs, errors.New("REMINDER_MAX_ATTEMPTS must be > 0"))
	}
	if c.SessionMaxStalls <= 0 {
		errs = append(errs, errors.New("SESSION_MAX_STALLS must be > 0"))
	}
	if c.SessionIdleTimeout <= 0 {
		errs = append(errs, errors.New("SESSION_IDLE_TIMEOUT must be > 0"))
	}
	if c.TurnRatePerSecond < 0 || c.TurnRateBurst < 0 {
		errs = append(errs, errors.New("TURN_RATE_PER_SECOND and TURN_RATE_BURST must not be negative"))
	}
	if _, err := time.LoadLocation(c.ClinicTimezone); err != nil {
		errs = append(errs, fmt.Errorf("CLINIC_TIMEZONE: %w", err))
	}
	return errors.Join(errs...)
}

// Location returns the clinic time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDevelopment reports whether the service runs outside production.
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvAsDurations parses "24h,2h,1h". Any unparsable entry falls back to the default.
func getEnvAsDurations(key string, defaultValue []time.Duration) []time.Duration {
	parts := getEnvAsList(key, nil)
	if len(parts) == 0 {
		return defaultValue
	}
	out := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		d, err := time.ParseDuration(part)
		if err != nil {
			return defaultValue
		}
		out = append(out, d)
	}
	return out
}
