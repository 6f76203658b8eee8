package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	JWTSecret   string
	MongoURI    string
	DBName      string
	SkipAuth    bool
	Environment string
	AppId       string

	// SMTP settings for the send_email executor and funnel message sends
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// Event bus sizing
	BusWorkers int
	BusBuffer  int

	// Funnel stepper policy
	TickSchedule    string // cron spec for the stepper pass
	StepperWorkers  int
	ClaimLeaseSecs  int // a claimed row becomes reclaimable after this many seconds
	MaxStepRetries  int
	RetryBackoffMin int // minutes added to next_action_at after a failed action step
	TickLoopCap     int // max immediate transitions per subscriber per pass
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	} else {
		log.Println("Loaded .env file successfully")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		JWTSecret:   getEnv("JWT_SECRET", "secret"),
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DBName:      getEnv("DB_NAME", "go-automation"),
		SkipAuth:    getEnv("SKIP_AUTH", "false") == "true",
		Environment: getEnv("ENVIRONMENT", "development"),
		AppId:       getEnv("APP_ID", "go-automation"),

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "no-reply@localhost"),

		BusWorkers: getEnvInt("BUS_WORKERS", 4),
		BusBuffer:  getEnvInt("BUS_BUFFER", 1024),

		TickSchedule:    getEnv("TICK_SCHEDULE", "@every 30s"),
		StepperWorkers:  getEnvInt("STEPPER_WORKERS", 4),
		ClaimLeaseSecs:  getEnvInt("CLAIM_LEASE_SECS", 120),
		MaxStepRetries:  getEnvInt("MAX_STEP_RETRIES", 3),
		RetryBackoffMin: getEnvInt("RETRY_BACKOFF_MIN", 15),
		TickLoopCap:     getEnvInt("TICK_LOOP_CAP", 25),
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
