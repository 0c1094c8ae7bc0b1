package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// DefaultRecurringCron fires every five seconds.
const DefaultRecurringCron = "*/5 * * * * *"

// Config holds application configuration values.
type Config struct {
	Env  string `validate:"required,oneof=dev prod"`
	HTTP struct {
		Addr            string        `validate:"required"`
		ShutdownTimeout time.Duration `validate:"gt=0"`
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
	Storage struct {
		Driver      string `validate:"required,oneof=memory sqlite postgres"`
		SQLitePath  string `validate:"required_if=Driver sqlite"`
		PostgresDSN string `validate:"required_if=Driver postgres"`
	}
	Jobs struct {
		Workers       int           `validate:"min=1,max=256"`
		QueueSize     int           `validate:"min=1"`
		MaxAttempts   int           `validate:"min=1,max=20"`
		Timeout       time.Duration `validate:"min=0"`
		PollInterval  time.Duration `validate:"gt=0"`
		Retention     time.Duration `validate:"gt=0"`
		Cleanup       string        `validate:"required"`
		RecurringCron string        `validate:"required"`
	}
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	var errs []error

	c.Env = getenv("ENV", "prod")
	c.HTTP.Addr = getenv("HTTP_ADDR", ":8080")
	c.HTTP.ShutdownTimeout = getDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second, &errs)
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = getenv("LOG_FILE", "data/logs/jobdemo.log")

	c.Storage.Driver = strings.ToLower(getenv("STORAGE_DRIVER", "memory"))
	c.Storage.SQLitePath = getenv("SQLITE_PATH", "data/jobs.db")
	c.Storage.PostgresDSN = os.Getenv("POSTGRES_DSN")

	c.Jobs.Workers = getInt("JOBS_WORKERS", 4, &errs)
	c.Jobs.QueueSize = getInt("JOBS_QUEUE_SIZE", 1024, &errs)
	c.Jobs.MaxAttempts = getInt("JOBS_MAX_ATTEMPTS", 1, &errs)
	c.Jobs.Timeout = getDuration("JOBS_TIMEOUT", 0, &errs)
	c.Jobs.PollInterval = getDuration("JOBS_POLL_INTERVAL", time.Second, &errs)
	c.Jobs.Retention = getDuration("JOBS_RETENTION", 24*time.Hour, &errs)
	c.Jobs.Cleanup = getenv("JOBS_CLEANUP_SCHEDULE", "@every 10m")
	c.Jobs.RecurringCron = getenv("RECURRING_JOB_CRON", DefaultRecurringCron)

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := validate.Struct(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int, errs *[]error) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return n
}

func getDuration(k string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return d
}
