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

	"github.com/retrykit/retrykit/pkg/retry"
)

// Config holds application configuration values.
type Config struct {
	Env string `validate:"required,oneof=dev prod"`
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
	HTTP struct {
		Addr     string `validate:"required"`
		APIToken string
	}
	History struct {
		Driver      string `validate:"required,oneof=sqlite postgres"`
		SQLitePath  string
		PostgresDSN string
	}
	Probe struct {
		Targets []string `validate:"required,min=1,dive,url"`
		// Schedule is a cron expression. When set it replaces Interval.
		Schedule     string
		Interval     time.Duration `validate:"required"`
		Timeout      time.Duration `validate:"required"`
		MaxAttempts  int
		BaseDelay    time.Duration
		Strategy     retry.Strategy
		TotalTimeout time.Duration
	}
	Alert struct {
		TelegramToken string
		ChatID        int64
		After         int
		Cooldown      time.Duration
	}
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	var err error

	c.Env = getenv("ENV", "prod")
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = getenv("LOG_FILE", "data/logs/probed.log")
	c.HTTP.Addr = getenv("HTTP_ADDR", ":8080")
	c.HTTP.APIToken = os.Getenv("API_TOKEN")

	c.History.Driver = strings.ToLower(getenv("HISTORY_DRIVER", "sqlite"))
	c.History.SQLitePath = getenv("SQLITE_PATH", "data/probed.sqlite")
	c.History.PostgresDSN = os.Getenv("POSTGRES_DSN")

	c.Probe.Targets = splitList(os.Getenv("PROBE_TARGETS"))
	c.Probe.Schedule = os.Getenv("PROBE_SCHEDULE")
	if c.Probe.Interval, err = getduration("PROBE_INTERVAL", 30*time.Second); err != nil {
		return Config{}, err
	}
	if c.Probe.Timeout, err = getduration("PROBE_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if c.Probe.MaxAttempts, err = getint("RETRY_MAX_ATTEMPTS", retry.DefaultMaxAttempts); err != nil {
		return Config{}, err
	}
	if c.Probe.BaseDelay, err = getduration("RETRY_BASE_DELAY", retry.DefaultBaseDelay); err != nil {
		return Config{}, err
	}
	if c.Probe.Strategy, err = retry.ParseStrategy(strings.ToLower(getenv("RETRY_STRATEGY", "exponential-jitter"))); err != nil {
		return Config{}, fmt.Errorf("RETRY_STRATEGY: %w", err)
	}
	if c.Probe.TotalTimeout, err = getduration("RETRY_TOTAL_TIMEOUT", 0); err != nil {
		return Config{}, err
	}

	c.Alert.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if c.Alert.ChatID, err = getint64("TELEGRAM_CHAT_ID", 0); err != nil {
		return Config{}, err
	}
	if c.Alert.After, err = getint("ALERT_AFTER", 3); err != nil {
		return Config{}, err
	}
	if c.Alert.Cooldown, err = getduration("ALERT_COOLDOWN", 5*time.Minute); err != nil {
		return Config{}, err
	}

	if err := validate.Struct(c); err != nil {
		return Config{}, err
	}
	if c.History.Driver == "postgres" && c.History.PostgresDSN == "" {
		return Config{}, errors.New("POSTGRES_DSN required when HISTORY_DRIVER is postgres")
	}
	if (c.Alert.TelegramToken == "") != (c.Alert.ChatID == 0) {
		return Config{}, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	return c, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getduration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return d, nil
}

func getint(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

func getint64(k string, def int64) (int64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
