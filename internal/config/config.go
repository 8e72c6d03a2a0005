package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AppPort         string   `yaml:"app_port"`
	DBDSN           string   `yaml:"db_dsn"`
	DBMaxOpenConns  int      `yaml:"db_max_open_conns"`
	JWTSecret       string   `yaml:"jwt_secret"`
	JWTExpiresMin   int      `yaml:"jwt_expires_min"`
	CookieSecure    bool     `yaml:"cookie_secure"`
	GoogleClientID  string   `yaml:"google_client_id"`
	GoogleSecret    string   `yaml:"google_client_secret"`
	GoogleRedirect  string   `yaml:"google_redirect_url"`
	FrontendBaseURL string   `yaml:"frontend_base_url"`
	CORSOrigins     []string `yaml:"cors_origins"`
	LogLevel        string   `yaml:"log_level"`

	InvitationTTL      time.Duration `yaml:"invitation_ttl"`
	ExpiryScanSchedule string        `yaml:"expiry_scan_schedule"`
	RetryMaxElapsed    time.Duration `yaml:"retry_max_elapsed"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	MQURL string `yaml:"mq_url"`

	AWSAccessKeyID     string `yaml:"aws_access_key_id"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key"`
	AWSRegion          string `yaml:"aws_region"`
	EmailFrom          string `yaml:"email_from"`
}

func defaults() Config {
	return Config{
		AppPort:            "8080",
		DBMaxOpenConns:     20,
		JWTExpiresMin:      10080,
		FrontendBaseURL:    "http://localhost:3000",
		CORSOrigins:        []string{"http://127.0.0.1:3000", "http://localhost:3000"},
		LogLevel:           "info",
		InvitationTTL:      7 * 24 * time.Hour,
		ExpiryScanSchedule: "@every 1h",
		RetryMaxElapsed:    3 * time.Second,
		AWSRegion:          "us-east-1",
	}
}

// Load reads .env (if present), then the YAML file named by CONFIG_FILE (if
// set), then environment variables, each layer overriding the previous one.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var errs []error

	setString(&cfg.AppPort, "APP_PORT")
	setString(&cfg.DBDSN, "DB_DSN")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.GoogleClientID, "GOOGLE_CLIENT_ID")
	setString(&cfg.GoogleSecret, "GOOGLE_CLIENT_SECRET")
	setString(&cfg.GoogleRedirect, "GOOGLE_REDIRECT_URL")
	setString(&cfg.FrontendBaseURL, "FRONTEND_BASE_URL")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.ExpiryScanSchedule, "EXPIRY_SCAN_SCHEDULE")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.MQURL, "MQ_URL")
	setString(&cfg.AWSAccessKeyID, "AWS_ACCESS_KEY_ID")
	setString(&cfg.AWSSecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	setString(&cfg.AWSRegion, "AWS_REGION")
	setString(&cfg.EmailFrom, "EMAIL_FROM")

	if v := get("CORS_ORIGINS", ""); v != "" {
		cfg.CORSOrigins = splitList(v)
	}

	errs = append(errs,
		setInt(&cfg.JWTExpiresMin, "JWT_EXPIRES_MIN"),
		setInt(&cfg.DBMaxOpenConns, "DB_MAX_OPEN_CONNS"),
		setInt(&cfg.RedisDB, "REDIS_DB"),
		setBool(&cfg.CookieSecure, "COOKIE_SECURE"),
		setDuration(&cfg.InvitationTTL, "INVITATION_TTL"),
		setDuration(&cfg.RetryMaxElapsed, "RETRY_MAX_ELAPSED"),
	)
	return errors.Join(errs...)
}

func (c Config) validate() error {
	var errs []error
	if c.DBDSN == "" {
		errs = append(errs, errors.New("missing env: DB_DSN"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("missing env: JWT_SECRET"))
	}
	if c.JWTExpiresMin <= 0 {
		errs = append(errs, fmt.Errorf("JWT_EXPIRES_MIN must be positive, got %d", c.JWTExpiresMin))
	}
	if c.InvitationTTL <= 0 {
		errs = append(errs, fmt.Errorf("INVITATION_TTL must be positive, got %s", c.InvitationTTL))
	}
	if c.ExpiryScanSchedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(c.ExpiryScanSchedule); err != nil {
			errs = append(errs, fmt.Errorf("EXPIRY_SCAN_SCHEDULE %q: %w", c.ExpiryScanSchedule, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// EmailEnabled reports whether SES credentials are configured.
func (c Config) EmailEnabled() bool {
	return c.AWSAccessKeyID != "" && c.AWSSecretAccessKey != "" && c.EmailFrom != ""
}

func get(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func setString(dst *string, k string) {
	*dst = get(k, *dst)
}

func setInt(dst *int, k string) error {
	v := get(k, "")
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", k, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, k string) error {
	v := get(k, "")
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", k, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, k string) error {
	v := get(k, "")
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", k, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
