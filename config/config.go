package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type DBConfig struct {
	Driver     string // postgres | sqlite
	Host       string
	Port       string
	User       string
	Password   string
	Name       string
	SSLMode    string
	SQLitePath string
	LogSQL     bool
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.Host, c.User, c.Password, c.Name, c.Port, c.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type CheckoutConfig struct {
	Timeout    time.Duration
	MaxRetries int
}

// SMTPConfig is optional; without a host invite links are only logged.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	AppName  string
}

// MinJWTSecretLen is the shortest HS256 key accepted for teacher tokens.
const MinJWTSecretLen = 32

type LogConfig struct {
	Level  string
	Format string // json | console
}

// Config 从环境变量（以及可选的 config.yaml）读取
type Config struct {
	Port    string
	GinMode string

	DB    DBConfig
	Redis RedisConfig

	WebOrigin      string
	RPID           string
	RPOrigins      []string
	SessionTTL     time.Duration // WebAuthn ceremony state
	AppSessionTTL  time.Duration // signed-in operator session
	AdminEmails    []string
	BootstrapEmail string

	JWTSecret string
	JWTTTL    time.Duration

	Checkout           CheckoutConfig
	KioskRatePerMinute int
	OverdueSweep       time.Duration

	SMTP SMTPConfig
	Log  LogConfig
}

// LoadEnv loads .env into the process environment if the file exists.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env loaded: %v", err)
	}
}

func defaults(v *viper.Viper) {
	v.SetDefault("port", "3001")
	v.SetDefault("gin_mode", "release")

	v.SetDefault("db_driver", "postgres")
	v.SetDefault("db_host", "127.0.0.1")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_user", "postgres")
	v.SetDefault("db_password", "")
	v.SetDefault("db_name", "labkeys")
	v.SetDefault("db_sslmode", "disable")
	v.SetDefault("sqlite_path", "data/labkeys.db")
	v.SetDefault("db_log", false)

	v.SetDefault("redis_addr", "127.0.0.1:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("web_origin", "http://localhost:5173")
	v.SetDefault("rp_id", "localhost")
	v.SetDefault("rp_origins", "")
	v.SetDefault("session_ttl_seconds", 600)
	v.SetDefault("app_session_ttl_hours", 24)
	v.SetDefault("admin_emails", "")
	v.SetDefault("bootstrap_admin_email", "")

	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_ttl_hours", 12)

	v.SetDefault("checkout_timeout_seconds", 5)
	v.SetDefault("checkout_max_retries", 3)
	v.SetDefault("kiosk_rate_per_minute", 30)
	v.SetDefault("overdue_sweep_minutes", 10)

	v.SetDefault("smtp_host", "")
	v.SetDefault("smtp_port", "587")
	v.SetDefault("smtp_username", "")
	v.SetDefault("smtp_password", "")
	v.SetDefault("smtp_from", "")
	v.SetDefault("app_name", "Lab Keys")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// Load reads configuration. path may point at a yaml file; when empty an optional
// ./config.yaml is used. Environment variables always win.
func Load(path string) (Config, error) {
	v := viper.New()
	defaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		Port:    v.GetString("port"),
		GinMode: v.GetString("gin_mode"),
		DB: DBConfig{
			Driver:     strings.ToLower(v.GetString("db_driver")),
			Host:       v.GetString("db_host"),
			Port:       v.GetString("db_port"),
			User:       v.GetString("db_user"),
			Password:   v.GetString("db_password"),
			Name:       v.GetString("db_name"),
			SSLMode:    v.GetString("db_sslmode"),
			SQLitePath: v.GetString("sqlite_path"),
			LogSQL:     v.GetBool("db_log"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		},
		WebOrigin:      v.GetString("web_origin"),
		RPID:           v.GetString("rp_id"),
		RPOrigins:      splitCSV(v.GetString("rp_origins"), false),
		SessionTTL:     time.Duration(v.GetInt("session_ttl_seconds")) * time.Second,
		AppSessionTTL:  time.Duration(v.GetInt("app_session_ttl_hours")) * time.Hour,
		AdminEmails:    splitCSV(v.GetString("admin_emails"), true),
		BootstrapEmail: strings.ToLower(strings.TrimSpace(v.GetString("bootstrap_admin_email"))),
		JWTSecret:      v.GetString("jwt_secret"),
		JWTTTL:         time.Duration(v.GetInt("jwt_ttl_hours")) * time.Hour,
		Checkout: CheckoutConfig{
			Timeout:    time.Duration(v.GetInt("checkout_timeout_seconds")) * time.Second,
			MaxRetries: v.GetInt("checkout_max_retries"),
		},
		KioskRatePerMinute: v.GetInt("kiosk_rate_per_minute"),
		OverdueSweep:       time.Duration(v.GetInt("overdue_sweep_minutes")) * time.Minute,
		SMTP: SMTPConfig{
			Host:     v.GetString("smtp_host"),
			Port:     v.GetString("smtp_port"),
			Username: v.GetString("smtp_username"),
			Password: v.GetString("smtp_password"),
			From:     v.GetString("smtp_from"),
			AppName:  v.GetString("app_name"),
		},
		Log: LogConfig{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
		},
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{cfg.WebOrigin}
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	if len(c.JWTSecret) < MinJWTSecretLen {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", MinJWTSecretLen)
	}
	if c.Checkout.Timeout <= 0 {
		return errors.New("CHECKOUT_TIMEOUT_SECONDS must be positive")
	}
	if c.Checkout.MaxRetries < 0 {
		return errors.New("CHECKOUT_MAX_RETRIES must not be negative")
	}
	return nil
}

// IsAdminEmail reports whether username is listed in ADMIN_EMAILS.
func (c Config) IsAdminEmail(username string) bool {
	u := strings.ToLower(strings.TrimSpace(username))
	for _, a := range c.AdminEmails {
		if a == u {
			return true
		}
	}
	return false
}

func (c Config) SecureCookies() bool { return strings.HasPrefix(c.WebOrigin, "https://") }

func splitCSV(s string, lower bool) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			if lower {
				t = strings.ToLower(t)
			}
			out = append(out, t)
		}
	}
	return out
}
