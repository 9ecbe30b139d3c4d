package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yaml"

// Body modes for the notification HTML.
const (
	BodyModeEscape   = "escape"
	BodyModeSanitize = "sanitize"
	BodyModeRaw      = "raw"
)

// SMTP drivers.
const (
	DriverGoMail = "gomail"
	DriverJordan = "jordan"
)

type Config struct {
	Server struct {
		Host         string   `yaml:"host"`
		Port         string   `yaml:"port"`
		StaticDir    string   `yaml:"static_dir"`
		MaxBodyBytes int64    `yaml:"max_body_bytes"`
		CORSOrigins  []string `yaml:"cors_origins"`
	} `yaml:"server"`

	App struct {
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	SMTP struct {
		Host               string   `yaml:"host"`
		Port               int      `yaml:"port"`
		Username           string   `yaml:"username"`
		Password           string   `yaml:"password"`
		Driver             string   `yaml:"driver"`
		InsecureSkipVerify bool     `yaml:"insecure_skip_verify"`
		Timeout            Duration `yaml:"timeout"`
	} `yaml:"smtp"`

	Mail struct {
		To       string `yaml:"to"`
		BodyMode string `yaml:"body_mode"`
	} `yaml:"mail"`
}

// Duration decodes YAML scalars like "30s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	c := &Config{}
	c.Server.Port = "3000"
	c.Server.StaticDir = "public"
	c.Server.MaxBodyBytes = 100 << 10
	c.Server.CORSOrigins = []string{"*"}
	c.App.Env = "development"
	c.App.LogLevel = "info"
	c.SMTP.Port = 587
	c.SMTP.Driver = DriverGoMail
	c.SMTP.InsecureSkipVerify = true
	c.SMTP.Timeout = Duration(30 * time.Second)
	c.Mail.To = "newsletter.tbv@gmail.com"
	c.Mail.BodyMode = BodyModeEscape
	return c
}

// LoadConfig reads the YAML file at configPath over the defaults, then applies
// environment overrides. A missing file at DefaultPath is not an error.
func LoadConfig(configPath string) (*Config, error) {
	config := Default()

	file, err := os.Open(configPath)
	switch {
	case err == nil:
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode %s: %w", configPath, err)
		}
	case errors.Is(err, os.ErrNotExist) && configPath == DefaultPath:
	default:
		return nil, err
	}

	if err := config.overrideWithEnvVars(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) overrideWithEnvVars() error {
	if host := GetEnv("HOST", ""); host != "" {
		c.Server.Host = host
	}
	if port := GetEnv("PORT", ""); port != "" {
		c.Server.Port = port
	}
	if dir := GetEnv("STATIC_DIR", ""); dir != "" {
		c.Server.StaticDir = dir
	}

	if env := GetEnv("APP_ENV", ""); env != "" {
		c.App.Env = env
	}
	if level := GetEnv("LOG_LEVEL", ""); level != "" {
		c.App.LogLevel = level
	}

	if smtpHost := GetEnv("SMTP_HOST", ""); smtpHost != "" {
		c.SMTP.Host = smtpHost
	}
	if smtpPort := GetEnv("SMTP_PORT", ""); smtpPort != "" {
		port, err := strconv.Atoi(smtpPort)
		if err != nil {
			return fmt.Errorf("SMTP_PORT: %w", err)
		}
		c.SMTP.Port = port
	}
	if user := GetEnv("SMTP_USER", ""); user != "" {
		c.SMTP.Username = user
	}
	if pass := GetEnv("SMTP_PASS", ""); pass != "" {
		c.SMTP.Password = pass
	}
	if driver := GetEnv("SMTP_DRIVER", ""); driver != "" {
		c.SMTP.Driver = driver
	}
	if skip := GetEnv("SMTP_INSECURE_SKIP_VERIFY", ""); skip != "" {
		v, err := strconv.ParseBool(skip)
		if err != nil {
			return fmt.Errorf("SMTP_INSECURE_SKIP_VERIFY: %w", err)
		}
		c.SMTP.InsecureSkipVerify = v
	}
	if timeout := GetEnv("SMTP_TIMEOUT", ""); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("SMTP_TIMEOUT: %w", err)
		}
		c.SMTP.Timeout = Duration(d)
	}

	if to := GetEnv("MAIL_TO", ""); to != "" {
		c.Mail.To = to
	}
	if mode := GetEnv("MAIL_BODY_MODE", ""); mode != "" {
		c.Mail.BodyMode = mode
	}
	return nil
}

// Validate reports every missing or invalid setting in a single error.
func (c *Config) Validate() error {
	var missing, invalid []string

	if strings.TrimSpace(c.SMTP.Host) == "" {
		missing = append(missing, "smtp.host (or SMTP_HOST)")
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		invalid = append(invalid, "smtp.port must be in 1..65535")
	}
	if p, err := strconv.Atoi(c.Server.Port); err != nil || p <= 0 || p > 65535 {
		invalid = append(invalid, "server.port must be in 1..65535")
	}
	switch c.SMTP.Driver {
	case DriverGoMail, DriverJordan:
	default:
		invalid = append(invalid, fmt.Sprintf("smtp.driver must be %q or %q", DriverGoMail, DriverJordan))
	}
	switch c.Mail.BodyMode {
	case BodyModeEscape, BodyModeSanitize, BodyModeRaw:
	default:
		invalid = append(invalid, fmt.Sprintf("mail.body_mode must be %q, %q or %q",
			BodyModeEscape, BodyModeSanitize, BodyModeRaw))
	}
	if strings.TrimSpace(c.Mail.To) == "" {
		missing = append(missing, "mail.to (or MAIL_TO)")
	}
	if c.SMTP.Timeout < 0 {
		invalid = append(invalid, "smtp.timeout must be >= 0")
	}

	if len(missing) == 0 && len(invalid) == 0 {
		return nil
	}
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		parts = append(parts, "invalid: "+strings.Join(invalid, ", "))
	}
	return fmt.Errorf("configuration errors: %s", strings.Join(parts, " | "))
}

// SMTPSecure reports whether the transport should use implicit TLS.
func (c *Config) SMTPSecure() bool {
	return c.SMTP.Port == 465
}

// SMTPAddr is host:port for dialing.
func (c *Config) SMTPAddr() string {
	return fmt.Sprintf("%s:%d", c.SMTP.Host, c.SMTP.Port)
}

// ListenAddr is the HTTP listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
