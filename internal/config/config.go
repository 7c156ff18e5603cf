package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration. The SMTP and file settings
// stay at the top level of the file, the way existing config.json files
// lay them out.
type Config struct {
	SMTPServer string `mapstructure:"smtp_server"`
	SMTPPort   int    `mapstructure:"smtp_port"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	YourName   string `mapstructure:"your_name"`
	JSONFile   string `mapstructure:"json_file"`
	SentFile   string `mapstructure:"sent_file"`
	Timezone   string `mapstructure:"timezone"`

	Dispatch    DispatchConfig    `mapstructure:"dispatch"`
	Retry       RetryConfig       `mapstructure:"retry"`
	DeadLetter  DeadLetterConfig  `mapstructure:"dead_letter"`
	DeliveryLog DeliveryLogConfig `mapstructure:"delivery_log"`
	Attachments AttachmentsConfig `mapstructure:"attachments"`
	API         APIConfig         `mapstructure:"api"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	DKIM        DKIMConfig        `mapstructure:"dkim"`
	TLS         TLSConfig         `mapstructure:"tls"`
}

// DispatchConfig holds the scheduler loop timings.
type DispatchConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	ErrorPause  time.Duration `mapstructure:"error_pause"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
}

// RetryConfig holds the optional retry limit for failing jobs.
type RetryConfig struct {
	MaxAttempts           int             `mapstructure:"max_attempts"`
	Schedule              []time.Duration `mapstructure:"schedule"`
	PermanentToDeadLetter bool            `mapstructure:"permanent_to_dead_letter"`
}

// DeadLetterConfig selects where exhausted jobs go.
type DeadLetterConfig struct {
	Driver        string `mapstructure:"driver"`
	Path          string `mapstructure:"path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Stream        string `mapstructure:"stream"`
}

// DeliveryLogConfig selects the delivery log backend. The file backend
// writes to sent_file.
type DeliveryLogConfig struct {
	Driver         string        `mapstructure:"driver"`
	DatabaseURL    string        `mapstructure:"database_url"`
	PoolMin        int32         `mapstructure:"pool_min"`
	PoolMax        int32         `mapstructure:"pool_max"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// AttachmentsConfig holds upload storage configuration.
type AttachmentsConfig struct {
	Driver     string `mapstructure:"driver"`
	UploadDir  string `mapstructure:"upload_dir"`
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Prefix   string `mapstructure:"s3_prefix"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	S3Region   string `mapstructure:"s3_region"`
}

// APIConfig holds management API server configuration.
type APIConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"`
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// DKIMConfig enables DKIM signing when Selector is set.
type DKIMConfig struct {
	Domain         string `mapstructure:"domain"`
	Selector       string `mapstructure:"selector"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
}

// TLSConfig holds client TLS settings for the relay connection.
type TLSConfig struct {
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
}

// Load reads configuration from the given config directory path.
// It looks for a file named "config" with any extension viper understands
// (config.json, config.yaml). A .env file in the working directory is
// loaded first when present. Environment variables with prefix
// MAIL_SCHEDULER_ override file values; for example MAIL_SCHEDULER_PASSWORD
// overrides password and MAIL_SCHEDULER_RETRY_MAX_ATTEMPTS overrides
// retry.max_attempts.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("MAIL_SCHEDULER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Keys without a real default are registered empty so AutomaticEnv
	// still sees them during Unmarshal.
	for _, key := range []string{
		"smtp_server", "username", "password", "your_name", "timezone",
		"dispatch.metrics_addr",
		"dead_letter.redis_addr", "dead_letter.redis_password", "dead_letter.stream",
		"delivery_log.database_url",
		"attachments.s3_bucket", "attachments.s3_prefix", "attachments.s3_endpoint",
		"dkim.domain", "dkim.selector", "dkim.private_key_path",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("smtp_port", 465)
	v.SetDefault("json_file", "email_data.json")
	v.SetDefault("sent_file", "sent_emails.json")

	v.SetDefault("dispatch.interval", 60*time.Second)
	v.SetDefault("dispatch.error_pause", 5*time.Second)
	v.SetDefault("dispatch.send_timeout", 2*time.Minute)
	v.SetDefault("dispatch.dial_timeout", 15*time.Second)

	v.SetDefault("retry.max_attempts", 0)
	v.SetDefault("retry.schedule", []string{})
	v.SetDefault("retry.permanent_to_dead_letter", false)

	v.SetDefault("dead_letter.driver", "file")
	v.SetDefault("dead_letter.path", "dead_letter_emails.json")
	v.SetDefault("dead_letter.redis_db", 0)

	v.SetDefault("delivery_log.driver", "file")
	v.SetDefault("delivery_log.pool_min", 1)
	v.SetDefault("delivery_log.pool_max", 4)
	v.SetDefault("delivery_log.connect_timeout", 5*time.Second)

	v.SetDefault("attachments.driver", "local")
	v.SetDefault("attachments.upload_dir", "resume")
	v.SetDefault("attachments.s3_region", "us-east-1")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8000)
	v.SetDefault("api.read_timeout", 30*time.Second)
	v.SetDefault("api.write_timeout", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "both")
	v.SetDefault("logging.file_path", "email_scheduler.log")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_files", 5)

	v.SetDefault("tls.insecure_skip_verify", false)
}

// Validate reports every missing or contradictory setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.SMTPServer == "" {
		errs = append(errs, errors.New("smtp_server is required"))
	}
	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		errs = append(errs, fmt.Errorf("smtp_port %d is out of range", c.SMTPPort))
	}
	if c.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if c.JSONFile == "" {
		errs = append(errs, errors.New("json_file is required"))
	}
	if c.SentFile == "" && c.DeliveryLog.Driver != "postgres" {
		errs = append(errs, errors.New("sent_file is required"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Dispatch.Interval <= 0 {
		errs = append(errs, errors.New("dispatch.interval must be positive"))
	}
	if c.Dispatch.ErrorPause <= 0 || c.Dispatch.ErrorPause >= c.Dispatch.Interval {
		errs = append(errs, errors.New("dispatch.error_pause must be positive and shorter than dispatch.interval"))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("retry.max_attempts must not be negative"))
	}
	switch c.DeadLetter.Driver {
	case "", "none", "file", "redis":
	default:
		errs = append(errs, fmt.Errorf("dead_letter.driver %q is not supported", c.DeadLetter.Driver))
	}
	switch c.DeliveryLog.Driver {
	case "", "file":
	case "postgres":
		if c.DeliveryLog.DatabaseURL == "" {
			errs = append(errs, errors.New("delivery_log.database_url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("delivery_log.driver %q is not supported", c.DeliveryLog.Driver))
	}
	if c.Attachments.Driver == "s3" && c.Attachments.S3Bucket == "" {
		errs = append(errs, errors.New("attachments.s3_bucket is required for the s3 driver"))
	}
	if c.DKIM.Selector != "" && c.DKIM.PrivateKeyPath == "" {
		errs = append(errs, errors.New("dkim.private_key_path is required when dkim.selector is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Location returns the zone scheduled times are interpreted in. An empty
// timezone means the process's local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SMTPAddr returns host:port of the relay.
func (c *Config) SMTPAddr() string {
	return fmt.Sprintf("%s:%d", c.SMTPServer, c.SMTPPort)
}

// Addr returns the management API listen address.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}
