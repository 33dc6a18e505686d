// Package config reads the relay settings from an optional config file and
// RELAY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gitlab.com/dirk.krummacker/message-relay/internal/directory"
	"gitlab.com/dirk.krummacker/message-relay/internal/logging"
	"gitlab.com/dirk.krummacker/message-relay/internal/model"
	"gitlab.com/dirk.krummacker/message-relay/internal/phonenumber"
)

// EnvPrefix is prepended to environment variables, e.g. RELAY_OWNER_PHONE for
// owner.phone.
const EnvPrefix = "RELAY"

// Config holds everything the service needs at startup.
type Config struct {
	Port       int
	GinLogging bool
	DevMode    bool
	Log        logging.Config
	DB         directory.Config
	Owner      model.Owner

	ChatDomain     string
	MailDomain     string
	LiveChatDomain string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioBaseURL    string

	SMTPAddr     string
	SMTPUser     string
	SMTPPassword string

	ChatGatewayURL   string
	ChatGatewayToken string

	AdminUser     string
	AdminPassword string

	WebhookToken string

	DefaultSenderTTL time.Duration
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// SetDefaults registers the default of every key. Registering a key is also
// what makes AutomaticEnv see it during unmarshalling.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("gin_logging", "on")
	v.SetDefault("dev_mode", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("db.host", "")
	v.SetDefault("db.user", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "relay")

	v.SetDefault("owner.phone", "")
	v.SetDefault("owner.chat_id", "")
	v.SetDefault("owner.email", "")
	v.SetDefault("owner.log_capacity", 50)

	v.SetDefault("domains.chat", "relay.chat")
	v.SetDefault("domains.mail", "relay.mail")
	v.SetDefault("domains.live_chat", "gmail.com")

	v.SetDefault("twilio.account_sid", "")
	v.SetDefault("twilio.auth_token", "")
	v.SetDefault("twilio.base_url", "https://api.twilio.com")

	v.SetDefault("smtp.addr", "")
	v.SetDefault("smtp.user", "")
	v.SetDefault("smtp.password", "")

	v.SetDefault("chat.gateway_url", "")
	v.SetDefault("chat.token", "")

	v.SetDefault("admin.user", "")
	v.SetDefault("admin.password", "")

	v.SetDefault("webhook.token", "")

	v.SetDefault("cache.default_sender_ttl", 5*time.Minute)
}

// ReadFile merges the config file at path into v. An empty path is ignored.
func ReadFile(v *viper.Viper, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	return nil
}

// Load builds and validates the configuration.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:       v.GetInt("port"),
		GinLogging: v.GetString("gin_logging") != "off",
		DevMode:    v.GetBool("dev_mode"),
		Log: logging.Config{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		DB: directory.Config{
			Host:     v.GetString("db.host"),
			User:     v.GetString("db.user"),
			Password: v.GetString("db.password"),
			Name:     v.GetString("db.name"),
		},
		Owner: model.Owner{
			PhoneNumber: strings.TrimSpace(v.GetString("owner.phone")),
			ChatID:      optional(v.GetString("owner.chat_id")),
			Email:       optional(v.GetString("owner.email")),
			LogCapacity: v.GetInt("owner.log_capacity"),
		},
		ChatDomain:       v.GetString("domains.chat"),
		MailDomain:       v.GetString("domains.mail"),
		LiveChatDomain:   v.GetString("domains.live_chat"),
		TwilioAccountSID: v.GetString("twilio.account_sid"),
		TwilioAuthToken:  v.GetString("twilio.auth_token"),
		TwilioBaseURL:    v.GetString("twilio.base_url"),
		SMTPAddr:         v.GetString("smtp.addr"),
		SMTPUser:         v.GetString("smtp.user"),
		SMTPPassword:     v.GetString("smtp.password"),
		ChatGatewayURL:   v.GetString("chat.gateway_url"),
		ChatGatewayToken: v.GetString("chat.token"),
		AdminUser:        v.GetString("admin.user"),
		AdminPassword:    v.GetString("admin.password"),
		WebhookToken:     strings.TrimSpace(v.GetString("webhook.token")),
		DefaultSenderTTL: v.GetDuration("cache.default_sender_ttl"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Owner.PhoneNumber == "" {
		errs = append(errs, errors.New("owner.phone is required"))
	} else if !phonenumber.Validate(c.Owner.PhoneNumber) {
		errs = append(errs, fmt.Errorf("owner.phone %q is not a valid phone number", c.Owner.PhoneNumber))
	} else {
		c.Owner.PhoneNumber = phonenumber.ToNormalized(c.Owner.PhoneNumber)
	}
	if c.Owner.LogCapacity < 0 {
		errs = append(errs, errors.New("owner.log_capacity must not be negative"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range", c.Port))
	}
	if c.ChatDomain == "" || c.MailDomain == "" {
		errs = append(errs, errors.New("domains.chat and domains.mail are required"))
	}
	return errors.Join(errs...)
}

// UseDatabase reports whether contacts are kept in MySQL rather than in memory.
func (c *Config) UseDatabase() bool {
	return c.DB.Host != ""
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
