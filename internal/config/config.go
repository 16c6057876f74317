// Package config loads service configuration from the environment and
// validates it against an embedded CUE schema.
package config

import (
	_ "embed"
	"fmt"
	"time"
	_ "time/tzdata"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/caarlos0/env/v11"
)

//go:embed schema.cue
var schemaSource string

// GatewayConfig configures the mobile-money provider client.
type GatewayConfig struct {
	Environment    string `env:"RENTALS_MPESA_ENV"             envDefault:"sandbox" json:"environment"`
	BaseURL        string `env:"RENTALS_MPESA_BASE_URL"        json:"base_url"`
	Shortcode      string `env:"RENTALS_MPESA_SHORTCODE"       json:"shortcode"`
	Passkey        string `env:"RENTALS_MPESA_PASSKEY"         json:"passkey"`
	ConsumerKey    string `env:"RENTALS_MPESA_CONSUMER_KEY"    json:"consumer_key"`
	ConsumerSecret string `env:"RENTALS_MPESA_CONSUMER_SECRET" json:"consumer_secret"`
	CallbackURL    string `env:"RENTALS_MPESA_CALLBACK_URL"    json:"callback_url"`
	TimeoutSeconds int    `env:"RENTALS_MPESA_TIMEOUT_SECONDS" envDefault:"20" json:"timeout_seconds"`
}

// Timeout returns the bounded duration of one gateway round trip.
func (g GatewayConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// Config is the full service configuration.
type Config struct {
	Port                 int    `env:"PORT"                           envDefault:"8080" json:"port"`
	DatabaseURL          string `env:"DATABASE_URL"                   envDefault:"file:rentals.db?_pragma=foreign_keys(1)" json:"database_url"`
	BillingTimezone      string `env:"RENTALS_BILLING_TIMEZONE"       envDefault:"Africa/Nairobi" json:"billing_timezone"`
	FrontendBaseURL      string `env:"RENTALS_FRONTEND_BASE_URL"      envDefault:"http://localhost:5173" json:"frontend_base_url"`
	InviteTTLHours       int    `env:"RENTALS_INVITE_TTL_HOURS"       envDefault:"72" json:"invite_ttl_hours"`
	OTPTTLMinutes        int    `env:"RENTALS_INVITE_OTP_MINUTES"     envDefault:"10" json:"otp_ttl_minutes"`
	OTPDigits            int    `env:"RENTALS_INVITE_OTP_DIGITS"      envDefault:"6" json:"otp_digits"`
	StalePaymentMinutes  int    `env:"RENTALS_STALE_PAYMENT_MINUTES"  envDefault:"30" json:"stale_payment_minutes"`
	SweepIntervalSeconds int    `env:"RENTALS_SWEEP_INTERVAL_SECONDS" envDefault:"60" json:"sweep_interval_seconds"`
	OTelEndpoint         string `env:"RENTALS_OTEL_ENDPOINT"          json:"otel_endpoint"`
	LogLevel             string `env:"RENTALS_LOG_LEVEL"              envDefault:"info" json:"log_level"`

	Gateway GatewayConfig `json:"gateway"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration obtained from an empty environment.
func Default() Config {
	var cfg Config
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

// Validate unifies the configuration with the #Config CUE definition.
func (c Config) Validate() error {
	cctx := cuecontext.New()
	schema := cctx.CompileString(schemaSource)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(cctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.LoadLocation(c.BillingTimezone); err != nil {
		return fmt.Errorf("invalid config: billing_timezone: %w", err)
	}
	return nil
}

// Location returns the time zone periods and due days are evaluated in.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.BillingTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) InviteTTL() time.Duration { return time.Duration(c.InviteTTLHours) * time.Hour }
func (c Config) OTPTTL() time.Duration    { return time.Duration(c.OTPTTLMinutes) * time.Minute }

func (c Config) StalePaymentAfter() time.Duration {
	return time.Duration(c.StalePaymentMinutes) * time.Minute
}

func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}
