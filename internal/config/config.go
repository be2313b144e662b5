// Package config loads the dialer service configuration from flags,
// environment variables, and an optional .env file.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the dialer service configuration
type Config struct {
	// HTTP server settings
	Port     int
	BindAddr string

	// Log level
	LogLevel string

	// Provider selects the gateway: "rest", "sip", or "mock"
	Provider string

	// REST provider settings
	ProviderBaseURL string
	AccountSID      string
	AuthToken       string
	FromNumber      string

	// CallbackBaseURL is this service's public root for webhooks
	CallbackBaseURL string

	// SIP provider settings
	SIPPort       int
	TrunkAddr     string
	AdvertiseAddr string
	MediaAddr     string
	MediaPort     int

	// DBPath is the SQLite file for call records. Empty keeps records
	// in memory only.
	DBPath string

	// EngineURL is the conversation engine endpoint. Empty disables it.
	EngineURL string

	// Session retention after a call terminates
	Retention time.Duration

	// Placement retry tuning
	RetryAttempts int
	RetryBackoff  time.Duration
}

// Load loads configuration from command line flags and environment variables
func Load() *Config {
	// Local development keeps credentials in .env
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg := &Config{}

	flag.IntVar(&cfg.Port, "port", 8080, "HTTP server port")
	flag.StringVar(&cfg.BindAddr, "bind", "0.0.0.0", "HTTP bind address")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.Provider, "provider", "rest", "Call provider (rest, sip, mock)")
	flag.StringVar(&cfg.ProviderBaseURL, "provider-url", "https://api.twilio.com", "REST provider base URL")
	flag.StringVar(&cfg.CallbackBaseURL, "callback-url", "http://localhost:8080", "Public base URL for provider webhooks")
	flag.IntVar(&cfg.SIPPort, "sip-port", 5060, "Local SIP port")
	flag.StringVar(&cfg.TrunkAddr, "trunk", "", "SIP trunk address (host:port)")
	flag.StringVar(&cfg.AdvertiseAddr, "advertise", "127.0.0.1", "Address advertised in SIP headers")
	flag.StringVar(&cfg.MediaAddr, "media-addr", "127.0.0.1", "Media endpoint address offered in SDP")
	flag.IntVar(&cfg.MediaPort, "media-port", 10000, "Media endpoint port offered in SDP")
	flag.StringVar(&cfg.DBPath, "db", "", "SQLite path for call records (empty keeps records in memory)")
	flag.StringVar(&cfg.EngineURL, "engine-url", "", "Conversation engine base URL (empty disables)")
	flag.DurationVar(&cfg.Retention, "retention", 5*time.Minute, "How long terminated sessions stay queryable")
	flag.IntVar(&cfg.RetryAttempts, "retry-attempts", 3, "Placement attempts while the provider is unavailable")
	flag.DurationVar(&cfg.RetryBackoff, "retry-backoff", 500*time.Millisecond, "Pause before each placement retry")

	flag.Parse()

	// Override with environment variables if set
	if port := os.Getenv("PORT"); port != "" {
		if p := stringToInt(port); p > 0 {
			cfg.Port = p
		}
	}
	if bind := os.Getenv("BIND"); bind != "" {
		cfg.BindAddr = bind
	}
	if loglevel := os.Getenv("LOGLEVEL"); loglevel != "" {
		cfg.LogLevel = loglevel
	}
	if provider := os.Getenv("PROVIDER"); provider != "" {
		cfg.Provider = provider
	}
	if v := os.Getenv("PROVIDER_BASE_URL"); v != "" {
		cfg.ProviderBaseURL = v
	}
	if v := os.Getenv("CALLBACK_BASE_URL"); v != "" {
		cfg.CallbackBaseURL = v
	}
	if v := os.Getenv("SIP_PORT"); v != "" {
		if p := stringToInt(v); p > 0 {
			cfg.SIPPort = p
		}
	}
	if v := os.Getenv("SIP_TRUNK_ADDR"); v != "" {
		cfg.TrunkAddr = v
	}
	if v := os.Getenv("ADVERTISE"); v != "" {
		cfg.AdvertiseAddr = v
	}
	if v := os.Getenv("MEDIA_ADDR"); v != "" {
		cfg.MediaAddr = v
	}
	if v := os.Getenv("MEDIA_PORT"); v != "" {
		if p := stringToInt(v); p > 0 {
			cfg.MediaPort = p
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("ENGINE_URL"); v != "" {
		cfg.EngineURL = v
	}
	if v := os.Getenv("RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retention = d
		}
	}

	// Credentials come from the environment only
	cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	cfg.FromNumber = os.Getenv("TWILIO_PHONE_NUMBER")

	return cfg
}

// Validate checks that the selected provider has what it needs.
func (c *Config) Validate() error {
	switch c.Provider {
	case "rest":
		if c.AccountSID == "" || c.AuthToken == "" {
			return fmt.Errorf("rest provider requires TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN")
		}
		if c.FromNumber == "" {
			return fmt.Errorf("rest provider requires TWILIO_PHONE_NUMBER")
		}
	case "sip":
		if c.TrunkAddr == "" {
			return fmt.Errorf("sip provider requires a trunk address")
		}
	case "mock":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	return nil
}

func stringToInt(s string) int {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
