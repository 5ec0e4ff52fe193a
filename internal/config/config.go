// Package config provides functionality for managing configuration options
// of the MISHURA backend using command-line flags, a JSON file and environment variables.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Options holds the configuration values for the backend.
type Options struct {
	// Port defines the server's listening address (ip:port).
	Port string

	// DatabaseDSN holds the database connection string for the application.
	DatabaseDSN string

	// PublicURL is the externally reachable base of the API, used to build
	// sandbox confirmation links.
	PublicURL string

	GeminiAPIKey string
	GeminiModel  string

	// StartingBalance is credited to a user on first init.
	StartingBalance  int
	ConsultationCost int

	// PaymentRetention is how long a payment may stay pending before the
	// expirer cancels it.
	PaymentRetention time.Duration
	ExpireInterval   time.Duration

	// SandboxPayments serves the built-in checkout page, which confirms
	// payments without charging anyone. Off in production.
	SandboxPayments bool

	// TLSCert and TLSKey enable HTTPS when both are set.
	TLSCert     string
	TLSKey      string
	// TLSClientCA lets devices present certificates issued by this CA.
	// A presented certificate must name the user it acts for.
	TLSClientCA string

	LogLevel string

	// Config is the path to the Config file.
	Config string
}

// Parse parses the command-line flags, then overlays the optional JSON config
// file and finally environment variables.
func Parse(args []string) (*Options, error) {
	options := &Options{}
	fs := flag.NewFlagSet("mishura-server", flag.ContinueOnError)
	fs.StringVar(&options.Port, "a", "localhost:8080", "run on ip:port server")
	fs.StringVar(&options.DatabaseDSN, "d", "", "db address")
	fs.StringVar(&options.PublicURL, "public-url", "", "externally reachable API base URL")
	fs.StringVar(&options.GeminiModel, "model", "gemini-1.5-flash", "Gemini model name")
	fs.IntVar(&options.StartingBalance, "starting-balance", 200, "STcoin credited to new users")
	fs.IntVar(&options.ConsultationCost, "cost", 10, "STcoin per consultation")
	fs.DurationVar(&options.PaymentRetention, "payment-retention", 24*time.Hour, "cancel pending payments older than this")
	fs.DurationVar(&options.ExpireInterval, "expire-interval", 10*time.Minute, "how often to look for stale payments")
	fs.BoolVar(&options.SandboxPayments, "sandbox-payments", false, "enable the test-mode checkout (payments are not charged)")
	fs.StringVar(&options.TLSCert, "tls-cert", "", "server certificate (PEM)")
	fs.StringVar(&options.TLSKey, "tls-key", "", "server private key (PEM)")
	fs.StringVar(&options.TLSClientCA, "tls-client-ca", "", "CA for device certificates (PEM)")
	fs.StringVar(&options.LogLevel, "log-level", "info", "log level")
	fs.StringVar(&options.Config, "config", "config.json", "path to config file")
	fs.StringVar(&options.Config, "c", "config.json", "path to config file (shorthand)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Override flags with environment variables if set
	if configPath := os.Getenv("CONFIG"); configPath != "" {
		options.Config = configPath
	}

	if options.Config != "" {
		if _, err := os.Stat(options.Config); err == nil {
			data, err := os.ReadFile(options.Config)
			if err != nil {
				return nil, fmt.Errorf("error while reading config file: %w", err)
			}
			var file fileOptions
			if err := json.Unmarshal(data, &file); err != nil {
				return nil, fmt.Errorf("error while parsing config file: %w", err)
			}
			if err := file.apply(options); err != nil {
				return nil, fmt.Errorf("error while parsing config file: %w", err)
			}
		}
	}

	if serverAddress := os.Getenv("SERVER_ADDRESS"); serverAddress != "" {
		options.Port = serverAddress
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		options.DatabaseDSN = dsn
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		options.GeminiAPIKey = key
	}
	if v := os.Getenv("STARTING_BALANCE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("STARTING_BALANCE: %w", err)
		}
		options.StartingBalance = n
	}

	if v := os.Getenv("SANDBOX_PAYMENTS"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("SANDBOX_PAYMENTS: %w", err)
		}
		options.SandboxPayments = on
	}

	if err := options.validate(); err != nil {
		return nil, err
	}
	return options, nil
}

func (o *Options) validate() error {
	switch {
	case o.Port == "":
		return errors.New("server address is empty")
	case o.StartingBalance < 0:
		return errors.New("starting balance must not be negative")
	case o.ConsultationCost <= 0:
		return errors.New("consultation cost must be positive")
	case o.PaymentRetention <= 0 || o.ExpireInterval <= 0:
		return errors.New("payment retention and expire interval must be positive")
	case (o.TLSCert == "") != (o.TLSKey == ""):
		return errors.New("tls-cert and tls-key must be set together")
	case o.TLSClientCA != "" && o.TLSCert == "":
		return errors.New("tls-client-ca requires tls-cert")
	}
	return nil
}

// fileOptions mirrors Options with pointer fields so that only keys present in
// the file override flag values, and durations can be written as "10m".
type fileOptions struct {
	Port             *string `json:"address"`
	DatabaseDSN      *string `json:"database_dsn"`
	PublicURL        *string `json:"public_url"`
	GeminiAPIKey     *string `json:"gemini_api_key"`
	GeminiModel      *string `json:"gemini_model"`
	StartingBalance  *int    `json:"starting_balance"`
	ConsultationCost *int    `json:"consultation_cost"`
	PaymentRetention *string `json:"payment_retention"`
	ExpireInterval   *string `json:"expire_interval"`
	SandboxPayments  *bool   `json:"sandbox_payments"`
	TLSCert          *string `json:"tls_cert"`
	TLSKey           *string `json:"tls_key"`
	TLSClientCA      *string `json:"tls_client_ca"`
	LogLevel         *string `json:"log_level"`
}

func (f fileOptions) apply(o *Options) error {
	setString(&o.Port, f.Port)
	setString(&o.DatabaseDSN, f.DatabaseDSN)
	setString(&o.PublicURL, f.PublicURL)
	setString(&o.GeminiAPIKey, f.GeminiAPIKey)
	setString(&o.GeminiModel, f.GeminiModel)
	setString(&o.TLSCert, f.TLSCert)
	setString(&o.TLSKey, f.TLSKey)
	setString(&o.TLSClientCA, f.TLSClientCA)
	setString(&o.LogLevel, f.LogLevel)
	if f.StartingBalance != nil {
		o.StartingBalance = *f.StartingBalance
	}
	if f.ConsultationCost != nil {
		o.ConsultationCost = *f.ConsultationCost
	}
	if f.SandboxPayments != nil {
		o.SandboxPayments = *f.SandboxPayments
	}
	if err := setDuration(&o.PaymentRetention, f.PaymentRetention); err != nil {
		return fmt.Errorf("payment_retention: %w", err)
	}
	if err := setDuration(&o.ExpireInterval, f.ExpireInterval); err != nil {
		return fmt.Errorf("expire_interval: %w", err)
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
