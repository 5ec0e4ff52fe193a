// Package config loads the client settings from flags, an optional JSON file and the
// environment.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultReturnURL is where the payment provider sends the user after checkout.
const DefaultReturnURL = "https://style-ai-bot.onrender.com/?payment_success=true&section=balance"

// Options holds the client configuration.
type Options struct {
	// ServerURL is the backend API root, e.g. https://host/api/v1.
	ServerURL string `json:"server_url"`
	// CAFile is an optional PEM bundle to trust instead of the system roots.
	CAFile    string `json:"ca_file"`
	// CertFile and KeyFile hold an optional device certificate for mutual TLS.
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	// StatePath is the device identity record.
	StatePath string `json:"state_path"`
	// UserID is a platform identity; when empty a device id is used.
	UserID    string `json:"user_id"`
	Username  string `json:"username"`

	AnalysisTimeout   Duration `json:"analysis_timeout"`
	RequestTimeout    Duration `json:"request_timeout"`
	PollInterval      Duration `json:"poll_interval"`
	PollBudget        Duration `json:"poll_budget"`
	ReconcileInterval Duration `json:"reconcile_interval"`

	// ConsultationCost is used until the backend reports its own price.
	ConsultationCost  int     `json:"consultation_cost"`
	HistoryLimit      int     `json:"history_limit"`
	ReturnURL         string  `json:"return_url"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	LogLevel          string  `json:"log_level"`

	// Config is the path to the JSON file.
	Config string `json:"-"`
}

// Duration reads "90s"-style strings or integer nanoseconds from JSON.
type Duration time.Duration

// D returns the value as time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val))
		return nil
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	default:
		return errors.New("invalid duration")
	}
}

// Defaults returns the built-in configuration.
func Defaults() *Options {
	state := "mishura.json"
	if dir, err := os.UserConfigDir(); err == nil {
		state = filepath.Join(dir, "mishura", "state.json")
	}
	return &Options{
		ServerURL:         "http://localhost:8080/api/v1",
		StatePath:         state,
		AnalysisTimeout:   Duration(90 * time.Second),
		RequestTimeout:    Duration(15 * time.Second),
		PollInterval:      Duration(5 * time.Second),
		PollBudget:        Duration(10 * time.Minute),
		ReconcileInterval: Duration(30 * time.Second),
		ConsultationCost:  10,
		HistoryLimit:      20,
		ReturnURL:         DefaultReturnURL,
		RequestsPerSecond: 5,
		LogLevel:          "warn",
	}
}

// Parse builds Options from args (without the program name). Order of precedence,
// lowest first: defaults, flags, the JSON file, environment variables.
func Parse(args []string) (*Options, error) {
	o := Defaults()

	fs := flag.NewFlagSet("mishura", flag.ContinueOnError)
	fs.StringVar(&o.ServerURL, "url", o.ServerURL, "backend API root")
	fs.StringVar(&o.CAFile, "ca", o.CAFile, "path to CA cert (optional)")
	fs.StringVar(&o.CertFile, "cert", o.CertFile, "path to device certificate (optional)")
	fs.StringVar(&o.KeyFile, "key", o.KeyFile, "path to device key (optional)")
	fs.StringVar(&o.StatePath, "state", o.StatePath, "path to the identity record")
	fs.StringVar(&o.UserID, "user", o.UserID, "platform user id (optional)")
	fs.StringVar(&o.Username, "username", o.Username, "display name (optional)")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "log level")
	fs.IntVar(&o.ConsultationCost, "cost", o.ConsultationCost, "fallback STcoin cost of one consultation")
	fs.StringVar(&o.Config, "config", "", "path to config file")
	fs.StringVar(&o.Config, "c", "", "path to config file (shorthand)")
	analysis := fs.Duration("analysis-timeout", o.AnalysisTimeout.D(), "max wait for an analysis")
	poll := fs.Duration("poll-interval", o.PollInterval.D(), "payment status poll interval")
	budget := fs.Duration("poll-budget", o.PollBudget.D(), "how long to watch a payment")
	reconcile := fs.Duration("reconcile-interval", o.ReconcileInterval.D(), "balance refresh interval")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	o.AnalysisTimeout = Duration(*analysis)
	o.PollInterval = Duration(*poll)
	o.PollBudget = Duration(*budget)
	o.ReconcileInterval = Duration(*reconcile)

	if configPath := os.Getenv("CONFIG"); configPath != "" {
		o.Config = configPath
	}
	if o.Config != "" {
		data, err := os.ReadFile(o.Config)
		if err != nil {
			return nil, fmt.Errorf("error while reading config file: %w", err)
		}
		if err := json.Unmarshal(data, o); err != nil {
			return nil, fmt.Errorf("error while parsing config file: %w", err)
		}
	}

	if v := os.Getenv("MISHURA_API_URL"); v != "" {
		o.ServerURL = v
	}
	if v := os.Getenv("MISHURA_USER_ID"); v != "" {
		o.UserID = v
	}
	if v := os.Getenv("MISHURA_STATE"); v != "" {
		o.StatePath = v
	}

	return o, o.validate()
}

func (o *Options) validate() error {
	switch {
	case o.ServerURL == "":
		return errors.New("server url is required")
	case o.AnalysisTimeout <= 0:
		return errors.New("analysis timeout must be positive")
	case o.PollInterval <= 0 || o.PollBudget < o.PollInterval:
		return errors.New("poll budget must be at least one poll interval")
	case o.ReconcileInterval <= 0:
		return errors.New("reconcile interval must be positive")
	case o.ConsultationCost <= 0:
		return errors.New("consultation cost must be positive")
	case (o.CertFile == "") != (o.KeyFile == ""):
		return errors.New("device certificate and key must be set together")
	}
	return nil
}
