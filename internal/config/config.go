// Package config loads the service configuration: defaults, then an optional
// TOML file named by CONFIG_FILE, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Gateway configures the hosted payment gateway.
type Gateway struct {
	MerchantID     string   `toml:"merchant_id"`
	Password       string   `toml:"password"`
	SandboxBaseURL string   `toml:"sandbox_base_url"`
	Currency       string   `toml:"currency"`
	Vendor         string   `toml:"vendor"`
	ConfirmPath    string   `toml:"confirm_path"`
	PayWithCharge  bool     `toml:"pay_with_charge"`
	Timeout        Duration `toml:"timeout"`
}

// Tables names the DynamoDB tables.
type Tables struct {
	Customers       string `toml:"customers"`
	CustomerEmails  string `toml:"customer_emails"`
	Orders          string `toml:"orders"`
	OrderItems      string `toml:"order_items"`
	PaymentSessions string `toml:"payment_sessions"`
	Idempotency     string `toml:"idempotency"`
}

// Pricing controls server-side verification of client totals.
type Pricing struct {
	TaxRate     float64 `toml:"tax_rate"`
	VerifyTotal bool    `toml:"verify_total"`
}

type Metrics struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

type AWS struct {
	Region           string `toml:"region"`
	EndpointOverride string `toml:"endpoint_override"`
}

// Config is the full service configuration.
type Config struct {
	Addr           string   `toml:"addr"`
	RunLocal       bool     `toml:"run_local"`
	LogLevel       string   `toml:"log_level"`
	QueueURL       string   `toml:"queue_url"`
	IdempotencyTTL Duration `toml:"idempotency_ttl"`
	AWS            AWS      `toml:"aws"`
	Tables         Tables   `toml:"tables"`
	Gateway        Gateway  `toml:"gateway"`
	Pricing        Pricing  `toml:"pricing"`
	Metrics        Metrics  `toml:"metrics"`
}

// Duration reads TOML strings such as "48h" or "15s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Addr:           ":8080",
		LogLevel:       "info",
		IdempotencyTTL: Duration{48 * time.Hour},
		AWS:            AWS{Region: "us-east-1"},
		Tables: Tables{
			Customers:       "customers",
			CustomerEmails:  "customer_emails",
			Orders:          "orders",
			OrderItems:      "order_items",
			PaymentSessions: "payment_sessions",
			Idempotency:     "idempotency",
		},
		Gateway: Gateway{
			Currency:      "BDT",
			Vendor:        "paystation",
			ConfirmPath:   "/payments/callback",
			PayWithCharge: true,
			Timeout:       Duration{15 * time.Second},
		},
		Pricing: Pricing{TaxRate: 0.05, VerifyTotal: true},
		Metrics: Metrics{Enabled: true, Namespace: "Storefront/Checkout"},
	}
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom is Load with an injectable environment lookup.
func LoadFrom(getenv func(string) string) (Config, error) {
	cfg, err := read(getenv)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWorker reads the configuration for the order worker, which never
// talks to the gateway and so does not require its credentials.
func LoadWorker() (Config, error) {
	return LoadWorkerFrom(os.Getenv)
}

func LoadWorkerFrom(getenv func(string) string) (Config, error) {
	cfg, err := read(getenv)
	if err != nil {
		return cfg, err
	}
	if cfg.Tables.Orders == "" {
		return cfg, errors.New("tables.orders is required")
	}
	return cfg, nil
}

func read(getenv func(string) string) (Config, error) {
	cfg := Default()

	if path := getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("ADDR", &cfg.Addr)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("ORDERS_QUEUE_URL", &cfg.QueueURL)
	str("AWS_REGION", &cfg.AWS.Region)
	str("AWS_ENDPOINT_OVERRIDE", &cfg.AWS.EndpointOverride)
	str("CUSTOMERS_TABLE", &cfg.Tables.Customers)
	str("CUSTOMER_EMAILS_TABLE", &cfg.Tables.CustomerEmails)
	str("ORDERS_TABLE", &cfg.Tables.Orders)
	str("ORDER_ITEMS_TABLE", &cfg.Tables.OrderItems)
	str("PAYMENT_SESSIONS_TABLE", &cfg.Tables.PaymentSessions)
	str("IDEMPOTENCY_TABLE", &cfg.Tables.Idempotency)
	str("GATEWAY_MERCHANT_ID", &cfg.Gateway.MerchantID)
	str("GATEWAY_PASSWORD", &cfg.Gateway.Password)
	str("SANDBOX_URL", &cfg.Gateway.SandboxBaseURL)
	str("GATEWAY_CURRENCY", &cfg.Gateway.Currency)
	str("GATEWAY_CONFIRM_PATH", &cfg.Gateway.ConfirmPath)
	str("METRICS_NAMESPACE", &cfg.Metrics.Namespace)

	if v := getenv("RUN_LOCAL"); v != "" {
		cfg.RunLocal = v == "true"
	}

	for key, dst := range map[string]*bool{
		"VERIFY_TOTAL":    &cfg.Pricing.VerifyTotal,
		"METRICS_ENABLED": &cfg.Metrics.Enabled,
	} {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}
	if v := getenv("TAX_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("TAX_RATE: %w", err)
		}
		cfg.Pricing.TaxRate = f
	}
	for key, dst := range map[string]*Duration{
		"IDEMPOTENCY_TTL": &cfg.IdempotencyTTL,
		"GATEWAY_TIMEOUT": &cfg.Gateway.Timeout,
	} {
		if v := getenv(key); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	return nil
}

// Validate reports missing or inconsistent settings.
func (c Config) Validate() error {
	var errs []error
	if c.Gateway.MerchantID == "" {
		errs = append(errs, errors.New("gateway.merchant_id is required"))
	}
	if c.Gateway.Password == "" {
		errs = append(errs, errors.New("gateway.password is required"))
	}
	if c.Gateway.SandboxBaseURL == "" {
		errs = append(errs, errors.New("gateway.sandbox_base_url is required"))
	}
	if c.Gateway.Currency == "" {
		errs = append(errs, errors.New("gateway.currency is required"))
	}
	if !strings.HasPrefix(c.Gateway.ConfirmPath, "/") {
		errs = append(errs, fmt.Errorf("gateway.confirm_path %q must start with /", c.Gateway.ConfirmPath))
	}
	if c.Pricing.TaxRate < 0 {
		errs = append(errs, errors.New("pricing.tax_rate must not be negative"))
	}
	return errors.Join(errs...)
}
