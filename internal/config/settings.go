package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	InvoiceTypeStandard = "standard"
	InvoiceTypeProforma = "proforma"
)

// CompanyProfile is the issuer block printed on receipts and invoices.
type CompanyProfile struct {
	Name    string `mapstructure:"name" json:"name"`
	Address string `mapstructure:"address" json:"address"`
	Phone   string `mapstructure:"phone" json:"phone"`
	Email   string `mapstructure:"email" json:"email"`
	TaxID   string `mapstructure:"taxId" json:"tax_id"`
}

type Settings struct {
	Company CompanyProfile `mapstructure:"company"`
	// DefaultTaxRate is a fraction, e.g. "0.11" for 11%.
	DefaultTaxRate  string            `mapstructure:"defaultTaxRate"`
	InvoicePrefixes map[string]string `mapstructure:"invoicePrefixes"`
}

// TaxRate parses DefaultTaxRate; an invalid value was rejected at load time.
func (s Settings) TaxRate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(s.DefaultTaxRate))
	if err != nil {
		return decimal.Zero
	}
	return rate
}

// InvoicePrefix returns the configured prefix for an invoice type.
func (s Settings) InvoicePrefix(invoiceType string) (string, bool) {
	prefix, ok := s.InvoicePrefixes[strings.ToLower(strings.TrimSpace(invoiceType))]
	return prefix, ok && prefix != ""
}

func DefaultSettings() Settings {
	return Settings{
		Company: CompanyProfile{
			Name: "Travel Agency",
		},
		DefaultTaxRate: "0",
		InvoicePrefixes: map[string]string{
			InvoiceTypeStandard: "INV",
			InvoiceTypeProforma: "PRO",
		},
	}
}

// SettingsProvider hands out the settings current at call time.
type SettingsProvider interface {
	Settings() Settings
}

// StaticSettings is a fixed SettingsProvider.
type StaticSettings Settings

func (s StaticSettings) Settings() Settings {
	return Settings(s)
}

type SettingsHolder struct {
	current atomic.Value // holds Settings
}

func NewSettingsHolder(cfg Config, log *zap.Logger) (*SettingsHolder, error) {
	log = log.Named("settings")
	v := viper.New()

	if cfg.SettingsPath != "" {
		v.SetConfigFile(cfg.SettingsPath)
	} else {
		v.SetConfigName("settings")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/agencyledger")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("AGENCYLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSettings()
	v.SetDefault("settings.company.name", defaults.Company.Name)
	v.SetDefault("settings.defaultTaxRate", defaults.DefaultTaxRate)
	v.SetDefault("settings.invoicePrefixes", defaults.InvoicePrefixes)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		watch = false
		log.Info("settings file not found, using defaults")
	}

	settings, err := decodeSettings(v)
	if err != nil {
		return nil, err
	}

	holder := &SettingsHolder{}
	holder.current.Store(settings)

	if watch {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeSettings(v)
			if err != nil {
				log.Warn("settings reload rejected", zap.String("file", filepath.Base(e.Name)), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("settings reloaded", zap.String("file", filepath.Base(e.Name)))
		})
	}

	return holder, nil
}

func (h *SettingsHolder) Settings() Settings {
	return h.current.Load().(Settings)
}

func decodeSettings(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.UnmarshalKey("settings", &s); err != nil {
		return Settings{}, err
	}
	if err := validateSettings(s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func validateSettings(s Settings) error {
	if strings.TrimSpace(s.Company.Name) == "" {
		return errors.New("settings.company.name cannot be empty")
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(s.DefaultTaxRate))
	if err != nil {
		return fmt.Errorf("settings.defaultTaxRate: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.New("settings.defaultTaxRate must be within [0, 1)")
	}
	if len(s.InvoicePrefixes) == 0 {
		return errors.New("settings.invoicePrefixes cannot be empty")
	}
	return nil
}
