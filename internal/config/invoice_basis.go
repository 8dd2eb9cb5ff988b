package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Line type keys of the per-type defaults table.
const (
	LineTypeTime     = "time"
	LineTypeMaterial = "material"
	LineTypeExpense  = "expense"
	LineTypeMileage  = "mileage"
	LineTypeATA      = "ata"
	LineTypeDiary    = "diary"
)

// LineDefaults is the per-type pricing/account/VAT configuration.
type LineDefaults struct {
	ArticleCode string  `mapstructure:"articleCode"`
	Account     string  `mapstructure:"account"`
	VATRate     float64 `mapstructure:"vatRate"`
	VATCode     string  `mapstructure:"vatCode"`
	Unit        string  `mapstructure:"unit"`
}

// TextLimits caps sanitized free-text fields.
type TextLimits struct {
	Description  int `mapstructure:"description"`
	DiaryRaw     int `mapstructure:"diaryRaw"`
	DiarySummary int `mapstructure:"diarySummary"`
}

// InvoiceBasisConfig is loaded once at process start and never mutated.
type InvoiceBasisConfig struct {
	Types  map[string]LineDefaults `mapstructure:"types"`
	Limits TextLimits              `mapstructure:"limits"`
}

// Defaults returns the defaults for a line type and whether they exist.
func (c InvoiceBasisConfig) Defaults(lineType string) (LineDefaults, bool) {
	d, ok := c.Types[lineType]
	return d, ok
}

func DefaultInvoiceBasisConfig() InvoiceBasisConfig {
	return InvoiceBasisConfig{
		Types: map[string]LineDefaults{
			LineTypeTime:     {ArticleCode: "ARBETE", Account: "3041", VATRate: 25, VATCode: "MP1", Unit: "h"},
			LineTypeMaterial: {ArticleCode: "MATERIAL", Account: "3051", VATRate: 25, VATCode: "MP1", Unit: "st"},
			LineTypeExpense:  {ArticleCode: "UTLAGG", Account: "3550", VATRate: 25, VATCode: "MP1", Unit: "st"},
			LineTypeMileage:  {ArticleCode: "MIL", Account: "3540", VATRate: 25, VATCode: "MP1", Unit: "km"},
			LineTypeATA:      {ArticleCode: "ATA", Account: "3041", VATRate: 25, VATCode: "MP1", Unit: "st"},
			LineTypeDiary:    {ArticleCode: "DAGBOK", Account: "", VATRate: 0, VATCode: "", Unit: ""},
		},
		Limits: TextLimits{
			Description:  200,
			DiaryRaw:     4000,
			DiarySummary: 2000,
		},
	}
}

// NewInvoiceBasisConfig reads invoice_basis.yml when present and falls back to
// DefaultInvoiceBasisConfig. Every key can also be set from the environment,
// e.g. BYGGLOGG_INVOICEBASIS_TYPES_ATA_VATRATE=12.
func NewInvoiceBasisConfig() (InvoiceBasisConfig, error) {
	return loadInvoiceBasisConfig("/etc/bygglogg", ".")
}

func loadInvoiceBasisConfig(paths ...string) (InvoiceBasisConfig, error) {
	v := viper.New()

	v.SetConfigName("invoice_basis")
	v.SetConfigType("yml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("BYGGLOGG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults are registered key by key so a file or env var overriding one
	// field leaves the rest of its type entry intact.
	defaults := DefaultInvoiceBasisConfig()
	setInvoiceBasisDefaults(v, defaults)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return InvoiceBasisConfig{}, err
		}
	}

	var root struct {
		InvoiceBasis InvoiceBasisConfig `mapstructure:"invoiceBasis"`
	}
	if err := v.Unmarshal(&root); err != nil {
		return InvoiceBasisConfig{}, err
	}
	cfg := mergeInvoiceBasisDefaults(root.InvoiceBasis, defaults)
	if err := validateInvoiceBasisConfig(cfg); err != nil {
		return InvoiceBasisConfig{}, err
	}
	return cfg, nil
}

func setInvoiceBasisDefaults(v *viper.Viper, defaults InvoiceBasisConfig) {
	for key, def := range defaults.Types {
		prefix := "invoiceBasis.types." + key + "."
		v.SetDefault(prefix+"articleCode", def.ArticleCode)
		v.SetDefault(prefix+"account", def.Account)
		v.SetDefault(prefix+"vatRate", def.VATRate)
		v.SetDefault(prefix+"vatCode", def.VATCode)
		v.SetDefault(prefix+"unit", def.Unit)
	}
	v.SetDefault("invoiceBasis.limits.description", defaults.Limits.Description)
	v.SetDefault("invoiceBasis.limits.diaryRaw", defaults.Limits.DiaryRaw)
	v.SetDefault("invoiceBasis.limits.diarySummary", defaults.Limits.DiarySummary)
}

// mergeInvoiceBasisDefaults fills blank string fields and non-positive limits
// from defaults, one field at a time. VAT rates are taken as given since zero
// is a valid rate.
func mergeInvoiceBasisDefaults(cfg, defaults InvoiceBasisConfig) InvoiceBasisConfig {
	types := make(map[string]LineDefaults, len(defaults.Types))
	for key, def := range defaults.Types {
		types[key] = def
	}
	for key, override := range cfg.Types {
		key = strings.ToLower(strings.TrimSpace(key))
		def, ok := types[key]
		if !ok {
			types[key] = override
			continue
		}
		def.VATRate = override.VATRate
		def.ArticleCode = orDefault(override.ArticleCode, def.ArticleCode)
		def.Account = orDefault(override.Account, def.Account)
		def.VATCode = orDefault(override.VATCode, def.VATCode)
		def.Unit = orDefault(override.Unit, def.Unit)
		types[key] = def
	}
	cfg.Types = types

	if cfg.Limits.Description <= 0 {
		cfg.Limits.Description = defaults.Limits.Description
	}
	if cfg.Limits.DiaryRaw <= 0 {
		cfg.Limits.DiaryRaw = defaults.Limits.DiaryRaw
	}
	if cfg.Limits.DiarySummary <= 0 {
		cfg.Limits.DiarySummary = defaults.Limits.DiarySummary
	}
	return cfg
}

func orDefault(value, def string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return def
}

func validateInvoiceBasisConfig(cfg InvoiceBasisConfig) error {
	for _, key := range []string{LineTypeTime, LineTypeMaterial, LineTypeExpense, LineTypeMileage, LineTypeATA, LineTypeDiary} {
		def, ok := cfg.Types[key]
		if !ok {
			return fmt.Errorf("invoiceBasis.types.%s is required", key)
		}
		if def.VATRate < 0 || def.VATRate > 100 {
			return fmt.Errorf("invoiceBasis.types.%s.vatRate out of range", key)
		}
		if key == LineTypeDiary {
			continue
		}
		if def.ArticleCode == "" {
			return fmt.Errorf("invoiceBasis.types.%s.articleCode is required", key)
		}
		if def.Account == "" {
			return fmt.Errorf("invoiceBasis.types.%s.account is required", key)
		}
	}
	if cfg.Types[LineTypeDiary].VATRate != 0 {
		return errors.New("invoiceBasis.types.diary.vatRate must be 0")
	}
	return nil
}
