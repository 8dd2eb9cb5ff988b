package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("INVOICE_BASIS_DEFAULT_CURRENCY", "eur")
	t.Setenv("INVOICE_BASIS_PAYMENT_TERMS_DAYS", "10")
	t.Setenv("INVOICE_BASIS_MAX_PARALLEL_REFRESH", "4")
	t.Setenv("REFRESH_LOCK_ENABLED", "yes")
	t.Setenv("REFRESH_LOCK_REDIS_ADDR", " redis:6379 ")
	t.Setenv("REFRESH_LOCK_WAIT_MS", "250")
	t.Setenv("DATABASE_MAX_OPEN_CONN", "not-a-number")
	t.Setenv("ENVIRONMENT", "Production")

	cfg := Load()

	assert.Equal(t, "EUR", cfg.InvoiceBasis.DefaultCurrency)
	assert.Equal(t, 10, cfg.InvoiceBasis.DefaultPaymentDays)
	assert.Equal(t, 4, cfg.InvoiceBasis.MaxParallelRefresh)
	assert.True(t, cfg.RefreshLock.Enabled)
	assert.Equal(t, "redis:6379", cfg.RefreshLock.RedisAddr)
	assert.Equal(t, 250*time.Millisecond, cfg.RefreshLock.WaitTimeout)
	assert.Equal(t, time.Minute, cfg.RefreshLock.TTL)
	assert.Equal(t, 20, cfg.DBMaxOpenConn)
	assert.True(t, cfg.IsProduction())
}

func TestNewInvoiceBasisConfigFallsBackToDefaults(t *testing.T) {
	cfg, err := NewInvoiceBasisConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultInvoiceBasisConfig(), cfg)
}

func TestMergeInvoiceBasisDefaults(t *testing.T) {
	cfg := mergeInvoiceBasisDefaults(InvoiceBasisConfig{
		Types: map[string]LineDefaults{
			" Material ": {ArticleCode: "MAT", Account: "3000", VATRate: 12, VATCode: "MP2", Unit: "m"},
		},
		Limits: TextLimits{Description: 80},
	}, DefaultInvoiceBasisConfig())

	material, ok := cfg.Defaults(LineTypeMaterial)
	require.True(t, ok)
	assert.Equal(t, "MAT", material.ArticleCode)
	assert.Equal(t, 12.0, material.VATRate)

	timeDefaults, ok := cfg.Defaults(LineTypeTime)
	require.True(t, ok)
	assert.Equal(t, "ARBETE", timeDefaults.ArticleCode)

	assert.Equal(t, 80, cfg.Limits.Description)
	assert.Equal(t, 4000, cfg.Limits.DiaryRaw)
	assert.Equal(t, 2000, cfg.Limits.DiarySummary)
	require.NoError(t, validateInvoiceBasisConfig(cfg))
}

func TestValidateInvoiceBasisConfig(t *testing.T) {
	cfg := DefaultInvoiceBasisConfig()
	diary := cfg.Types[LineTypeDiary]
	diary.VATRate = 25
	cfg.Types[LineTypeDiary] = diary
	assert.EqualError(t, validateInvoiceBasisConfig(cfg), "invoiceBasis.types.diary.vatRate must be 0")

	cfg = DefaultInvoiceBasisConfig()
	delete(cfg.Types, LineTypeMileage)
	assert.EqualError(t, validateInvoiceBasisConfig(cfg), "invoiceBasis.types.mileage is required")

	cfg = DefaultInvoiceBasisConfig()
	exp := cfg.Types[LineTypeExpense]
	exp.VATRate = 120
	cfg.Types[LineTypeExpense] = exp
	assert.Error(t, validateInvoiceBasisConfig(cfg))
}

func TestMergeInvoiceBasisDefaultsKeepsUnsetFields(t *testing.T) {
	cfg := mergeInvoiceBasisDefaults(InvoiceBasisConfig{
		Types: map[string]LineDefaults{
			LineTypeATA: {VATRate: 12, Unit: "  "},
		},
	}, DefaultInvoiceBasisConfig())

	ata, ok := cfg.Defaults(LineTypeATA)
	require.True(t, ok)
	assert.Equal(t, LineDefaults{ArticleCode: "ATA", Account: "3041", VATRate: 12, VATCode: "MP1", Unit: "st"}, ata)
	require.NoError(t, validateInvoiceBasisConfig(cfg))
}

func TestLoadInvoiceBasisConfigPartialFileOverride(t *testing.T) {
	dir := t.TempDir()
	yml := "invoiceBasis:\n  types:\n    ata:\n      vatRate: 12\n  limits:\n    description: 120\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "invoice_basis.yml"), []byte(yml), 0o600))

	cfg, err := loadInvoiceBasisConfig(dir)
	require.NoError(t, err)

	ata, _ := cfg.Defaults(LineTypeATA)
	assert.Equal(t, 12.0, ata.VATRate)
	assert.Equal(t, "ATA", ata.ArticleCode)
	assert.Equal(t, "3041", ata.Account)
	assert.Equal(t, "MP1", ata.VATCode)
	assert.Equal(t, "st", ata.Unit)

	material, _ := cfg.Defaults(LineTypeMaterial)
	assert.Equal(t, DefaultInvoiceBasisConfig().Types[LineTypeMaterial], material)
	assert.Equal(t, 120, cfg.Limits.Description)
	assert.Equal(t, 4000, cfg.Limits.DiaryRaw)
}

func TestLoadInvoiceBasisConfigReadsEnvironment(t *testing.T) {
	t.Setenv("BYGGLOGG_INVOICEBASIS_TYPES_MILEAGE_ACCOUNT", "5800")
	t.Setenv("BYGGLOGG_INVOICEBASIS_TYPES_EXPENSE_VATRATE", "12")

	cfg, err := loadInvoiceBasisConfig(t.TempDir())
	require.NoError(t, err)

	mileage, _ := cfg.Defaults(LineTypeMileage)
	assert.Equal(t, "5800", mileage.Account)
	assert.Equal(t, "MIL", mileage.ArticleCode)

	expense, _ := cfg.Defaults(LineTypeExpense)
	assert.Equal(t, 12.0, expense.VATRate)
	assert.Equal(t, "UTLAGG", expense.ArticleCode)
}

func TestValidateInvoiceBasisConfigRequiresLedgerFields(t *testing.T) {
	cfg := DefaultInvoiceBasisConfig()
	ata := cfg.Types[LineTypeATA]
	ata.Account = ""
	cfg.Types[LineTypeATA] = ata
	assert.EqualError(t, validateInvoiceBasisConfig(cfg), "invoiceBasis.types.ata.account is required")

	cfg = DefaultInvoiceBasisConfig()
	timeDefaults := cfg.Types[LineTypeTime]
	timeDefaults.ArticleCode = ""
	cfg.Types[LineTypeTime] = timeDefaults
	assert.EqualError(t, validateInvoiceBasisConfig(cfg), "invoiceBasis.types.time.articleCode is required")

	cfg = DefaultInvoiceBasisConfig()
	require.Empty(t, cfg.Types[LineTypeDiary].Account)
	assert.NoError(t, validateInvoiceBasisConfig(cfg))
}
