package config

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBillingDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.True(t, cfg.Billing.MinInstallment.Equal(decimal.NewFromInt(10)))
	assert.True(t, cfg.Billing.MaxPaymentAmount.Equal(decimal.NewFromInt(100000)))
	assert.True(t, cfg.Billing.GenericIncomeAutoConfirm)
	assert.Equal(t, time.Hour, cfg.Billing.OverdueSweepInterval)
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("BILLING_MIN_INSTALLMENT", "25.50")
	t.Setenv("BILLING_GENERIC_INCOME_AUTO_CONFIRM", "false")
	t.Setenv("DB_LOCK_TIMEOUT", "750ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "25.5", cfg.Billing.MinInstallment.String())
	assert.False(t, cfg.Billing.GenericIncomeAutoConfirm)
	assert.Equal(t, 750*time.Millisecond, cfg.Database.LockTimeout)
}

func TestParseDecimalFallsBackOnGarbage(t *testing.T) {
	fallback := decimal.NewFromInt(7)

	assert.True(t, parseDecimal("abc", fallback).Equal(fallback))
	assert.True(t, parseDecimal("-1", fallback).Equal(fallback))
	assert.True(t, parseDecimal(" 12.30 ", fallback).Equal(decimal.RequireFromString("12.3")))
}

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadAdminBootstrap(t *testing.T) {
	chdirTemp(t)
	t.Setenv("ADMIN_EMAIL", " admin@institute.test ")
	t.Setenv("ADMIN_PASSWORD", "s3cret!")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "admin@institute.test", cfg.Admin.Email)
	assert.Equal(t, "s3cret!", cfg.Admin.Password)
}

func TestLoadInvoiceSettings(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "FAC-", cfg.Invoice.Prefix)
	assert.Equal(t, 6, cfg.Invoice.SequenceLength)
	assert.Equal(t, "0.13", cfg.Invoice.VATRate.String())
	assert.Equal(t, "0.03", cfg.Invoice.TransactionTaxRate.String())

	t.Setenv("INVOICE_PREFIX", " inv- ")
	t.Setenv("INVOICE_SEQUENCE_LENGTH", "0")
	t.Setenv("INVOICE_VAT_RATE", "oops")

	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "INV-", cfg.Invoice.Prefix)
	assert.Equal(t, 6, cfg.Invoice.SequenceLength)
	assert.Equal(t, "0.13", cfg.Invoice.VATRate.String())
}
