package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harlowe/fundbooks/pkg/models"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	eps, err := cfg.Epsilon()
	require.NoError(t, err)
	assert.True(t, eps.Equal(decimal.RequireFromString("0.005")))

	tol, err := cfg.AmountTolerance()
	require.NoError(t, err)
	assert.True(t, tol.Equal(decimal.RequireFromString("10.00")))

	assert.Equal(t, 5, cfg.Matching.DateWindowDays)
	assert.True(t, cfg.OverdraftAllowed(models.FundGeneral))
	assert.False(t, cfg.OverdraftAllowed(models.FundRestricted))
	assert.False(t, cfg.OverdraftAllowed(models.FundPermanentlyRestricted))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fundbooks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ledger:
  epsilon: "0.01"
funds:
  clearing_account_id: "a81bc81b-dead-4e5d-abff-90865d1e13b1"
  allow_overdraft: ["GENERAL", "BOARD_DESIGNATED"]
matching:
  date_window_days: 7
  amount_tolerance: "25.00"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	eps, err := cfg.Epsilon()
	require.NoError(t, err)
	assert.True(t, eps.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, 7, cfg.Matching.DateWindowDays)
	assert.True(t, cfg.OverdraftAllowed(models.FundBoardDesignated))
	assert.False(t, cfg.OverdraftAllowed(models.FundRestricted))

	id, err := AccountID(cfg.Funds.ClearingAccountID)
	require.NoError(t, err)
	assert.Equal(t, "a81bc81b-dead-4e5d-abff-90865d1e13b1", id.String())
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fundbooks.yaml")
	require.NoError(t, os.WriteFile(path, []byte("funds:\n  allow_overdraft: []\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.005", cfg.Ledger.Epsilon)
	assert.Equal(t, 5, cfg.Matching.DateWindowDays)
	assert.False(t, cfg.OverdraftAllowed(models.FundGeneral))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestAccountID_Invalid(t *testing.T) {
	_, err := AccountID("not-a-uuid")
	require.Error(t, err)
}
