package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultWeights_RowsSumToOne(t *testing.T) {
	for regime, row := range DefaultWeights() {
		assert.InDelta(t, 1.0, row.sum(), 1e-9, "regime %s", regime)
	}
}

func TestWeightTable_HardBearSharesBearRow(t *testing.T) {
	table := DefaultWeights()
	assert.Equal(t, table.For(RegimeBear), table.For(RegimeBearHard))
}

func TestWeightTable_UnknownRegimeFallsBackToSideways(t *testing.T) {
	table := DefaultWeights()
	assert.Equal(t, table[RegimeSideways], table.For(Regime("MOON")))
}

func TestLoadWeightOverrides_EmptyPathReturnsDefaults(t *testing.T) {
	table, err := LoadWeightOverrides("")
	require.NoError(t, err)
	assert.Equal(t, DefaultWeights(), table)
}

func TestLoadWeightOverrides_MergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")
	yaml := `
SIDEWAYS:
  trend: 0.10
  mean_reversion: 0.50
  momentum: 0.20
  advisory: 0.20
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	table, err := LoadWeightOverrides(path)
	require.NoError(t, err)

	assert.InDelta(t, 0.50, table[RegimeSideways].Reversion, 1e-9)
	// Untouched regimes keep their defaults.
	assert.Equal(t, DefaultWeights()[RegimeBull], table[RegimeBull])
}

func TestLoadWeightOverrides_RejectsBadSum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")
	yaml := `
BULL:
  trend: 0.50
  mean_reversion: 0.50
  momentum: 0.50
  advisory: 0.00
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	_, err := LoadWeightOverrides(path)
	assert.ErrorContains(t, err, "sum")
}

func TestLoadWeightOverrides_RejectsUnknownRegime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")
	yaml := `
CRAB:
  trend: 1.0
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	_, err := LoadWeightOverrides(path)
	assert.ErrorContains(t, err, "unknown regime")
}

func TestLoadWeightOverrides_MissingFile(t *testing.T) {
	_, err := LoadWeightOverrides(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
