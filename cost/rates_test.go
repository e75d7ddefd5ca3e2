package cost

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadRatesOverlaysOnlySetFields(t *testing.T) {
	custom := 9.9
	rates := LoadRates(PartialRates{InputCentsPer1K: &custom})
	require.Equal(t, 9.9, rates.InputCentsPer1K)
	require.Equal(t, DefaultRates().OutputCentsPer1K, rates.OutputCentsPer1K)
}
