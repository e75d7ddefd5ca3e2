package errorhandler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelayExponentialCapsAtCeiling(t *testing.T) {
	p := PolicyFor(CategoryTransient)
	require.Equal(t, 2*time.Second, Delay(p, 0))
	require.Equal(t, 4*time.Second, Delay(p, 1))
	require.Equal(t, 8*time.Second, Delay(p, 2))
	require.Equal(t, 16*time.Second, Delay(p, 3))
	require.Equal(t, 16*time.Second, Delay(p, 10), "must not exceed the configured cap")
}

func TestDelayFlatWhenNotExponential(t *testing.T) {
	p := PolicyFor(CategorySandboxCrash)
	require.Equal(t, 5*time.Second, Delay(p, 0))
	require.Equal(t, 5*time.Second, Delay(p, 5))
}

func TestPolicyForUnlistedCategoryHasNoRetries(t *testing.T) {
	p := PolicyFor(CategoryContractViolation)
	require.Equal(t, 0, p.MaxRetries)
}
