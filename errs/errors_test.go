package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSentinels(t *testing.T) {
	t.Run("no real eigenvalue is a physical parameter error", func(t *testing.T) {
		err := fmt.Errorf("r1rho exact: %w", ErrNoRealEigenvalue)
		require.ErrorIs(t, err, ErrNoRealEigenvalue)
		require.ErrorIs(t, err, ErrInvalidPhysicalParameter)
		require.NotErrorIs(t, err, ErrOptimizationFailure)
	})

	t.Run("sentinels are distinct", func(t *testing.T) {
		all := []error{
			ErrInvalidPhysicalParameter, ErrOptimizationFailure, ErrInsufficientData,
			ErrMapConstruction, ErrUnknownEquation, ErrInvalidConfig,
		}
		for i, a := range all {
			for j, b := range all {
				if i != j {
					require.False(t, errors.Is(a, b), "%v matched %v", a, b)
				}
			}
		}
	})
}
