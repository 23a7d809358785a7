package routing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yeah705-lgtm/ccs-sub003/internal/config"
)

var ErrFallbackCycle = errors.New("fallback cycle")

// ValidateFallbackChains rejects chains in which a fallback entry names a
// provider already used by one of its ancestors.
func ValidateFallbackChains(profile *config.RouterProfile) error {
	var errs []error

	for _, tier := range []Tier{TierOpus, TierSonnet, TierHaiku} {
		tc, err := TierConfigFor(profile, tier)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if path := findCycle(*tc, nil); path != nil {
			errs = append(errs, fmt.Errorf("tier %s: %w: %s", tier, ErrFallbackCycle, strings.Join(path, " -> ")))
		}
	}

	return errors.Join(errs...)
}

func findCycle(tc config.TierConfig, ancestors []string) []string {
	for _, name := range ancestors {
		if name == tc.Provider {
			return append(append([]string{}, ancestors...), tc.Provider)
		}
	}

	path := append(append([]string{}, ancestors...), tc.Provider)
	for _, fb := range tc.Fallback {
		if cycle := findCycle(fb, path); cycle != nil {
			return cycle
		}
	}

	return nil
}
