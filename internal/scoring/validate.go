package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// ValidateWeights checks a weight vector against the configured bounds.
func ValidateWeights(weights map[string]float64, min, max float64) error {
	var errs []string

	if len(weights) == 0 {
		errs = append(errs, "at least one weight is required")
	}
	if min < 0 {
		errs = append(errs, "weight_min must be >= 0")
	}
	if max < min {
		errs = append(errs, "weight_max must be >= weight_min")
	}

	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	var sum float64
	for _, name := range names {
		w := weights[name]
		switch {
		case math.IsNaN(w) || math.IsInf(w, 0):
			errs = append(errs, fmt.Sprintf("%s is not a finite number", name))
			continue
		case w < min || w > max:
			errs = append(errs, fmt.Sprintf("%s=%.4f outside [%.4f, %.4f]", name, w, min, max))
		}
		sum += w
	}
	if len(weights) > 0 && sum <= 0 {
		errs = append(errs, "weight sum must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("scoring: weight validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
