package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks field constraints and that the active profile exists.
// Route-level checks (registry lookups, fallback cycles) live in the routing
// package because they need the provider registry.
func Validate(cfg *Config) error {
	var problems []string

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s: failed '%s' constraint", fe.Namespace(), fe.Tag()))
		}
	}

	if len(cfg.Profiles) > 0 {
		if _, ok := cfg.Profiles[cfg.ActiveProfile]; !ok {
			problems = append(problems, fmt.Sprintf("active profile %q is not defined", cfg.ActiveProfile))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}

	return nil
}
