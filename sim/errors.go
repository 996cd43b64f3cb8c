package sim

import "fmt"

// ValidationError reports a malformed snapshot. The tick is rejected and the
// caller keeps its previous ActionPlan.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid snapshot: %s: %s", e.Field, e.Reason)
}

// ConfigError reports invalid PolicyParams. Surfaced when a scheduler is
// constructed or a policy bundle is loaded, never per tick.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid policy params: %s: %s", e.Field, e.Reason)
}

func invalidf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func misconfiguredf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
