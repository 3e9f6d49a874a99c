package predicate

import "fmt"

// ConfigError reports a condition or action that cannot be translated
// because the rule itself is wrong: operator/kind mismatches, a second
// limit, a rating value outside a service's bounds. Callers classify
// it with errors.As; it always aborts the rule before any search.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "configuration: " + e.Message
}

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}
