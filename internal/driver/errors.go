package driver

import "fmt"

// ConfigurationError reports a configuration problem that makes
// provisioning impossible. It is raised before any provider call and
// is never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

// ProvisioningTimeoutError reports that a created server never became
// reachable within the attempt bound. The server still exists at the
// provider; Server names it so callers can clean it up, since no
// state was recorded for it.
type ProvisioningTimeoutError struct {
	Server   string
	Attempts int
}

func (e *ProvisioningTimeoutError) Error() string {
	return fmt.Sprintf("server %s not reachable after %d attempts", e.Server, e.Attempts)
}
