package imposter

import (
	"fmt"
	"net/url"
)

// ConfigError represents a structural configuration failure with context.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error on %s: %s", e.Field, e.Message)
}

// Validate checks the imposter configuration for structural problems.
// Predicate shape is validated separately via the predicate engine's
// exhaustive dry-run pass.
func (c *Config) Validate() error {
	switch c.Protocol {
	case ProtocolHTTP:
	case "":
		return &ConfigError{Field: "protocol", Message: "protocol is required"}
	default:
		return &ConfigError{Field: "protocol", Message: fmt.Sprintf("unsupported protocol %q", c.Protocol)}
	}

	if c.Port < 0 || c.Port > 65535 {
		return &ConfigError{Field: "port", Message: fmt.Sprintf("port %d out of range", c.Port)}
	}

	for i, s := range c.Stubs {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("stubs[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate checks the stub configuration: a non-empty response queue in which
// every descriptor selects exactly one strategy.
func (s *StubConfig) Validate() error {
	if len(s.Responses) == 0 {
		return &ConfigError{Field: "responses", Message: "at least one response is required"}
	}
	for i, d := range s.Responses {
		if d == nil {
			return &ConfigError{Field: fmt.Sprintf("responses[%d]", i), Message: "response descriptor is empty"}
		}
		if err := d.Validate(); err != nil {
			return fmt.Errorf("responses[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate checks that the descriptor is a well-formed tagged value.
func (d *ResponseDescriptor) Validate() error {
	count := 0
	if d.Is != nil {
		count++
	}
	if d.Proxy != nil {
		count++
	}
	if d.Inject != "" {
		count++
	}
	if count == 0 {
		return &ConfigError{Field: "response", Message: "one of is, proxy, or inject is required"}
	}
	if count > 1 {
		return &ConfigError{Field: "response", Message: "only one of is, proxy, or inject may be specified"}
	}

	if d.Proxy != nil {
		if d.Proxy.To == "" {
			return &ConfigError{Field: "proxy.to", Message: "target address is required"}
		}
		u, err := url.Parse(d.Proxy.To)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &ConfigError{Field: "proxy.to", Message: fmt.Sprintf("invalid target address %q", d.Proxy.To)}
		}
		switch d.Proxy.Mode {
		case "", ProxyOnce, ProxyAlways:
		default:
			return &ConfigError{Field: "proxy.mode", Message: fmt.Sprintf("unknown mode %q", d.Proxy.Mode)}
		}
	}

	if d.Behaviors != nil && d.Behaviors.WaitMs < 0 {
		return &ConfigError{Field: "_behaviors.wait", Message: "wait must not be negative"}
	}
	return nil
}
