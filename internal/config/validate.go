package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError is one problem found in a loaded configuration.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates every problem found by Validate, so a fatal
// startup failure (per the error taxonomy) reports everything wrong at once
// instead of failing on the first bad field.
type ValidationErrors []*ValidationError

func (es ValidationErrors) Error() string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// Validate checks that cfg leaves every field required by the core
// components in a usable state, collecting every problem before returning.
// An empty return means cfg is safe to hand to the event loop.
func Validate(cfg *ServerConfig) ValidationErrors {
	var errs ValidationErrors
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Interface == "" {
		add("interface", "must not be empty")
	}
	if cfg.PoolStart == nil || cfg.PoolEnd == nil {
		add("start/end", "pool bounds must be valid IPv4 addresses")
	} else if hostOrderOf(cfg.PoolStart) > hostOrderOf(cfg.PoolEnd) {
		add("start/end", "start (%s) must not be greater than end (%s)", cfg.PoolStart, cfg.PoolEnd)
	}
	if cfg.MaxLeases <= 0 {
		add("max_leases", "must be positive, got %d", cfg.MaxLeases)
	}
	if cfg.LeaseFile == "" {
		add("lease_file", "must not be empty")
	}
	if cfg.PIDFile == "" {
		add("pidfile", "must not be empty")
	}
	if cfg.OfferTime <= 0 {
		add("offer_time", "must be positive")
	}
	if cfg.MinLease <= 0 {
		add("min_lease", "must be positive")
	}

	return errs
}

func hostOrderOf(ip net.IP) uint32 {
	b := ip.To4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
