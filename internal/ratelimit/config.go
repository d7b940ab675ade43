package ratelimit

import (
	"fmt"
	"time"
)

// Wildcard keys the limit for author roles without their own entry.
const Wildcard = "*"

// Limit caps appends within a fixed window. Zero values mean no limit.
type Limit struct {
	MaxRequests int           `yaml:"max_requests" json:"max_requests"`
	Window      time.Duration `yaml:"window" json:"window"`
}

func (l *Limit) active() bool {
	return l != nil && l.MaxRequests > 0 && l.Window > 0
}

// Config maps author roles to their append limits.
type Config map[string]*Limit

// HasLimits returns true if any role has a configured limit.
func (c Config) HasLimits() bool {
	for _, l := range c {
		if l.active() {
			return true
		}
	}
	return false
}

// Validate rejects negative values.
func (c Config) Validate() error {
	for role, l := range c {
		if l == nil {
			continue
		}
		if l.MaxRequests < 0 || l.Window < 0 {
			return fmt.Errorf("rate_limits[%s]: max_requests and window must be >= 0", role)
		}
	}
	return nil
}

func (c Config) lookup(role string) *Limit {
	if l := c[role]; l != nil {
		return l
	}
	return c[Wildcard]
}
