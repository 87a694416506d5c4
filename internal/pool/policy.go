package pool

import (
	"fmt"
	"strings"
	"time"
)

// Policy collapses the crawler variants (plain, secure, turbo) into one
// configuration for the pool.
type Policy struct {
	Capacity             int
	Browsers             int
	RotateEvery          int
	BlockedResourceTypes []string
	UserAgents           []string
	Headless             bool
	ExecPath             string
	AcquireTimeout       time.Duration
	ShutdownGrace        time.Duration
}

const (
	defaultShutdownGrace = 5 * time.Second
	// ProfilePlain is a small pool with no rotation.
	ProfilePlain = "plain"
	// ProfileSecure rotates pages often and blocks heavy resources.
	ProfileSecure = "secure"
	// ProfileTurbo spreads a larger pool over two browsers.
	ProfileTurbo = "turbo"
)

// Profile returns the named preset. An empty name selects plain.
func Profile(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ProfilePlain:
		return Policy{Capacity: 2, Browsers: 1, Headless: true}, nil
	case ProfileSecure:
		return Policy{
			Capacity:             2,
			Browsers:             1,
			RotateEvery:          25,
			BlockedResourceTypes: []string{"Image", "Font", "Media", "Stylesheet"},
			Headless:             true,
		}, nil
	case ProfileTurbo:
		return Policy{
			Capacity:             6,
			Browsers:             2,
			RotateEvery:          100,
			BlockedResourceTypes: []string{"Image", "Font", "Media"},
			Headless:             true,
		}, nil
	default:
		return Policy{}, fmt.Errorf("unknown pool profile %q", name)
	}
}

// Validate checks the policy before any browser is launched.
func (p Policy) Validate() error {
	if p.Capacity <= 0 {
		return fmt.Errorf("pool capacity must be > 0")
	}
	if p.Browsers < 0 {
		return fmt.Errorf("pool browsers must be >= 0")
	}
	if p.RotateEvery < 0 {
		return fmt.Errorf("pool rotate_every must be >= 0")
	}
	if p.AcquireTimeout < 0 || p.ShutdownGrace < 0 {
		return fmt.Errorf("pool timeouts must be >= 0")
	}
	return nil
}

func (p Policy) withDefaults() Policy {
	if p.Browsers <= 0 {
		p.Browsers = 1
	}
	if p.Browsers > p.Capacity {
		p.Browsers = p.Capacity
	}
	if p.ShutdownGrace <= 0 {
		p.ShutdownGrace = defaultShutdownGrace
	}
	return p
}
