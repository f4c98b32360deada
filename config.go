package ucg

import "fmt"

// Config holds the tunables spec §6 names, validated the way
// Director.Configure validates Service/Destination fields before committing
// them (director.go's bare errors.New checks, generalized into a single
// Validate method since Config has no live "committed" state to protect).
type Config struct {
	// TreeRadix is the inter-host fan-in/out degree. Default 8.
	TreeRadix int
	// TreeSockThresh is the PPN threshold switching flat-intra-host to
	// two-level socket-then-host. Default 16.
	TreeSockThresh int
	// MaxConcurrentOps bounds the dispatcher's slot ring; must be a power
	// of two. Default 16.
	MaxConcurrentOps int
	// BcopyToZcopyThreshold is the payload size, in bytes, above which the
	// step builder prefers AM-ZCOPY over AM-BCOPY when both are viable.
	// Default 65536. Validated here only: the built-in planner does not read
	// this field and takes the crossover per collective from
	// builtin.CollectiveParams.BcopyToZcopyThreshold.
	BcopyToZcopyThreshold int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TreeRadix:             8,
		TreeSockThresh:        16,
		MaxConcurrentOps:      16,
		BcopyToZcopyThreshold: 64 << 10,
	}
}

// Validate reports the first invalid field found.
func (c Config) Validate() error {
	if c.TreeRadix <= 0 {
		return NewError("Config.Validate", KindInvalidParameter, fmt.Errorf("tree radix must be positive, got %d", c.TreeRadix))
	}
	if c.TreeSockThresh <= 0 {
		return NewError("Config.Validate", KindInvalidParameter, fmt.Errorf("tree sock_thresh must be positive, got %d", c.TreeSockThresh))
	}
	if c.MaxConcurrentOps <= 0 || c.MaxConcurrentOps&(c.MaxConcurrentOps-1) != 0 {
		return NewError("Config.Validate", KindInvalidParameter, fmt.Errorf("max_concurrent_ops must be a power of two, got %d", c.MaxConcurrentOps))
	}
	if c.BcopyToZcopyThreshold < 0 {
		return NewError("Config.Validate", KindInvalidParameter, fmt.Errorf("bcopy_to_zcopy_threshold must be non-negative, got %d", c.BcopyToZcopyThreshold))
	}
	return nil
}
