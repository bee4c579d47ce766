package ratelimit

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Class names a traffic category with its own limiter instance and
// thresholds. Auth and admin surfaces are throttled tighter than
// general reads.
type Class string

const (
	ClassGeneral Class = "general"
	ClassAuth    Class = "auth"
	ClassAdmin   Class = "admin"
	ClassUpload  Class = "upload"
)

// Config holds the three thresholds of one limiter instance.
type Config struct {
	Class         Class
	MaxRequests   int
	Window        time.Duration
	BlockDuration time.Duration
}

// DefaultConfig returns the built-in thresholds for a traffic class.
func DefaultConfig(class Class) Config {
	switch class {
	case ClassAuth:
		return Config{Class: ClassAuth, MaxRequests: 10, Window: time.Minute, BlockDuration: 15 * time.Minute}
	case ClassAdmin:
		return Config{Class: ClassAdmin, MaxRequests: 30, Window: time.Minute, BlockDuration: 10 * time.Minute}
	case ClassUpload:
		return Config{Class: ClassUpload, MaxRequests: 20, Window: time.Hour, BlockDuration: time.Hour}
	default:
		return Config{Class: ClassGeneral, MaxRequests: 300, Window: time.Minute, BlockDuration: 5 * time.Minute}
	}
}

// LoadConfigFromEnv loads one class's thresholds from environment
// variables, falling back to the class defaults on absent or invalid
// values:
//
//   - QUESTGUARD_RATELIMIT_<CLASS>_MAX
//   - QUESTGUARD_RATELIMIT_<CLASS>_WINDOW
//   - QUESTGUARD_RATELIMIT_<CLASS>_BLOCK
func LoadConfigFromEnv(class Class) Config {
	cfg := DefaultConfig(class)
	prefix := "QUESTGUARD_RATELIMIT_" + strings.ToUpper(string(class))

	if v := strings.TrimSpace(os.Getenv(prefix + "_MAX")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxRequests = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(prefix + "_WINDOW")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Window = d
		}
	}
	if v := strings.TrimSpace(os.Getenv(prefix + "_BLOCK")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.BlockDuration = d
		}
	}
	return cfg
}
