// Package envconfig reads runtime configuration from BLOCKS_* environment
// variables.
package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// LogLevel returns the log level for the application.
// Configurable via BLOCKS_DEBUG. Values are 0 or false INFO (Default),
// 1 or true DEBUG, 2 TRACE-like (slog level -8).
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("BLOCKS_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}
	return level
}

// NumThreads is the number of goroutines a single CPU kernel may use.
// Configurable via BLOCKS_NUM_THREADS. Default: runtime.NumCPU().
var NumThreads = Uint("BLOCKS_NUM_THREADS", uint(runtime.NumCPU()))

// Seed seeds parameter initialization. Configurable via BLOCKS_SEED.
// Default 0 seeds from the clock.
var Seed = Int64("BLOCKS_SEED", 0)

// Var returns an environment variable stripped of leading and trailing
// quotes and spaces.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// Uint returns a function reading an unsigned integer with a default.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Int64 returns a function reading a signed integer with a default.
func Int64(key string, defaultValue int64) func() int64 {
	return func() int64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseInt(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

// EnvVar describes one configuration variable.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every configuration variable with its current value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"BLOCKS_DEBUG":       {"BLOCKS_DEBUG", LogLevel(), "Show additional debug information (e.g. BLOCKS_DEBUG=1)"},
		"BLOCKS_NUM_THREADS": {"BLOCKS_NUM_THREADS", NumThreads(), "Maximum goroutines per kernel (default: number of CPUs)"},
		"BLOCKS_SEED":        {"BLOCKS_SEED", Seed(), "Seed for parameter initialization (default 0: time based)"},
	}
}

// Values returns every configuration variable formatted as a string.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
