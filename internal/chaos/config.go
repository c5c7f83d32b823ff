package chaos

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds chaos configuration
type Config struct {
	Enabled bool
	Profile string
	// TargetEvents limits injection to these event types (e.g. SUBSCRIPTION_DATA).
	// Empty means every event type.
	TargetEvents []string
	DropPct      int
	DelayMsMin   int
	DelayMsMax   int
	Seed         int64
	WindowMs     int
}

// LoadConfig loads chaos configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Enabled:      getEnvAsBool("CHAOS_ENABLED", false),
		Profile:      getEnvAsString("CHAOS_PROFILE", ""),
		TargetEvents: splitList(getEnvAsString("CHAOS_TARGET_EVENTS", "")),
		DropPct:      getEnvAsInt("CHAOS_DROP_PCT", 0),
		DelayMsMin:   getEnvAsInt("CHAOS_DELAY_MS_MIN", 0),
		DelayMsMax:   getEnvAsInt("CHAOS_DELAY_MS_MAX", 0),
		Seed:         getEnvAsInt64("CHAOS_SEED", 1),
		WindowMs:     getEnvAsInt("CHAOS_WINDOW_MS", 0),
	}
}

// ParseProfile parses a profile string like "drop-pct=30,delay=50-250"
func ParseProfile(profile string) (dropPct int, delayMin int, delayMax int, err error) {
	if profile == "" {
		return 0, 0, 0, nil
	}

	for _, part := range strings.Split(profile, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "drop-pct="):
			dropPct, err = strconv.Atoi(strings.TrimPrefix(part, "drop-pct="))
			if err != nil {
				return 0, 0, 0, fmt.Errorf("invalid drop-pct: %w", err)
			}
			if dropPct < 0 || dropPct > 100 {
				return 0, 0, 0, fmt.Errorf("drop-pct %d out of range 0-100", dropPct)
			}
		case strings.HasPrefix(part, "delay="):
			lo, hi, ok := strings.Cut(strings.TrimPrefix(part, "delay="), "-")
			if !ok {
				hi = lo
			}
			if delayMin, err = strconv.Atoi(lo); err != nil {
				return 0, 0, 0, fmt.Errorf("invalid delay min: %w", err)
			}
			if delayMax, err = strconv.Atoi(hi); err != nil {
				return 0, 0, 0, fmt.Errorf("invalid delay max: %w", err)
			}
			if delayMax < delayMin {
				return 0, 0, 0, fmt.Errorf("delay max %d below min %d", delayMax, delayMin)
			}
		case part == "":
		default:
			return 0, 0, 0, fmt.Errorf("unknown chaos profile entry %q", part)
		}
	}

	return dropPct, delayMin, delayMax, nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
