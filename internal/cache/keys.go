package cache

import (
	"strings"
	"time"
)

// Namespace is the Redis key prefix for the sync service.
const Namespace = "evetrade"

// defaultRecordTTL bounds how long an orphaned record key can outlive the
// run that wrote it. It must comfortably exceed the sync cadence so live
// keys never expire between runs.
const defaultRecordTTL = 24 * time.Hour

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}

// OrderKey returns the cache key for a trade record identity.
func OrderKey(identity string) string {
	return formatKey("order", identity)
}

// OrderKeyPattern matches every trade record key in the namespace.
func OrderKeyPattern() string {
	return formatKey("order") + ":*"
}

// IdentityFromKey recovers the identity string from a record key.
func IdentityFromKey(key string) (string, bool) {
	prefix := formatKey("order") + ":"
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	return key[len(prefix):], true
}

// RecordTTL normalises the configured record TTL (in seconds) into a
// duration, applying the default when unset.
func RecordTTL(seconds int) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultRecordTTL
}
