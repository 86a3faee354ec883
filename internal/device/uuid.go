package device

import (
	"fmt"
	"strings"
)

const (
	sigBasePrefix = "0000"
	sigBaseSuffix = "00001000800000805f9b34fb"
)

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// Strips a 0x prefix if present. Full 128-bit UUIDs in Bluetooth SIG base format
// (0000xxxx-0000-1000-8000-00805f9b34fb) are shortened to their 16-bit form.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")
	if len(u) == 32 && strings.HasPrefix(u, sigBasePrefix) && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// NormalizeUUIDs normalizes a slice of UUID strings to internal format.
func NormalizeUUIDs(uuids []string) []string {
	normalized := make([]string, len(uuids))
	for i, uuid := range uuids {
		normalized[i] = NormalizeUUID(uuid)
	}
	return normalized
}

// EqualUUID compares two UUIDs regardless of their formatting
func EqualUUID(a, b string) bool {
	return NormalizeUUID(a) == NormalizeUUID(b)
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}

// ValidateUUID validates that UUID strings are non-empty and well-formed hex.
// Returns normalized UUID strings or an error.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, uuid := range uuids {
		if uuid == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		normalized := NormalizeUUID(uuid)
		switch len(normalized) {
		case 4, 8, 32:
		default:
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, uuid)
		}
		for _, r := range normalized {
			if !strings.ContainsRune("0123456789abcdef", r) {
				return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, uuid)
			}
		}
		result = append(result, normalized)
	}
	return result, nil
}
