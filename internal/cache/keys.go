package cache

import "strings"

const keyPrefix = "track:"

// Key returns the cache key for a normalised tracking number and optional
// carrier hint. Requests without a hint share the "*" slot.
func Key(number, carrier string) string {
	carrier = strings.ToLower(strings.TrimSpace(carrier))
	if carrier == "" {
		carrier = "*"
	}
	return keyPrefix + number + ":" + carrier
}

// numberPrefix is the key prefix shared by every carrier slot of number.
func numberPrefix(number string) string {
	return keyPrefix + number + ":"
}
