package utils

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
)

// HashString returns the hex md5 digest of s. Used for cache keys only.
func HashString(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashValue hashes the JSON encoding of v. Map keys are encoded in sorted
// order, so equal maps hash equally.
func HashValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return HashString(err.Error())
	}
	return HashString(string(data))
}
