package store

import (
	"crypto/sha256"
	"encoding/hex"
)

// FileID computes the stable FileRegistry id for an object, defined in
// section 3 of the design specification as "hash of bucket|key".
func FileID(bucket, key string) string {
	sum := sha256.Sum256([]byte(bucket + "|" + key))
	return hex.EncodeToString(sum[:])
}

// ManifestKey computes the manifest key for an object, defined in
// section 3 as "bucket|key".
func ManifestKey(bucket, key string) string {
	return bucket + "|" + key
}
