package snapshot

import (
	"encoding/json"
	"fmt"

	"github.com/minio/highwayhash"
)

// hashKey is the fixed HighwayHash key. The hash is a fingerprint for
// change detection, not an authenticator, so a package-level key is
// fine; changing it invalidates stored digests.
var hashKey = []byte("notevault-0123456789abcdef012345")

// Digest returns the HighwayHash-64 fingerprint of data as fixed-width
// hex.
func Digest(data []byte) string {
	return fmt.Sprintf("%016x", highwayhash.Sum64(data, hashKey))
}

// ContentChecksum fingerprints page content. It is used for pages that
// enter the store without a remote checksum (imports); the next sync
// against the live remote treats them as changed and refetches them.
func ContentChecksum(lines []Line) string {
	data, _ := json.Marshal(lines)
	return Digest(data)
}
