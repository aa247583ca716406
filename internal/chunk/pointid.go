package chunk

import "github.com/google/uuid"

// Namespace is the fixed repository-wide UUID namespace for point IDs.
// Changing it invalidates every point in every existing collection.
var Namespace = uuid.MustParse("8f1c9a52-3de4-4b6f-9d07-5b1a6c2e8d43")

// PointID derives the deterministic vector point ID for a chunk key.
// The same key always yields the same UUID (RFC 4122 version 5).
func PointID(key string) string {
	return uuid.NewSHA1(Namespace, []byte(key)).String()
}
