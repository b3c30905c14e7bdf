package driver

import "github.com/google/uuid"

// Instance names must fit in a DNS label (63 characters). A generated
// name is base + "-" + canonical UUID; 37 characters of that are the
// separator and the UUID, so the base is cut down when it would not
// leave room for the suffix.
const (
	maxNameLength  = 63
	suffixOverhead = 37
	nameThreshold  = maxNameLength - suffixOverhead + 2
)

// GenerateInstName appends a fresh UUID to the base name, truncating
// the base first when it is too long. Repeated calls with the same
// base never collide.
func GenerateInstName(base string) string {
	if len(base) >= nameThreshold {
		base = base[:nameThreshold-1]
	}
	return base + "-" + uuid.NewString()
}
