package driver

import (
	"math/rand"
)

// Zone is a provider location grouped under a coarse area constraint.
type Zone struct {
	Name string
	Area string
}

// AreaAny matches every catalog zone.
const AreaAny = "any"

var zoneCatalog = []Zone{
	{Name: "us-central1-a", Area: "us"},
	{Name: "us-central1-b", Area: "us"},
	{Name: "us-central2-a", Area: "us"},
	{Name: "europe-west1-a", Area: "europe"},
}

// ZonesForArea returns the catalog zone names matching the area.
func ZonesForArea(area string) []string {
	var names []string
	for _, z := range zoneCatalog {
		if area == AreaAny || z.Area == area {
			names = append(names, z.Name)
		}
	}
	return names
}

// SelectZone picks a zone uniformly at random from the catalog subset
// for the area. The randomness source is passed in so callers can pin
// the choice.
func SelectZone(area string, rng *rand.Rand) (string, error) {
	zones := ZonesForArea(area)
	if len(zones) == 0 {
		return "", &ConfigurationError{Field: "area", Reason: "matches no zone: " + area}
	}
	return zones[rng.Intn(len(zones))], nil
}
