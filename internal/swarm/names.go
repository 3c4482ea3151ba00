package swarm

import (
	"strings"

	"github.com/google/uuid"
)

// namePool is the fixed pool of agent names. Generated suffixes are used
// only when the pool is exhausted so that day-to-day fleets read well in
// logs and mail.
var namePool = []string{
	"BlueLake", "GreenCastle", "RedStone", "BrownOtter", "SilverBirch",
	"GoldenHawk", "GrayWolf", "AmberFox", "IvoryCrane", "CopperField",
	"VioletMarsh", "CrimsonPeak", "JadeHarbor", "PearlRiver", "OnyxRidge",
	"CoralBay", "SlateCliff", "MapleGrove", "CedarPoint", "WillowBend",
}

// PickName returns an unused name from the pool, or a pool name with a
// short generated suffix when every pool name is taken.
func PickName(taken map[string]bool) string {
	for _, name := range namePool {
		if !taken[name] {
			return name
		}
	}
	suffix := strings.ToUpper(uuid.NewString()[:8])
	return namePool[0] + "-" + suffix
}
