package jobs

import "github.com/yourusername/export-forge/internal/billing"

// キュー名。プランごとに分け、StrictPriority で上位プランを先に消化します。
const (
	queueScale       = "scale"
	queuePro         = "pro"
	queueFree        = "free"
	maintenanceQueue = "maintenance"
)

var exportQueues = []string{queueScale, queuePro, queueFree}

func queuePriorities() map[string]int {
	return map[string]int{
		queueScale:       6,
		queuePro:         3,
		queueFree:        2,
		maintenanceQueue: 1,
	}
}

// queueForTier は契約プランから投入先キューを決めます。不明なプランはfree扱いです。
func queueForTier(tier string) string {
	switch billing.NormalizeTier(tier) {
	case billing.TierScale:
		return queueScale
	case billing.TierPro:
		return queuePro
	default:
		return queueFree
	}
}
