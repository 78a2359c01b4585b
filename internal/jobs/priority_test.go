package jobs

import "testing"

func TestQueueForTier(t *testing.T) {
	cases := []struct {
		tier string
		want string
	}{
		{"SCALE", queueScale},
		{"scale", queueScale},
		{"PRO", queuePro},
		{"FREE", queueFree},
		{"", queueFree},
		{"enterprise", queueFree}, // 未知のプランはfree扱い
	}
	for _, tc := range cases {
		if got := queueForTier(tc.tier); got != tc.want {
			t.Errorf("queueForTier(%q) = %q, want %q", tc.tier, got, tc.want)
		}
	}
}

func TestQueuePrioritiesFavorHigherTiers(t *testing.T) {
	priorities := queuePriorities()
	if priorities[queueScale] <= priorities[queuePro] {
		t.Errorf("scale priority %d should exceed pro %d", priorities[queueScale], priorities[queuePro])
	}
	if priorities[queuePro] <= priorities[queueFree] {
		t.Errorf("pro priority %d should exceed free %d", priorities[queuePro], priorities[queueFree])
	}
	if priorities[maintenanceQueue] >= priorities[queueFree] {
		t.Errorf("maintenance queue should rank below export queues")
	}
}
