package jobs

import (
	"testing"
	"time"

	"github.com/yourusername/export-forge/internal/config"
)

func TestExportTimeoutFromConfig(t *testing.T) {
	m := &Manager{cfg: &config.Config{ExportTimeoutMinutes: 45}}
	if got := m.exportTimeout(); got != 45*time.Minute {
		t.Errorf("exportTimeout = %v, want 45m", got)
	}
}

func TestExportTimeoutDefault(t *testing.T) {
	// 未設定（0以下）は既定の30分に倒す
	m := &Manager{cfg: &config.Config{}}
	if got := m.exportTimeout(); got != 30*time.Minute {
		t.Errorf("exportTimeout = %v, want 30m", got)
	}
}
