package audit

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupLog(t *testing.T) *Log {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewLog(db)
}

func TestAppendAndQuery(t *testing.T) {
	auditLog := setupLog(t)
	ctx := context.Background()

	entries := []*Entry{
		{CustomerID: "cust-1", JobID: "job-1", Event: "export.enqueued"},
		{CustomerID: "cust-1", JobID: "job-1", Event: "export.completed"},
		{CustomerID: "cust-1", JobID: "job-2", Event: "export.enqueued"},
		{CustomerID: "cust-2", JobID: "job-3", Event: "export.enqueued"},
	}
	for _, entry := range entries {
		if err := auditLog.Append(ctx, entry); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := auditLog.Query(ctx, "cust-1", "", 100)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("customer query returned %d entries, want 3", len(got))
	}
	// 新しい順
	if got[0].Event != "export.enqueued" || got[0].JobID != "job-2" {
		t.Errorf("unexpected newest entry: %+v", got[0])
	}

	got, err = auditLog.Query(ctx, "cust-1", "job-1", 100)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("job query returned %d entries, want 2", len(got))
	}
}

func TestAppendRequiresEvent(t *testing.T) {
	auditLog := setupLog(t)
	if err := auditLog.Append(context.Background(), &Entry{CustomerID: "cust-1"}); err == nil {
		t.Errorf("expected append without event to fail")
	}
}
