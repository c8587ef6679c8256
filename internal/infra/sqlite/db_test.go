package sqlite

import (
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordRequest_AndStats(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()

	entries := []AuditEntry{
		{RequestID: "r1", Principal: "alice", Endpoint: "/v1/query", StatusCode: 200, LatencyMs: 100, At: now},
		{RequestID: "r2", Principal: "alice", Endpoint: "/v1/query", StatusCode: 500, LatencyMs: 300, At: now},
		{RequestID: "r3", Principal: "bob", Endpoint: "/v1/query", StatusCode: 200, LatencyMs: 200, At: now},
	}
	for _, e := range entries {
		if err := db.RecordRequest(e); err != nil {
			t.Fatalf("RecordRequest(%v) error: %v", e, err)
		}
	}

	stats, err := db.Stats(now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", stats.TotalRequests)
	}
	if stats.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", stats.ErrorCount)
	}
	if stats.RequestsByUser["alice"] != 2 {
		t.Errorf("RequestsByUser[alice] = %d, want 2", stats.RequestsByUser["alice"])
	}
}

func TestRecordRequest_DuplicateIDIgnored(t *testing.T) {
	db := openTestDB(t)
	e := AuditEntry{RequestID: "dup", Principal: "alice", Endpoint: "/v1/query", StatusCode: 200, LatencyMs: 1, At: time.Now()}

	if err := db.RecordRequest(e); err != nil {
		t.Fatalf("first RecordRequest() error: %v", err)
	}
	if err := db.RecordRequest(e); err != nil {
		t.Fatalf("second RecordRequest() error: %v", err)
	}

	stats, err := db.Stats(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.TotalRequests != 1 {
		t.Errorf("TotalRequests = %d, want 1 (duplicate should be ignored)", stats.TotalRequests)
	}
}

func TestRecentForPrincipal(t *testing.T) {
	db := openTestDB(t)
	base := time.Now().Add(-time.Minute)

	for i := 0; i < 5; i++ {
		e := AuditEntry{
			RequestID: string(rune('a' + i)),
			Principal: "alice",
			Endpoint:  "/v1/query",
			StatusCode: 200,
			LatencyMs: int64(i),
			At:        base.Add(time.Duration(i) * time.Second),
		}
		if err := db.RecordRequest(e); err != nil {
			t.Fatalf("RecordRequest() error: %v", err)
		}
	}

	recent, err := db.RecentForPrincipal("alice", 3)
	if err != nil {
		t.Fatalf("RecentForPrincipal() error: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("len(recent) = %d, want 3", len(recent))
	}
	if recent[0].RequestID != "e" {
		t.Errorf("recent[0].RequestID = %q, want newest entry first", recent[0].RequestID)
	}
}
