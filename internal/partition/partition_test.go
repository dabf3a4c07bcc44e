package partition

import (
	"sort"
	"testing"
	"time"
)

func TestRouteTurn_PartitionIsRun(t *testing.T) {
	if pk := RouteTurn("t1", "r1"); pk != "r1" {
		t.Errorf("expected partition key 'r1', got %q", pk)
	}
}

func TestRouteRun_PartitionIsTenant(t *testing.T) {
	if pk := RouteRun("t1"); pk != "t1" {
		t.Errorf("expected partition key 't1', got %q", pk)
	}
}

func TestRowKey_LexicographicOrderIsChronological(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{
		base.Add(9 * time.Millisecond),
		base.Add(10 * time.Millisecond),
		base.Add(100 * time.Millisecond),
		base.Add(time.Second),
		base.Add(time.Minute),
		base.AddDate(0, 0, 1),
	}

	keys := make([]string, len(times))
	for i, at := range times {
		keys[i] = RowKey(at, "tn1")
	}

	if !sort.StringsAreSorted(keys) {
		t.Errorf("row keys not in chronological order: %v", keys)
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Errorf("row key %q not strictly before %q", keys[i-1], keys[i])
		}
	}
}

func TestRowKey_RoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 45, 123_000_000, time.UTC)
	key := RowKey(at, "turn-abc")

	gotAt, gotID, err := SplitRowKey(key)
	if err != nil {
		t.Fatalf("SplitRowKey(%q): %v", key, err)
	}
	if !gotAt.Equal(at) {
		t.Errorf("expected timestamp %v, got %v", at, gotAt)
	}
	if gotID != "turn-abc" {
		t.Errorf("expected id 'turn-abc', got %q", gotID)
	}
}

func TestSplitRowKey_Malformed(t *testing.T) {
	for _, key := range []string{"", "no-separator", "not-a-time|id"} {
		if _, _, err := SplitRowKey(key); err == nil {
			t.Errorf("expected error for row key %q", key)
		}
	}
}

func TestRowKey_NonUTCNormalized(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	at := time.Date(2026, 3, 1, 20, 0, 0, 0, loc)

	key := RowKey(at, "tn1")
	gotAt, _, err := SplitRowKey(key)
	if err != nil {
		t.Fatalf("SplitRowKey: %v", err)
	}
	if !gotAt.Equal(at) {
		t.Errorf("expected instant %v, got %v", at.UTC(), gotAt)
	}
}

func TestBlobPaths(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if got := AgentDefPath("t1", "a1"); got != "agent-defs/t1/a1.json" {
		t.Errorf("AgentDefPath: got %q", got)
	}
	want := "runs/t1/r1/turns/2026-03-01T12:00:00.000Z_tn1.json"
	if got := TurnBlobPath("t1", "r1", at, "tn1"); got != want {
		t.Errorf("TurnBlobPath: got %q, want %q", got, want)
	}
	if got := ArtifactPath("t1", "r1", "art1"); got != "artifacts/t1/r1/art1" {
		t.Errorf("ArtifactPath: got %q", got)
	}
}

func TestTurnBlobPath_DeterministicForRetries(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := TurnBlobPath("t1", "r1", at, "tn1")
	second := TurnBlobPath("t1", "r1", at, "tn1")
	if first != second {
		t.Errorf("retried path differs: %q vs %q", first, second)
	}
}
