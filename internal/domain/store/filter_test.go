package store

import (
	"testing"
	"time"
)

func TestFilterMatches(t *testing.T) {
	doc := Document{
		"id":         "doc-1",
		"tenant_id":  "acme",
		"state":      "completed",
		"reconciled": false,
		"count":      float64(3),
		"created_at": "2024-03-01T10:00:00Z",
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", Where(), true},
		{"eq string", Where(Eq("tenant_id", "acme")), true},
		{"eq mismatch", Where(Eq("tenant_id", "other")), false},
		{"eq bool", Where(Eq("reconciled", false)), true},
		{"eq int normalized", Where(Eq("count", 3)), true},
		{"eq missing field", Where(Eq("missing", "x")), false},
		{"neq", Where(Neq("state", "pending")), true},
		{"neq equal", Where(Neq("state", "completed")), false},
		{"neq missing field", Where(Neq("status", "paid")), true},
		{"gte number", Where(Gte("count", 3)), true},
		{"gte number above", Where(Gte("count", 4)), false},
		{"lte number", Where(Lte("count", 2.5)), false},
		{"gte string", Where(Gte("created_at", "2024-03-01T00:00:00Z")), true},
		{"lte string", Where(Lte("created_at", "2024-02-01T00:00:00Z")), false},
		{"gte time value", Where(Gte("created_at", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))), true},
		{"gte mixed types", Where(Gte("count", "3")), false},
		{"conjunction", Where(Eq("tenant_id", "acme"), Eq("state", "completed"), Eq("reconciled", false)), true},
		{"conjunction one fails", Where(Eq("tenant_id", "acme"), Eq("state", "pending")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(doc); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterSortField(t *testing.T) {
	field, desc := Where().SortBy("-started_at").SortField()
	if field != "started_at" || !desc {
		t.Errorf("SortField() = %q, %v; want started_at, true", field, desc)
	}

	field, desc = Where().SortBy("created_at").SortField()
	if field != "created_at" || desc {
		t.Errorf("SortField() = %q, %v; want created_at, false", field, desc)
	}
}

func TestEncodeDecode(t *testing.T) {
	type record struct {
		TenantID string `json:"tenant_id"`
		Count    int    `json:"count"`
	}

	doc, err := Encode(record{TenantID: "acme", Count: 2})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if doc["count"] != float64(2) {
		t.Errorf("count = %#v, want float64(2)", doc["count"])
	}

	var out record
	if err := Decode(doc, &out); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if out.TenantID != "acme" || out.Count != 2 {
		t.Errorf("Decode() = %+v", out)
	}
}

func TestEncodeTimestampsSortChronologically(t *testing.T) {
	type job struct {
		StartedAt time.Time `json:"started_at"`
		Reference string    `json:"reference"`
	}

	whole := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	half := whole.Add(-500 * time.Millisecond)

	a, err := Encode(job{StartedAt: whole, Reference: "2024-03-01T10:00:00Z"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	b, err := Encode(job{StartedAt: half})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if a["started_at"] != "2024-03-01T10:00:00.000000000Z" {
		t.Errorf("started_at = %v", a["started_at"])
	}
	if a["reference"] != "2024-03-01T10:00:00Z" {
		t.Errorf("non-timestamp field rewritten: %v", a["reference"])
	}
	if cmp, _ := Compare(b["started_at"], a["started_at"]); cmp >= 0 {
		t.Errorf("%v should sort before %v", b["started_at"], a["started_at"])
	}

	var out job
	if err := Decode(a, &out); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !out.StartedAt.Equal(whole) {
		t.Errorf("StartedAt = %v, want %v", out.StartedAt, whole)
	}
}

func TestNormalizeTimes(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	var nilTime *time.Time

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"time value", at, "2024-03-01T09:00:00.000000000Z"},
		{"time pointer", &at, "2024-03-01T09:00:00.000000000Z"},
		{"nil time pointer", nilTime, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize() = %#v, want %#v", got, tt.want)
			}
		})
	}

	patch, ok := Normalize(map[string]any{"synced_at": at, "state": "completed"}).(map[string]any)
	if !ok {
		t.Fatal("Normalize() did not return an object")
	}
	if patch["synced_at"] != "2024-03-01T09:00:00.000000000Z" {
		t.Errorf("synced_at = %v", patch["synced_at"])
	}
}
