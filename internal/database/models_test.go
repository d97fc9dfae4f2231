package database

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNullIP(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool // non-NULL
	}{
		{"ipv4", "192.0.2.10", true},
		{"ipv6", "2001:db8::1", true},
		{"placeholder", "unknown", false},
		{"empty", "", false},
		{"hostname", "uploader.example.com", false},
		{"garbage", "10.0.0.1; DROP TABLE", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nullIP(tt.in)
			if (got != nil) != tt.want {
				t.Errorf("nullIP(%q) = %v, want non-NULL=%v", tt.in, got, tt.want)
			}
			if got != nil && *got != tt.in {
				t.Errorf("nullIP(%q) = %q, want unchanged", tt.in, *got)
			}
		})
	}
}

// The analysis response is consumed by external tooling; its field
// names are part of the API.
func TestSourceAnalysisJSON(t *testing.T) {
	seen := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	analysis := SourceAnalysis{
		SourceSystem: "pd-east",
		UploadStats: UploadStatsRow{
			TotalUploads: 42,
			UniqueIPs:    2,
			FirstSeen:    &seen,
			LastSeen:     &seen,
		},
		SecurityStats: EventStatsRow{TotalEvents: 5, Violations: 1, UploadEvents: 4},
		IPAddresses:   []IPUploadCount{{SourceIP: "192.0.2.10", UploadCount: 42}},
		RecentEvents:  []SecurityEvent{},
	}

	data, err := json.Marshal(analysis)
	if err != nil {
		t.Fatalf("Marshal() = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() = %v", err)
	}

	for _, key := range []string{
		"system_id", "upload_statistics", "security_statistics",
		"ip_addresses", "recent_events",
	} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing top-level key %q", key)
		}
	}

	uploads, ok := decoded["upload_statistics"].(map[string]any)
	if !ok {
		t.Fatal("upload_statistics is not an object")
	}
	for _, key := range []string{"total_uploads", "unique_ips", "first_seen", "last_seen"} {
		if _, ok := uploads[key]; !ok {
			t.Errorf("missing upload_statistics key %q", key)
		}
	}

	ips, ok := decoded["ip_addresses"].([]any)
	if !ok || len(ips) != 1 {
		t.Fatalf("ip_addresses = %v", decoded["ip_addresses"])
	}
	ip := ips[0].(map[string]any)
	if ip["upload_source_ip"] != "192.0.2.10" || ip["upload_count"] != float64(42) {
		t.Errorf("ip_addresses[0] = %v", ip)
	}
}
