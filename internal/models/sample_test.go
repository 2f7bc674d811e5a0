package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEphemeralResponseHasNullID(t *testing.T) {
	r := Reading{Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), CPUPercent: 12.5, Hostname: "box"}
	b, err := json.Marshal(ResponseFromReading(r))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"id":null`) {
		t.Fatalf("expected null id, got %s", b)
	}
	for _, key := range []string{"timestamp", "cpu_percent", "memory_percent", "disk_percent", "network_sent_mb", "network_recv_mb", "hostname"} {
		if !strings.Contains(string(b), `"`+key+`"`) {
			t.Errorf("missing field %q in %s", key, b)
		}
	}
}

func TestNewSampleNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("X", 3*3600)
	r := Reading{Timestamp: time.Date(2026, 1, 2, 6, 0, 0, 0, loc), NetworkSentMB: 150.25}
	s := NewSample(r)
	if s.Timestamp.Location() != time.UTC || s.Timestamp.Hour() != 3 {
		t.Fatalf("timestamp not UTC: %v", s.Timestamp)
	}
	if s.ID != 0 {
		t.Fatal("unsaved sample must have zero id")
	}
	s.ID = 7
	resp := ResponseFromSample(s)
	if resp.ID == nil || *resp.ID != 7 || resp.NetworkSentMB != 150.25 {
		t.Fatalf("unexpected response %+v", resp)
	}
}
