// Package models defines GORM data models for HostPulse.
package models

import (
	"time"
)

// Reading is an in-memory, not yet persisted metrics snapshot.
type Reading struct {
	Timestamp time.Time // UTC, set by the sampler

	// ── Utilization (percent 0-100, 2 decimals) ─────────────────────────────
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64

	// ── Network transfer since process start (MB, 2 decimals, >= 0) ─────────
	NetworkSentMB float64
	NetworkRecvMB float64

	Hostname string
}

// Sample is a Reading plus its store-assigned identity.
// Rows are append-only: no update or delete path exists.
type Sample struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp     time.Time `gorm:"index;not null" json:"timestamp"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`
	NetworkSentMB float64   `gorm:"column:network_sent_mb" json:"network_sent_mb"`
	NetworkRecvMB float64   `gorm:"column:network_recv_mb" json:"network_recv_mb"`
	Hostname      string    `json:"hostname"`
}

// TableName pins the table name used by the store.
func (Sample) TableName() string { return "system_metrics" }

// NewSample copies a Reading into an unsaved Sample (ID zero).
func NewSample(r Reading) Sample {
	return Sample{
		Timestamp:     r.Timestamp.UTC(),
		CPUPercent:    r.CPUPercent,
		MemoryPercent: r.MemoryPercent,
		DiskPercent:   r.DiskPercent,
		NetworkSentMB: r.NetworkSentMB,
		NetworkRecvMB: r.NetworkRecvMB,
		Hostname:      r.Hostname,
	}
}

// Reading returns the sample's measured values without its identity.
func (s Sample) Reading() Reading {
	return Reading{
		Timestamp:     s.Timestamp,
		CPUPercent:    s.CPUPercent,
		MemoryPercent: s.MemoryPercent,
		DiskPercent:   s.DiskPercent,
		NetworkSentMB: s.NetworkSentMB,
		NetworkRecvMB: s.NetworkRecvMB,
		Hostname:      s.Hostname,
	}
}

// MetricResponse is the DTO returned by every metric endpoint.
// ID is null for ephemeral reads that never reached the store.
type MetricResponse struct {
	ID            *uint     `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`
	NetworkSentMB float64   `json:"network_sent_mb"`
	NetworkRecvMB float64   `json:"network_recv_mb"`
	Hostname      string    `json:"hostname"`
}

// ResponseFromReading builds an ephemeral response (id null).
func ResponseFromReading(r Reading) MetricResponse {
	return MetricResponse{
		Timestamp:     r.Timestamp,
		CPUPercent:    r.CPUPercent,
		MemoryPercent: r.MemoryPercent,
		DiskPercent:   r.DiskPercent,
		NetworkSentMB: r.NetworkSentMB,
		NetworkRecvMB: r.NetworkRecvMB,
		Hostname:      r.Hostname,
	}
}

// ResponseFromSample builds a response for a stored sample.
func ResponseFromSample(s Sample) MetricResponse {
	resp := ResponseFromReading(s.Reading())
	id := s.ID
	resp.ID = &id
	return resp
}
