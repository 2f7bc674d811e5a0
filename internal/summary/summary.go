// Package summary aggregates a window of stored samples into per-field
// statistics. Percentiles come from a DDSketch with 1% relative accuracy.
package summary

import (
	"fmt"
	"math"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/vesaa/hostpulse/internal/models"
)

// RelativeAccuracy of the percentile estimates.
const RelativeAccuracy = 0.01

// FieldStats describes one numeric column over the window.
type FieldStats struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// Summary is the response of /metrics/summary.
type Summary struct {
	Count         int        `json:"count"`
	From          time.Time  `json:"from"`
	To            time.Time  `json:"to"`
	CPUPercent    FieldStats `json:"cpu_percent"`
	MemoryPercent FieldStats `json:"memory_percent"`
	DiskPercent   FieldStats `json:"disk_percent"`
	NetworkSentMB FieldStats `json:"network_sent_mb"`
	NetworkRecvMB FieldStats `json:"network_recv_mb"`
}

// field accumulates running statistics for one column.
type field struct {
	count  int
	sum    float64
	min    float64
	max    float64
	sketch *ddsketch.DDSketch
}

func newField() (*field, error) {
	sketch, err := ddsketch.NewDefaultDDSketch(RelativeAccuracy)
	if err != nil {
		return nil, err
	}
	return &field{min: math.MaxFloat64, max: -math.MaxFloat64, sketch: sketch}, nil
}

func (f *field) add(v float64) error {
	f.count++
	f.sum += v
	f.min = math.Min(f.min, v)
	f.max = math.Max(f.max, v)
	return f.sketch.Add(v)
}

func (f *field) stats() (FieldStats, error) {
	qs, err := f.sketch.GetValuesAtQuantiles([]float64{0.5, 0.95, 0.99})
	if err != nil {
		return FieldStats{}, err
	}
	return FieldStats{
		Min: round2(f.min),
		Max: round2(f.max),
		Avg: round2(f.sum / float64(f.count)),
		// Clamp sketch estimates into the observed range.
		P50: round2(clamp(qs[0], f.min, f.max)),
		P95: round2(clamp(qs[1], f.min, f.max)),
		P99: round2(clamp(qs[2], f.min, f.max)),
	}, nil
}

// Build summarizes rows. It returns an error for an empty window.
func Build(rows []models.Sample) (*Summary, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty window")
	}

	fields := make([]*field, 5)
	for i := range fields {
		f, err := newField()
		if err != nil {
			return nil, fmt.Errorf("sketch: %w", err)
		}
		fields[i] = f
	}

	s := &Summary{Count: len(rows), From: rows[0].Timestamp, To: rows[0].Timestamp}
	for _, r := range rows {
		if r.Timestamp.Before(s.From) {
			s.From = r.Timestamp
		}
		if r.Timestamp.After(s.To) {
			s.To = r.Timestamp
		}
		values := []float64{r.CPUPercent, r.MemoryPercent, r.DiskPercent, r.NetworkSentMB, r.NetworkRecvMB}
		for i, v := range values {
			if err := fields[i].add(v); err != nil {
				return nil, fmt.Errorf("sketch add: %w", err)
			}
		}
	}

	targets := []*FieldStats{&s.CPUPercent, &s.MemoryPercent, &s.DiskPercent, &s.NetworkSentMB, &s.NetworkRecvMB}
	for i, dst := range targets {
		st, err := fields[i].stats()
		if err != nil {
			return nil, fmt.Errorf("quantiles: %w", err)
		}
		*dst = st
	}
	return s, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
