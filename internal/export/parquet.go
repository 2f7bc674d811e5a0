// Package export writes stored samples to Parquet files for offline analysis.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/vesaa/hostpulse/internal/models"
)

// SampleRow represents a sample in Parquet format.
type SampleRow struct {
	ID            int64   `parquet:"id"`
	TimestampUs   int64   `parquet:"timestamp_us"`
	CPUPercent    float64 `parquet:"cpu_percent"`
	MemoryPercent float64 `parquet:"memory_percent"`
	DiskPercent   float64 `parquet:"disk_percent"`
	NetworkSentMB float64 `parquet:"network_sent_mb"`
	NetworkRecvMB float64 `parquet:"network_recv_mb"`
	Hostname      string  `parquet:"hostname,zstd"`
}

// SampleToRow converts a Sample to a SampleRow.
func SampleToRow(s *models.Sample) SampleRow {
	return SampleRow{
		ID:            int64(s.ID),
		TimestampUs:   s.Timestamp.UnixMicro(),
		CPUPercent:    s.CPUPercent,
		MemoryPercent: s.MemoryPercent,
		DiskPercent:   s.DiskPercent,
		NetworkSentMB: s.NetworkSentMB,
		NetworkRecvMB: s.NetworkRecvMB,
		Hostname:      s.Hostname,
	}
}

// RowToSample converts a SampleRow back to a Sample.
func RowToSample(r *SampleRow) models.Sample {
	return models.Sample{
		ID:            uint(r.ID),
		Timestamp:     time.UnixMicro(r.TimestampUs).UTC(),
		CPUPercent:    r.CPUPercent,
		MemoryPercent: r.MemoryPercent,
		DiskPercent:   r.DiskPercent,
		NetworkSentMB: r.NetworkSentMB,
		NetworkRecvMB: r.NetworkRecvMB,
		Hostname:      r.Hostname,
	}
}

// WriteFile writes samples to path with zstd compression, creating parent
// directories as needed. It returns the number of rows written.
func WriteFile(path string, samples []models.Sample) (int, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("create directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	w := parquet.NewGenericWriter[SampleRow](f, parquet.Compression(&parquet.Zstd))
	rows := make([]SampleRow, len(samples))
	for i := range samples {
		rows[i] = SampleToRow(&samples[i])
	}
	n, err := w.Write(rows)
	if err != nil {
		return n, fmt.Errorf("write rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("close writer: %w", err)
	}
	return n, f.Close()
}

// ReadFile reads every sample from a file written by WriteFile.
func ReadFile(path string) ([]models.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[SampleRow](f, parquet.ReadBufferSize(1024*1024))
	defer reader.Close()

	rows := make([]SampleRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	out := make([]models.Sample, n)
	for i := 0; i < n; i++ {
		out[i] = RowToSample(&rows[i])
	}
	return out, nil
}
