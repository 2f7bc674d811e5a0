// Package sampler implements host metric collection for HostPulse.
// It uses gopsutil for cross-platform system telemetry.
package sampler

import (
	"context"
	"fmt"
	"math"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
	"github.com/vesaa/hostpulse/internal/apperr"
	"github.com/vesaa/hostpulse/internal/models"
)

const (
	// DefaultCPUWindow is the averaging window of the CPU percentage read.
	DefaultCPUWindow = time.Second
	// DefaultDiskPath is the filesystem whose usage is reported.
	DefaultDiskPath = "/"

	bytesPerMB = 1024 * 1024
)

// Source reads raw OS counters. HostSource is the gopsutil implementation.
type Source interface {
	// CPUPercent blocks for window and returns the average utilization over it.
	CPUPercent(ctx context.Context, window time.Duration) (float64, error)
	MemoryPercent(ctx context.Context) (float64, error)
	DiskPercent(ctx context.Context, path string) (float64, error)
	// NetCounters returns cumulative bytes sent/received across all interfaces.
	NetCounters(ctx context.Context) (sent, recv uint64, err error)
	Hostname() (string, error)
}

// Options tunes a Sampler. Zero values fall back to the defaults above.
type Options struct {
	CPUWindow time.Duration
	DiskPath  string
}

// Sampler produces Readings. The network baseline is captured once in New and
// never changes afterwards, so Collect is safe for concurrent use without locks.
type Sampler struct {
	src      Source
	window   time.Duration
	diskPath string

	baseSent uint64
	baseRecv uint64

	now func() time.Time
}

// New captures the network baseline and returns a ready-to-use Sampler.
func New(ctx context.Context, src Source, opts Options) (*Sampler, error) {
	if opts.CPUWindow <= 0 {
		opts.CPUWindow = DefaultCPUWindow
	}
	if opts.DiskPath == "" {
		opts.DiskPath = DefaultDiskPath
	}

	sent, recv, err := src.NetCounters(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: network baseline: %w", apperr.ErrUnavailable, err)
	}

	return &Sampler{
		src:      src,
		window:   opts.CPUWindow,
		diskPath: opts.DiskPath,
		baseSent: sent,
		baseRecv: recv,
		now:      time.Now,
	}, nil
}

// Window is the configured CPU averaging window.
func (s *Sampler) Window() time.Duration { return s.window }

// Baseline returns the network counters captured at construction.
func (s *Sampler) Baseline() (sent, recv uint64) { return s.baseSent, s.baseRecv }

// Collect gathers the current reading. It blocks for the CPU window.
func (s *Sampler) Collect(ctx context.Context) (models.Reading, error) {
	r := models.Reading{Timestamp: s.now().UTC()}

	// CPU
	cpuPct, err := s.src.CPUPercent(ctx, s.window)
	if err != nil {
		return models.Reading{}, unavailable("cpu", err)
	}
	if r.CPUPercent, err = percent("cpu", cpuPct); err != nil {
		return models.Reading{}, err
	}

	// Memory
	memPct, err := s.src.MemoryPercent(ctx)
	if err != nil {
		return models.Reading{}, unavailable("memory", err)
	}
	if r.MemoryPercent, err = percent("memory", memPct); err != nil {
		return models.Reading{}, err
	}

	// Disk
	diskPct, err := s.src.DiskPercent(ctx, s.diskPath)
	if err != nil {
		return models.Reading{}, unavailable("disk "+s.diskPath, err)
	}
	if r.DiskPercent, err = percent("disk", diskPct); err != nil {
		return models.Reading{}, err
	}

	// Network (delta against the baseline)
	sent, recv, err := s.src.NetCounters(ctx)
	if err != nil {
		return models.Reading{}, unavailable("network", err)
	}
	r.NetworkSentMB = deltaMB(sent, s.baseSent)
	r.NetworkRecvMB = deltaMB(recv, s.baseRecv)

	// Hostname
	if r.Hostname, err = s.src.Hostname(); err != nil {
		return models.Reading{}, unavailable("hostname", err)
	}

	return r, nil
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func unavailable(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", apperr.ErrUnavailable, what, err)
}

// percent clamps an OS-reported percentage into [0,100]; NaN and Inf are rejected.
func percent(what string, v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s reported %v", apperr.ErrUnavailable, what, v)
	}
	return round2(math.Min(100, math.Max(0, v))), nil
}

// deltaMB converts a counter delta to MB. A counter below its baseline
// (interface restart, wraparound) reports 0.
func deltaMB(cur, base uint64) float64 {
	if cur < base {
		return 0
	}
	return round2(float64(cur-base) / bytesPerMB)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ─── gopsutil source ──────────────────────────────────────────────────────────

// HostSource reads counters of the local machine via gopsutil.
type HostSource struct{}

// CPUPercent averages all CPUs over window.
func (HostSource) CPUPercent(ctx context.Context, window time.Duration) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, window, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, fmt.Errorf("no cpu data")
	}
	return pcts[0], nil
}

// MemoryPercent is used vs total physical memory.
func (HostSource) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// DiskPercent is the used percentage of the filesystem mounted at path.
func (HostSource) DiskPercent(ctx context.Context, path string) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent, nil
}

// NetCounters aggregates all interfaces.
func (HostSource) NetCounters(ctx context.Context) (uint64, uint64, error) {
	stats, err := psnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return 0, 0, err
	}
	if len(stats) == 0 {
		return 0, 0, fmt.Errorf("no network counters")
	}
	return stats[0].BytesSent, stats[0].BytesRecv, nil
}

// Hostname resolves the machine name on every call.
func (HostSource) Hostname() (string, error) {
	return os.Hostname()
}

// Platform returns a descriptive OS version string, or runtime.GOOS as fallback.
func Platform(ctx context.Context) string {
	info, err := host.InfoWithContext(ctx)
	if err == nil && info.Platform != "" {
		if info.PlatformVersion != "" {
			return fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion) // e.g., "debian 12.5"
		}
		return info.Platform
	}
	return runtime.GOOS
}
