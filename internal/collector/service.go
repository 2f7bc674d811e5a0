// Package collector orchestrates the sampler and the metric store: ephemeral
// reads, collect-and-persist, and the latest/history/summary queries.
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/vesaa/hostpulse/internal/apperr"
	"github.com/vesaa/hostpulse/internal/models"
	"github.com/vesaa/hostpulse/internal/summary"
	"github.com/vesaa/hostpulse/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Sampler produces one reading of the host.
type Sampler interface {
	Collect(ctx context.Context) (models.Reading, error)
}

// Store is the subset of the metric store the service needs.
type Store interface {
	Append(ctx context.Context, r models.Reading) (*models.Sample, error)
	Latest(ctx context.Context) (*models.Sample, bool, error)
	History(ctx context.Context, sinceHours, limit int) ([]models.Sample, error)
}

// LatestCache is an optional read-through cache of the newest sample.
type LatestCache interface {
	Get(ctx context.Context) (*models.Sample, bool, error)
	Offer(ctx context.Context, s *models.Sample) error
	// Reset overwrites the entry with s, or clears it when s is nil.
	Reset(ctx context.Context, s *models.Sample) error
}

// Options wires the optional collaborators.
type Options struct {
	// Timeout bounds every operation; zero means no extra bound.
	Timeout time.Duration
	Cache   LatestCache
	Metrics *telemetry.Metrics
	Logger  *zap.Logger
}

// Service is safe for concurrent use; it holds no per-request state.
type Service struct {
	sampler Sampler
	store   Store
	cache   LatestCache
	metrics *telemetry.Metrics
	log     *zap.Logger
	timeout time.Duration

	current singleflight.Group
}

// New builds a Service around a sampler constructed once at startup.
func New(s Sampler, st Store, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		sampler: s,
		store:   st,
		cache:   opts.Cache,
		metrics: opts.Metrics,
		log:     log.Named("collector"),
		timeout: opts.Timeout,
	}
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) sample(ctx context.Context) (models.Reading, error) {
	start := time.Now()
	r, err := s.sampler.Collect(ctx)
	s.metrics.ObserveSample(time.Since(start))
	if err != nil {
		return models.Reading{}, wrapUnavailable(err)
	}
	return r, nil
}

// ReadCurrent samples the host without touching the store. Concurrent callers
// share one in-flight sample instead of each blocking for the CPU window.
func (s *Service) ReadCurrent(ctx context.Context) (models.Reading, error) {
	ch := s.current.DoChan("current", func() (any, error) {
		// Detached from any single caller so one disconnect does not fail the others.
		sctx, cancel := s.bound(context.WithoutCancel(ctx))
		defer cancel()
		return s.sample(sctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return models.Reading{}, res.Err
		}
		return res.Val.(models.Reading), nil
	case <-ctx.Done():
		return models.Reading{}, fmt.Errorf("%w: read current: %w", apperr.ErrUnavailable, ctx.Err())
	}
}

// CollectAndPersist samples the host and appends the reading. Either both
// steps succeed or nothing is stored.
func (s *Service) CollectAndPersist(ctx context.Context) (*models.Sample, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	stored, err := s.collectAndPersist(ctx)
	s.metrics.ObserveCollect(err)
	if err != nil {
		s.log.Warn("collect failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", apperr.ErrCollectionFailed, err)
	}

	if s.cache != nil {
		if err := s.cache.Offer(ctx, stored); err != nil {
			s.metrics.CacheError()
			s.log.Warn("cache offer failed", zap.Error(err))
		}
	}
	s.log.Debug("sample stored", zap.Uint("id", stored.ID), zap.Float64("cpu_percent", stored.CPUPercent))
	return stored, nil
}

func (s *Service) collectAndPersist(ctx context.Context) (*models.Sample, error) {
	r, err := s.sample(ctx)
	if err != nil {
		return nil, err
	}
	stored, err := s.store.Append(ctx, r)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	return stored, nil
}

// SyncCache seeds the latest-sample cache from the store, clearing it when the
// store is empty. Call it once at startup before serving reads.
func (s *Service) SyncCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	latest, ok, err := s.store.Latest(ctx)
	if err != nil {
		return wrapUnavailable(err)
	}
	if !ok {
		latest = nil
	}
	if err := s.cache.Reset(ctx, latest); err != nil {
		s.metrics.CacheError()
		return fmt.Errorf("cache reset: %w", err)
	}
	return nil
}

// GetLatest returns the newest sample, or ErrNotFound if the store is empty.
func (s *Service) GetLatest(ctx context.Context) (*models.Sample, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx)
		switch {
		case err != nil:
			s.metrics.CacheError()
			s.log.Warn("cache get failed, using store", zap.Error(err))
		case ok:
			return cached, nil
		}
	}

	latest, ok, err := s.store.Latest(ctx)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: no metrics found", apperr.ErrNotFound)
	}
	return latest, nil
}

// GetHistory returns samples of the last hours hours, newest first. An empty
// window is reported as ErrNotFound rather than an empty list.
func (s *Service) GetHistory(ctx context.Context, hours, limit int) ([]models.Sample, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.store.History(ctx, hours, limit)
	if err != nil {
		if apperr.IsValidation(err) {
			return nil, err
		}
		return nil, wrapUnavailable(err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no metrics found for the last %d hours", apperr.ErrNotFound, hours)
	}
	return rows, nil
}

// GetSummary aggregates the same window GetHistory would return.
func (s *Service) GetSummary(ctx context.Context, hours, limit int) (*summary.Summary, error) {
	rows, err := s.GetHistory(ctx, hours, limit)
	if err != nil {
		return nil, err
	}
	sum, err := summary.Build(rows)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	return sum, nil
}

// wrapUnavailable tags errors that do not already carry a kind; context
// expiry while waiting on the sampler or store also becomes ErrUnavailable.
func wrapUnavailable(err error) error {
	if apperr.IsUnavailable(err) || apperr.IsNotFound(err) || apperr.IsValidation(err) {
		return err
	}
	return fmt.Errorf("%w: %w", apperr.ErrUnavailable, err)
}
