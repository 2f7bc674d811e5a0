// Package agent implements the HostPulse agent loop.
// It periodically asks a HostPulse server to collect and persist a sample.
// Every outbound request carries: X-API-Key: <key>
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vesaa/hostpulse/internal/models"
	"go.uber.org/zap"
)

// Options configures Run.
type Options struct {
	// Server is the base URL, e.g. "http://10.0.0.5:8000".
	Server   string
	APIKey   string
	Interval time.Duration
	Client   *http.Client
	Logger   *zap.Logger
}

// ErrRejected is returned when the server refuses the API key.
var ErrRejected = errors.New("server rejected API key (401): check --key or api_key in config")

// Run triggers a collection immediately and then every Interval until ctx is
// cancelled. Failed triggers are logged and retried on the next tick, except
// for a rejected key, which stops the loop.
func Run(ctx context.Context, opts Options) error {
	if opts.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", opts.Interval)
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("agent")

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	log.Info("reporting", zap.String("server", opts.Server), zap.Duration("interval", opts.Interval))
	for {
		sample, err := Trigger(ctx, opts.Client, opts.Server, opts.APIKey)
		switch {
		case errors.Is(err, ErrRejected):
			return err
		case err != nil && ctx.Err() == nil:
			log.Warn("collect trigger failed", zap.Error(err))
		case err == nil:
			log.Info("sample stored", zap.Uintp("id", sample.ID), zap.Float64("cpu_percent", sample.CPUPercent))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Trigger sends POST /metrics/collect with the API key header and returns the
// stored sample.
func Trigger(ctx context.Context, client *http.Client, base, key string) (*models.MetricResponse, error) {
	url := strings.TrimRight(base, "/") + "/metrics/collect"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", key)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrRejected
	}
	if resp.StatusCode >= 400 {
		var body struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &body) == nil && body.Error != "" {
			return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
		}
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var sample models.MetricResponse
	if err := json.NewDecoder(resp.Body).Decode(&sample); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &sample, nil
}
