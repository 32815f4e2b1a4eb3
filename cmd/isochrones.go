package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warpaintvision/shopsite/internal/api"
	"github.com/warpaintvision/shopsite/internal/isochrone"
	"github.com/warpaintvision/shopsite/internal/resilience"
)

var (
	isoArea    string
	isoRange   int
	isoSources sourceFlags
)

var isochronesCmd = &cobra.Command{
	Use:   "isochrones",
	Short: "Import walking isochrones for every school in an area",
	Long:  "Fetches walking isochrones from openrouteservice in small paced batches and caches them by school and range.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("isochrones"); err != nil {
			return err
		}

		e, err := newEnv(ctx, cfg, isoSources)
		if err != nil {
			return err
		}
		defer e.Close()

		rangeSeconds := isoRange
		if rangeSeconds == 0 {
			rangeSeconds = cfg.Suitability.RangeSeconds
		}

		stats, err := runIsochrones(ctx, e, isochroneClient(e), isoArea, rangeSeconds)
		if err != nil {
			return err
		}

		fmt.Printf("Imported isochrones for %s: %d anchors, %d batches (%d failed), %d stored, %d missing\n",
			isoArea, stats.Anchors, stats.Batches, stats.FailedBatches, stats.Stored, stats.Missing)
		return nil
	},
}

func isochroneClient(e *env) *isochrone.ORSClient {
	c := e.cfg.Isochrone
	opts := []isochrone.Option{
		isochrone.WithBaseURL(c.BaseURL),
		isochrone.WithProfile(c.Profile),
		isochrone.WithRateLimit(c.RequestsPerMinute),
		isochrone.WithRetryAfter(time.Duration(c.RetryAfterSecs) * time.Second),
	}
	if c.MaxAttempts > 0 {
		retry := resilience.DefaultRetryConfig()
		retry.MaxAttempts = c.MaxAttempts
		retry.OnRetry = resilience.RetryLogger("openrouteservice", "isochrones")
		opts = append(opts, isochrone.WithRetry(retry))
	}
	return isochrone.NewORSClient(c.APIKey, opts...)
}

// runIsochrones imports isochrones for the named area, then drops cached
// suitability responses so the next request sees the new service areas.
func runIsochrones(ctx context.Context, e *env, fetcher isochrone.Fetcher, area string, rangeSeconds int) (*isochrone.ImportStats, error) {
	bbox, err := lookupArea(e.cfg, area)
	if err != nil {
		return nil, err
	}
	store, err := e.isochroneStore(ctx)
	if err != nil {
		return nil, err
	}

	c := e.cfg.Isochrone
	im := isochrone.NewImporter(e.source, fetcher, store, e.kernel,
		isochrone.WithBatchSize(c.BatchSize),
		isochrone.WithBatchPause(time.Duration(c.BatchPauseMs)*time.Millisecond),
	)
	stats, err := im.Run(ctx, bbox, rangeSeconds)
	if err != nil {
		return stats, err
	}

	if e.cfg.Cache.Backend == "redis" {
		cache, err := e.responseCache(ctx)
		if err != nil {
			zap.L().Warn("response cache unavailable, cached results were not invalidated", zap.Error(err))
		} else {
			cache.Invalidate(ctx, api.CacheKey(area))
		}
	}
	return stats, nil
}

func init() {
	isochronesCmd.Flags().StringVar(&isoArea, "area", "szeged", "configured area to import")
	isochronesCmd.Flags().IntVar(&isoRange, "range", 0, "isochrone range in seconds (default suitability.range_seconds)")
	addSourceFlags(isochronesCmd, &isoSources)
	rootCmd.AddCommand(isochronesCmd)
}
