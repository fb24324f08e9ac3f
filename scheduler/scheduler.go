// Package scheduler drives the fetch-extract-reconcile cycle across a
// fixed URL set. Passes are sequential with a fixed inter-request delay;
// one bad listing never aborts the rest of a pass.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flatwatch/flatwatch/config"
	"github.com/flatwatch/flatwatch/extract"
	"github.com/flatwatch/flatwatch/fetch"
	"github.com/flatwatch/flatwatch/models"
	"github.com/flatwatch/flatwatch/reconcile"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Fetcher retrieves one listing page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, fetch.Status, error)
}

// Reconciler applies one scraped record to stored state.
type Reconciler interface {
	Reconcile(ctx context.Context, rec models.ScrapedRecord) (reconcile.Result, error)
}

// PassSummary reports one sweep over the URL set.
type PassSummary struct {
	Attempted int
	Succeeded int
	Started   time.Time
	Finished  time.Time
}

// Scheduler runs the scrape loop.
type Scheduler struct {
	cfg     *config.Config
	fetcher Fetcher
	engine  Reconciler
	logger  *slog.Logger
	Metrics *Metrics

	// gone remembers URLs the source declared permanently removed, so the
	// next passes skip refetching them while the entry lives.
	gone *expirable.LRU[string, time.Time]

	now func() time.Time
}

// New builds a Scheduler.
func New(cfg *config.Config, fetcher Fetcher, engine Reconciler) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		fetcher: fetcher,
		engine:  engine,
		logger:  slog.Default(),
		Metrics: NewMetrics(),
		gone:    expirable.NewLRU[string, time.Time](cfg.GoneCacheSize, nil, cfg.GoneCacheTTL),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one pass immediately, then one pass per configured
// interval until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runPass(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runPass(ctx)
		}
	}
}

// runPass sweeps the full URL set once. Failures are per-URL: logged,
// counted, and skipped past.
func (s *Scheduler) runPass(ctx context.Context) PassSummary {
	summary := PassSummary{Started: s.now()}

	for i, url := range s.cfg.URLs {
		if i > 0 {
			if !s.sleep(ctx, s.cfg.Delay) {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		summary.Attempted++
		if err := s.processURL(ctx, url); err != nil {
			s.logger.Error("listing scrape failed",
				slog.String("url", url),
				slog.Any("error", err),
			)
			continue
		}
		summary.Succeeded++
	}

	summary.Finished = s.now()
	s.Metrics.IncPass()
	s.logger.Info("pass complete",
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("attempted", summary.Attempted),
		slog.Duration("took", summary.Finished.Sub(summary.Started)),
	)
	return summary
}

func (s *Scheduler) processURL(ctx context.Context, url string) error {
	extractor, err := extract.ForURL(url)
	if err != nil {
		s.Metrics.IncURL("unsupported")
		return err
	}

	if _, known := s.gone.Get(url); known {
		// Removal is terminal; nothing new to learn until the cache entry
		// expires.
		s.Metrics.IncURL("skipped_gone")
		s.logger.Debug("skipping removed listing", slog.String("url", url))
		return nil
	}

	start := s.now()
	body, status, err := s.fetcher.Fetch(ctx, url)
	s.Metrics.ObserveFetch(time.Since(start))

	switch status {
	case fetch.StatusGone:
		s.Metrics.IncURL("gone")
		if err := s.reconcileRecord(ctx, models.ScrapedRecord{
			SourceURL:    url,
			SourceSite:   extractor.Site(),
			Availability: models.AvailabilityDeleted,
			ObservedAt:   s.now(),
		}); err != nil {
			// Not cached: the removal must land in the store before the URL
			// stops being refetched. A failed flip is retried next pass.
			return err
		}
		s.gone.Add(url, s.now())
		return nil

	case fetch.StatusTransient:
		// No state change; the URL is retried on the next pass.
		s.Metrics.IncURL("transient_error")
		s.logger.Warn("transient fetch failure",
			slog.String("url", url),
			slog.String("category", fetch.TypeLabel(err)),
			slog.Any("error", err),
		)
		if err == nil {
			err = fmt.Errorf("transient fetch failure for %s", url)
		}
		return err
	}

	doc, err := extract.ParseDocument(body)
	if err != nil {
		s.Metrics.IncURL("parse_error")
		return err
	}

	rec, ok := extractor.Extract(doc, url, s.now())
	if !ok {
		s.Metrics.IncURL("extract_error")
		return fmt.Errorf("markup not recognized as a %s listing: %s", extractor.Site(), url)
	}

	s.Metrics.IncURL("ok")
	return s.reconcileRecord(ctx, rec)
}

func (s *Scheduler) reconcileRecord(ctx context.Context, rec models.ScrapedRecord) error {
	res, err := s.engine.Reconcile(ctx, rec)
	s.Metrics.IncReconcile(string(res.Outcome))
	if res.PriceChanged {
		s.Metrics.IncPriceChange()
	}
	if res.AvailabilityChanged {
		s.Metrics.IncAvailabilityFlip()
	}

	var vErr reconcile.ValidationError
	if errors.As(err, &vErr) {
		return fmt.Errorf("record rejected: %w", err)
	}
	return err
}

// sleep waits for the inter-request delay, or returns false when the
// context ends first.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
