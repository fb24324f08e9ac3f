// Package reconcile compares fresh observations against stored state and
// decides what, if anything, to append. It is the sole writer of listings
// and their history tables. Repeated identical observations never grow
// history: every append is conditioned on a prior read of the last-known
// value.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flatwatch/flatwatch/models"
)

// Store is the persistence contract the engine requires. Each operation
// is an independent, individually-atomic write; no cross-table atomicity
// is assumed.
type Store interface {
	FindListingByURL(ctx context.Context, url string) (*models.Listing, error)
	InsertListing(ctx context.Context, listing *models.Listing) (int64, error)
	UpdateListing(ctx context.Context, listing *models.Listing) error
	LatestAvailability(ctx context.Context, listingID int64) (*bool, error)
	AppendPriceHistory(ctx context.Context, listingID int64, price *models.Money, recordedAt time.Time) error
	AppendAvailabilityHistory(ctx context.Context, listingID int64, isAvailable bool, changedAt time.Time) error
	LogScrapeError(ctx context.Context, listingID int64, message string, occurredAt time.Time) error
	WatchersFor(ctx context.Context, listingID int64) ([]models.WatchlistEntry, error)
}

// Outcome tells the caller what the reconciliation did.
type Outcome string

const (
	// OutcomeInserted: first observation, a listing row was created.
	OutcomeInserted Outcome = "inserted"
	// OutcomeUpdated: at least one history row was appended.
	OutcomeUpdated Outcome = "updated"
	// OutcomeUnchanged: current state refreshed, no history appended.
	OutcomeUnchanged Outcome = "unchanged"
)

// Result summarizes one reconciliation.
type Result struct {
	Outcome             Outcome
	ListingID           int64
	PriceChanged        bool
	AvailabilityChanged bool
}

// ValidationError marks a record that cannot be reconciled at all. No
// writes happen for such records.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid scraped record: %s", e.Reason)
}

// EventKind distinguishes watcher notifications.
type EventKind string

const (
	EventPriceChanged        EventKind = "price_changed"
	EventAvailabilityChanged EventKind = "availability_changed"
)

// Event describes a detected change on a tracked listing.
type Event struct {
	Kind        EventKind
	ListingID   int64
	URL         string
	OldPrice    *models.Money
	NewPrice    *models.Money
	IsAvailable bool
	At          time.Time
}

// Notifier delivers a change event to one watcher. Delivery failures are
// logged and never affect the reconciliation result.
type Notifier interface {
	Notify(ctx context.Context, watcher models.WatchlistEntry, event Event) error
}

// LogNotifier writes change events to the log. It stands in for the mail
// delivery that lives outside this subsystem.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, watcher models.WatchlistEntry, event Event) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("listing change",
		slog.String("kind", string(event.Kind)),
		slog.Int64("listing_id", event.ListingID),
		slog.String("url", event.URL),
		slog.String("watcher", watcher.Email),
	)
	return nil
}

// Engine implements the reconciliation protocol. Reconciliations for the
// same listing URL are serialized; different listings may proceed
// concurrently.
type Engine struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier installs a change-event notifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLogger overrides the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New builds an Engine on top of a Store.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: slog.Default(),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile applies one scraped record to the store. Validation failures
// abort before any write. Persistence failures are logged as scrape-error
// rows and surfaced in the returned error; steps that already succeeded
// stay written, which keeps every sub-write independently retryable.
func (e *Engine) Reconcile(ctx context.Context, rec models.ScrapedRecord) (Result, error) {
	if err := validate(rec); err != nil {
		return Result{Outcome: OutcomeUnchanged}, err
	}

	lock := e.lockFor(rec.SourceURL)
	lock.Lock()
	defer lock.Unlock()

	existing, err := e.store.FindListingByURL(ctx, rec.SourceURL)
	if err != nil {
		e.logScrapeError(ctx, 0, err, rec.ObservedAt)
		return Result{Outcome: OutcomeUnchanged}, err
	}

	if existing == nil {
		return e.firstObservation(ctx, rec)
	}
	return e.subsequentObservation(ctx, rec, existing)
}

func validate(rec models.ScrapedRecord) error {
	if rec.SourceURL == "" {
		return ValidationError{Reason: "missing source url"}
	}
	if rec.ObservedAt.IsZero() {
		return ValidationError{Reason: "missing observation time"}
	}
	return nil
}

// firstObservation creates the listing and its initial history. A record
// that says "deleted" for a URL we never tracked carries nothing worth
// persisting, so it is a no-op.
func (e *Engine) firstObservation(ctx context.Context, rec models.ScrapedRecord) (Result, error) {
	if rec.Availability == models.AvailabilityDeleted {
		return Result{Outcome: OutcomeUnchanged}, nil
	}

	listing := listingFromRecord(rec)
	id, err := e.store.InsertListing(ctx, listing)
	if err != nil {
		e.logScrapeError(ctx, 0, err, rec.ObservedAt)
		return Result{Outcome: OutcomeUnchanged}, err
	}

	res := Result{Outcome: OutcomeInserted, ListingID: id}
	var errs []error

	if rec.Price != nil {
		if err := e.store.AppendPriceHistory(ctx, id, rec.Price, rec.ObservedAt); err != nil {
			e.logScrapeError(ctx, id, err, rec.ObservedAt)
			errs = append(errs, err)
		}
	}

	if rec.Availability != models.AvailabilityUnknown {
		isAvailable := rec.Availability == models.AvailabilityAvailable
		if err := e.store.AppendAvailabilityHistory(ctx, id, isAvailable, rec.ObservedAt); err != nil {
			e.logScrapeError(ctx, id, err, rec.ObservedAt)
			errs = append(errs, err)
		}
	}

	return res, errors.Join(errs...)
}

func (e *Engine) subsequentObservation(ctx context.Context, rec models.ScrapedRecord, existing *models.Listing) (Result, error) {
	res := Result{Outcome: OutcomeUnchanged, ListingID: existing.ID}
	var errs []error

	// Price comparison happens against what the store knew before this
	// scrape, so read it before overwriting the current-state columns.
	oldPrice := existing.CurrentPrice()
	newPrice := rec.Price

	updated := *existing
	updated.LastCheckedAt = rec.ObservedAt
	if rec.Availability != models.AvailabilityDeleted {
		// A removed page observes no descriptive values; only the check
		// timestamp and the availability signal move.
		updated.Title = rec.Title
		updated.Description = rec.Description
		updated.Rooms = rec.Rooms
		updated.AreaSqM = rec.AreaSqM
		updated.Floor = rec.Floor
		updated.SetCurrentPrice(newPrice)
	}

	if err := e.store.UpdateListing(ctx, &updated); err != nil {
		e.logScrapeError(ctx, existing.ID, err, rec.ObservedAt)
		errs = append(errs, err)
	}

	if rec.Availability != models.AvailabilityDeleted && !oldPrice.SameAmount(newPrice) {
		if err := e.store.AppendPriceHistory(ctx, existing.ID, newPrice, rec.ObservedAt); err != nil {
			e.logScrapeError(ctx, existing.ID, err, rec.ObservedAt)
			errs = append(errs, err)
		} else {
			res.PriceChanged = true
			e.notify(ctx, Event{
				Kind:      EventPriceChanged,
				ListingID: existing.ID,
				URL:       rec.SourceURL,
				OldPrice:  oldPrice,
				NewPrice:  newPrice,
				At:        rec.ObservedAt,
			})
		}
	}

	if rec.Availability != models.AvailabilityUnknown {
		isAvailable := rec.Availability == models.AvailabilityAvailable
		last, err := e.store.LatestAvailability(ctx, existing.ID)
		if err != nil {
			e.logScrapeError(ctx, existing.ID, err, rec.ObservedAt)
			errs = append(errs, err)
		} else if last == nil || *last != isAvailable {
			if err := e.store.AppendAvailabilityHistory(ctx, existing.ID, isAvailable, rec.ObservedAt); err != nil {
				e.logScrapeError(ctx, existing.ID, err, rec.ObservedAt)
				errs = append(errs, err)
			} else {
				res.AvailabilityChanged = true
				e.notify(ctx, Event{
					Kind:        EventAvailabilityChanged,
					ListingID:   existing.ID,
					URL:         rec.SourceURL,
					IsAvailable: isAvailable,
					At:          rec.ObservedAt,
				})
			}
		}
	}

	if res.PriceChanged || res.AvailabilityChanged {
		res.Outcome = OutcomeUpdated
	}
	return res, errors.Join(errs...)
}

func listingFromRecord(rec models.ScrapedRecord) *models.Listing {
	listing := &models.Listing{
		URL:           rec.SourceURL,
		Title:         rec.Title,
		Description:   rec.Description,
		Rooms:         rec.Rooms,
		AreaSqM:       rec.AreaSqM,
		Floor:         rec.Floor,
		SourceSite:    rec.SourceSite,
		CreatedAt:     rec.ObservedAt,
		LastCheckedAt: rec.ObservedAt,
	}
	listing.SetCurrentPrice(rec.Price)
	return listing
}

func (e *Engine) notify(ctx context.Context, event Event) {
	if e.notifier == nil {
		return
	}
	watchers, err := e.store.WatchersFor(ctx, event.ListingID)
	if err != nil {
		e.logger.Warn("watcher lookup failed",
			slog.Int64("listing_id", event.ListingID),
			slog.Any("error", err),
		)
		return
	}
	for _, w := range watchers {
		if event.Kind == EventPriceChanged && !w.NotifyOnPriceChange {
			continue
		}
		if event.Kind == EventAvailabilityChanged && !w.NotifyOnAvailabilityChange {
			continue
		}
		if err := e.notifier.Notify(ctx, w, event); err != nil {
			e.logger.Warn("notification failed",
				slog.Int64("listing_id", event.ListingID),
				slog.String("watcher", w.Email),
				slog.Any("error", err),
			)
		}
	}
}

func (e *Engine) logScrapeError(ctx context.Context, listingID int64, cause error, at time.Time) {
	if err := e.store.LogScrapeError(ctx, listingID, cause.Error(), at); err != nil {
		e.logger.Error("scrape error row not written",
			slog.Int64("listing_id", listingID),
			slog.Any("cause", cause),
			slog.Any("error", err),
		)
	}
}

func (e *Engine) lockFor(url string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[url]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[url] = lock
	}
	return lock
}
