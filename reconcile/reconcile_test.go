package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/flatwatch/flatwatch/models"
	"github.com/flatwatch/flatwatch/reconcile"
	"github.com/flatwatch/flatwatch/store"
)

type testEnv struct {
	db     *gorm.DB
	store  *store.Store
	engine *reconcile.Engine
}

func newTestEnv(t *testing.T, opts ...reconcile.Option) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	s, err := store.NewWithDB(db)
	require.NoError(t, err)
	return &testEnv{db: db, store: s, engine: reconcile.New(s, opts...)}
}

func (env *testEnv) priceRows(t *testing.T, listingID int64) []models.PriceHistoryEntry {
	t.Helper()
	var rows []models.PriceHistoryEntry
	require.NoError(t, env.db.Where("listing_id = ?", listingID).Order("id ASC").Find(&rows).Error)
	return rows
}

func (env *testEnv) availabilityRows(t *testing.T, listingID int64) []models.AvailabilityHistoryEntry {
	t.Helper()
	var rows []models.AvailabilityHistoryEntry
	require.NoError(t, env.db.Where("listing_id = ?", listingID).Order("id ASC").Find(&rows).Error)
	return rows
}

func (env *testEnv) listingCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, env.db.Model(&models.Listing{}).Count(&n).Error)
	return n
}

func fullRecord(observedAt time.Time) models.ScrapedRecord {
	rooms := 2
	floor := 5
	area := 56.5
	return models.ScrapedRecord{
		SourceURL:    "https://rieltor.ua/flats-rent/view/100/",
		SourceSite:   models.SiteRieltor,
		Price:        &models.Money{Amount: 15000, Currency: models.CurrencyUAH},
		Title:        "2-room flat, Podil",
		Description:  "Bright flat near the metro.",
		Rooms:        &rooms,
		Floor:        &floor,
		AreaSqM:      &area,
		Availability: models.AvailabilityAvailable,
		ObservedAt:   observedAt,
	}
}

var baseTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func TestFirstObservationInsertsListingAndHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.engine.Reconcile(ctx, fullRecord(baseTime))
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeInserted, res.Outcome)
	require.Positive(t, res.ListingID)

	listing, err := env.store.FindListingByURL(ctx, "https://rieltor.ua/flats-rent/view/100/")
	require.NoError(t, err)
	require.NotNil(t, listing)
	require.Equal(t, "2-room flat, Podil", listing.Title)
	require.NotNil(t, listing.Rooms)
	require.Equal(t, 2, *listing.Rooms)
	require.NotNil(t, listing.CurrentPrice())
	require.Equal(t, int64(15000), listing.CurrentPrice().Amount)

	prices := env.priceRows(t, res.ListingID)
	require.Len(t, prices, 1)
	require.NotNil(t, prices[0].Amount)
	require.Equal(t, int64(15000), *prices[0].Amount)

	avail := env.availabilityRows(t, res.ListingID)
	require.Len(t, avail, 1)
	require.True(t, avail[0].IsAvailable)
}

func TestFirstObservationWithoutPrice(t *testing.T) {
	env := newTestEnv(t)

	rec := fullRecord(baseTime)
	rec.Price = nil
	res, err := env.engine.Reconcile(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeInserted, res.Outcome)

	require.Empty(t, env.priceRows(t, res.ListingID))
	require.Len(t, env.availabilityRows(t, res.ListingID), 1)
}

func TestRepeatedIdenticalObservationAppendsNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.engine.Reconcile(ctx, fullRecord(baseTime))
	require.NoError(t, err)

	second, err := env.engine.Reconcile(ctx, fullRecord(baseTime.Add(12*time.Hour)))
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeUnchanged, second.Outcome)
	require.False(t, second.PriceChanged)
	require.False(t, second.AvailabilityChanged)

	require.Len(t, env.priceRows(t, first.ListingID), 1)
	require.Len(t, env.availabilityRows(t, first.ListingID), 1)

	listing, err := env.store.FindListingByURL(ctx, "https://rieltor.ua/flats-rent/view/100/")
	require.NoError(t, err)
	require.Equal(t, baseTime.Add(12*time.Hour).Unix(), listing.LastCheckedAt.Unix())
}

func TestPriceHistoryGrowsOnlyOnChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	amounts := []int64{15000, 15000, 17000}
	var listingID int64
	for i, amount := range amounts {
		rec := fullRecord(baseTime.Add(time.Duration(i) * 12 * time.Hour))
		rec.Price = &models.Money{Amount: amount, Currency: models.CurrencyUAH}
		res, err := env.engine.Reconcile(ctx, rec)
		require.NoError(t, err)
		listingID = res.ListingID
	}

	prices := env.priceRows(t, listingID)
	require.Len(t, prices, 2)
	require.Equal(t, int64(15000), *prices[0].Amount)
	require.Equal(t, int64(17000), *prices[1].Amount)
}

func TestPriceDisappearingIsAChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.engine.Reconcile(ctx, fullRecord(baseTime))
	require.NoError(t, err)

	rec := fullRecord(baseTime.Add(12 * time.Hour))
	rec.Price = nil
	res, err := env.engine.Reconcile(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeUpdated, res.Outcome)
	require.True(t, res.PriceChanged)

	prices := env.priceRows(t, first.ListingID)
	require.Len(t, prices, 2)
	require.Nil(t, prices[1].Amount)

	listing, err := env.store.FindListingByURL(ctx, rec.SourceURL)
	require.NoError(t, err)
	require.Nil(t, listing.CurrentPrice())
}

func TestAvailabilityFlipRecordedOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.engine.Reconcile(ctx, fullRecord(baseTime))
	require.NoError(t, err)

	removed := models.ScrapedRecord{
		SourceURL:    "https://rieltor.ua/flats-rent/view/100/",
		SourceSite:   models.SiteRieltor,
		Availability: models.AvailabilityDeleted,
		ObservedAt:   baseTime.Add(12 * time.Hour),
	}
	res, err := env.engine.Reconcile(ctx, removed)
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeUpdated, res.Outcome)
	require.True(t, res.AvailabilityChanged)

	removed.ObservedAt = baseTime.Add(24 * time.Hour)
	res, err = env.engine.Reconcile(ctx, removed)
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeUnchanged, res.Outcome)
	require.False(t, res.AvailabilityChanged)

	avail := env.availabilityRows(t, first.ListingID)
	require.Len(t, avail, 2)
	require.True(t, avail[0].IsAvailable)
	require.False(t, avail[1].IsAvailable)
}

func TestRemovedPageKeepsLastKnownValues(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.engine.Reconcile(ctx, fullRecord(baseTime))
	require.NoError(t, err)

	removed := models.ScrapedRecord{
		SourceURL:    "https://rieltor.ua/flats-rent/view/100/",
		SourceSite:   models.SiteRieltor,
		Availability: models.AvailabilityDeleted,
		ObservedAt:   baseTime.Add(12 * time.Hour),
	}
	_, err = env.engine.Reconcile(ctx, removed)
	require.NoError(t, err)

	listing, err := env.store.FindListingByURL(ctx, removed.SourceURL)
	require.NoError(t, err)
	require.Equal(t, "2-room flat, Podil", listing.Title)
	require.NotNil(t, listing.CurrentPrice())
	require.Equal(t, int64(15000), listing.CurrentPrice().Amount)
	require.Equal(t, removed.ObservedAt.Unix(), listing.LastCheckedAt.Unix())

	// The removal shows up in availability history only, never as a
	// phantom price change.
	require.Len(t, env.priceRows(t, first.ListingID), 1)
}

func TestRemovedPageForUntrackedURLIsNoOp(t *testing.T) {
	env := newTestEnv(t)

	rec := models.ScrapedRecord{
		SourceURL:    "https://rieltor.ua/flats-rent/view/999/",
		SourceSite:   models.SiteRieltor,
		Availability: models.AvailabilityDeleted,
		ObservedAt:   baseTime,
	}
	res, err := env.engine.Reconcile(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeUnchanged, res.Outcome)
	require.Zero(t, res.ListingID)
	require.Zero(t, env.listingCount(t))
}

func TestUnknownAvailabilityAppendsNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := fullRecord(baseTime)
	rec.Availability = models.AvailabilityUnknown
	res, err := env.engine.Reconcile(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeInserted, res.Outcome)
	require.Empty(t, env.availabilityRows(t, res.ListingID))

	rec.ObservedAt = baseTime.Add(12 * time.Hour)
	_, err = env.engine.Reconcile(ctx, rec)
	require.NoError(t, err)
	require.Empty(t, env.availabilityRows(t, res.ListingID))
}

func TestValidationFailuresWriteNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		rec  models.ScrapedRecord
	}{
		{
			name: "missing url",
			rec:  models.ScrapedRecord{ObservedAt: baseTime},
		},
		{
			name: "missing observation time",
			rec:  models.ScrapedRecord{SourceURL: "https://rieltor.ua/flats-rent/view/100/"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.Reconcile(ctx, tt.rec)
			var verr reconcile.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Zero(t, env.listingCount(t))
		})
	}
}

type failingStore struct {
	reconcile.Store
	priceAppendErr error
}

func (s *failingStore) AppendPriceHistory(ctx context.Context, listingID int64, price *models.Money, recordedAt time.Time) error {
	if s.priceAppendErr != nil {
		return s.priceAppendErr
	}
	return s.Store.AppendPriceHistory(ctx, listingID, price, recordedAt)
}

func TestPersistenceFailureLoggedAndSurfaced(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.engine.Reconcile(ctx, fullRecord(baseTime))
	require.NoError(t, err)

	appendErr := errors.New("append price history: disk I/O error")
	engine := reconcile.New(&failingStore{Store: env.store, priceAppendErr: appendErr})

	rec := fullRecord(baseTime.Add(12 * time.Hour))
	rec.Price = &models.Money{Amount: 17000, Currency: models.CurrencyUAH}
	res, err := engine.Reconcile(ctx, rec)
	require.ErrorIs(t, err, appendErr)
	require.False(t, res.PriceChanged)
	require.Equal(t, reconcile.OutcomeUnchanged, res.Outcome)

	// Each sub-write is its own transaction: the listing update that ran
	// before the failing append stays written.
	listing, err := env.store.FindListingByURL(ctx, rec.SourceURL)
	require.NoError(t, err)
	require.NotNil(t, listing.CurrentPrice())
	require.Equal(t, int64(17000), listing.CurrentPrice().Amount)
	require.Equal(t, rec.ObservedAt.Unix(), listing.LastCheckedAt.Unix())

	require.Len(t, env.priceRows(t, first.ListingID), 1)

	var errRows []models.ScrapeErrorEntry
	require.NoError(t, env.db.Where("listing_id = ?", first.ListingID).Find(&errRows).Error)
	require.Len(t, errRows, 1)
	require.Contains(t, errRows[0].ErrorMessage, "disk I/O error")
}

type captureNotifier struct {
	events   []reconcile.Event
	watchers []string
}

func (n *captureNotifier) Notify(_ context.Context, watcher models.WatchlistEntry, event reconcile.Event) error {
	n.events = append(n.events, event)
	n.watchers = append(n.watchers, watcher.Email)
	return nil
}

func TestWatchersNotifiedOnMatchingChanges(t *testing.T) {
	notifier := &captureNotifier{}
	env := newTestEnv(t, reconcile.WithNotifier(notifier))
	ctx := context.Background()

	first, err := env.engine.Reconcile(ctx, fullRecord(baseTime))
	require.NoError(t, err)

	require.NoError(t, env.store.AddWatch(ctx, &models.WatchlistEntry{
		ListingID:           first.ListingID,
		Email:               "price@example.com",
		NotifyOnPriceChange: true,
		CreatedAt:           baseTime,
	}))
	require.NoError(t, env.store.AddWatch(ctx, &models.WatchlistEntry{
		ListingID:                  first.ListingID,
		Email:                      "availability@example.com",
		NotifyOnAvailabilityChange: true,
		CreatedAt:                  baseTime,
	}))

	rec := fullRecord(baseTime.Add(12 * time.Hour))
	rec.Price = &models.Money{Amount: 17000, Currency: models.CurrencyUAH}
	_, err = env.engine.Reconcile(ctx, rec)
	require.NoError(t, err)

	require.Len(t, notifier.events, 1)
	require.Equal(t, reconcile.EventPriceChanged, notifier.events[0].Kind)
	require.Equal(t, []string{"price@example.com"}, notifier.watchers)
	require.NotNil(t, notifier.events[0].OldPrice)
	require.Equal(t, int64(15000), notifier.events[0].OldPrice.Amount)
	require.Equal(t, int64(17000), notifier.events[0].NewPrice.Amount)
}
