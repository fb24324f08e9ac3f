// Package store persists listings and their append-only history on a
// relational database through GORM. The reconciliation engine is the only
// writer; every operation is its own transaction boundary.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flatwatch/flatwatch/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrDuplicateURL is returned by InsertListing when the unique url
// constraint is violated.
var ErrDuplicateURL = errors.New("store: listing url already exists")

// Store is the GORM-backed implementation of the persistence contract.
type Store struct {
	db *gorm.DB
}

// Open connects to Postgres, verifies the connection and runs migrations.
// A failure here is the one unrecoverable condition in the system and
// must abort startup loudly.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access connection pool: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewWithDB(db)
}

// NewWithDB wraps an already-open GORM handle and runs migrations. Tests
// use this with an in-memory sqlite database.
func NewWithDB(db *gorm.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	err := s.db.AutoMigrate(
		&models.Listing{},
		&models.PriceHistoryEntry{},
		&models.AvailabilityHistoryEntry{},
		&models.ScrapeErrorEntry{},
		&models.WatchlistEntry{},
	)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// FindListingByURL looks a listing up by its natural key. Absence is not
// an error: the result is (nil, nil).
func (s *Store) FindListingByURL(ctx context.Context, url string) (*models.Listing, error) {
	var listing models.Listing
	err := s.db.WithContext(ctx).Where("url = ?", url).First(&listing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find listing by url: %w", err)
	}
	return &listing, nil
}

// InsertListing creates a new listing row and returns the store-assigned
// id.
func (s *Store) InsertListing(ctx context.Context, listing *models.Listing) (int64, error) {
	err := s.db.WithContext(ctx).Create(listing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, fmt.Errorf("insert listing %q: %w", listing.URL, ErrDuplicateURL)
		}
		return 0, fmt.Errorf("insert listing %q: %w", listing.URL, err)
	}
	return listing.ID, nil
}

// UpdateListing overwrites the mutable current-state columns of a listing.
// Nil pointer fields are written as NULL: current state mirrors the latest
// observation, history tables carry the past.
func (s *Store) UpdateListing(ctx context.Context, listing *models.Listing) error {
	res := s.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ?", listing.ID).
		Select("title", "description", "rooms", "area_sq_m", "floor",
			"price_amount", "price_currency", "last_checked_at").
		Updates(listing)
	if res.Error != nil {
		return fmt.Errorf("update listing %d: %w", listing.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update listing %d: %w", listing.ID, gorm.ErrRecordNotFound)
	}
	return nil
}

// LatestAvailability returns the most recent availability value for a
// listing, or nil when no entry exists yet.
func (s *Store) LatestAvailability(ctx context.Context, listingID int64) (*bool, error) {
	var entry models.AvailabilityHistoryEntry
	err := s.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Order("changed_at DESC, id DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest availability for listing %d: %w", listingID, err)
	}
	return &entry.IsAvailable, nil
}

// AppendPriceHistory records a price change. A nil price records the
// transition to "no price known".
func (s *Store) AppendPriceHistory(ctx context.Context, listingID int64, price *models.Money, recordedAt time.Time) error {
	entry := models.PriceHistoryEntry{
		ListingID:  listingID,
		RecordedAt: recordedAt,
	}
	if price != nil {
		amount := price.Amount
		entry.Amount = &amount
		entry.Currency = price.Currency
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("append price history for listing %d: %w", listingID, err)
	}
	return nil
}

// AppendAvailabilityHistory records an availability transition.
func (s *Store) AppendAvailabilityHistory(ctx context.Context, listingID int64, isAvailable bool, changedAt time.Time) error {
	entry := models.AvailabilityHistoryEntry{
		ListingID:   listingID,
		IsAvailable: isAvailable,
		ChangedAt:   changedAt,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("append availability history for listing %d: %w", listingID, err)
	}
	return nil
}

// LogScrapeError appends an audit row for a failed scrape or persistence
// step. listingID is 0 when the listing does not exist yet.
func (s *Store) LogScrapeError(ctx context.Context, listingID int64, message string, occurredAt time.Time) error {
	entry := models.ScrapeErrorEntry{
		ListingID:    listingID,
		ErrorMessage: message,
		OccurredAt:   occurredAt,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("log scrape error for listing %d: %w", listingID, err)
	}
	return nil
}

// AddWatch subscribes an email address to change events for a listing.
func (s *Store) AddWatch(ctx context.Context, entry *models.WatchlistEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("add watchlist entry for listing %d: %w", entry.ListingID, err)
	}
	return nil
}

// WatchersFor returns all watchlist entries for a listing.
func (s *Store) WatchersFor(ctx context.Context, listingID int64) ([]models.WatchlistEntry, error) {
	var entries []models.WatchlistEntry
	err := s.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("watchers for listing %d: %w", listingID, err)
	}
	return entries, nil
}
