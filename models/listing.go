// Package models defines the shared data types for the listing tracker.
package models

import "time"

// Currency is the currency a price was quoted in.
type Currency string

const (
	CurrencyUAH     Currency = "UAH"
	CurrencyUSD     Currency = "USD"
	CurrencyUnknown Currency = ""
)

// Money is a structured price. A missing price is represented by a nil
// *Money, never by a zero amount.
type Money struct {
	Amount   int64
	Currency Currency
}

// SameAmount reports whether two optional prices carry the same amount.
// Two nil prices are the same; nil and non-nil are not.
func (m *Money) SameAmount(other *Money) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.Amount == other.Amount
}

// Availability is the observed state of a listing page.
type Availability string

const (
	AvailabilityAvailable Availability = "available"
	AvailabilityDeleted   Availability = "deleted"
	AvailabilityUnknown   Availability = "unknown"
)

// Site identifies a supported source site.
type Site string

const (
	SiteRieltor Site = "rieltor.ua"
	SiteDomRia  Site = "dom.ria.com"
)

// ScrapedRecord is one point-in-time extraction result. It has no identity
// of its own and is never persisted directly. Pointer fields distinguish an
// absent optional value from an explicit zero.
type ScrapedRecord struct {
	SourceURL    string
	SourceSite   Site
	Price        *Money
	Title        string
	Description  string
	Rooms        *int
	Floor        *int
	AreaSqM      *float64
	Availability Availability
	ObservedAt   time.Time
}

// Listing is the persistent record of one tracked property advertisement.
// URL is the natural key; ID is assigned by the store on first insert and
// never reused. LastCheckedAt advances with every scrape attempt.
type Listing struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	URL           string    `gorm:"uniqueIndex;size:500;not null" json:"url"`
	Title         string    `gorm:"size:255" json:"title,omitempty"`
	Description   string    `gorm:"type:text" json:"description,omitempty"`
	Rooms         *int      `json:"rooms,omitempty"`
	AreaSqM       *float64  `json:"area_sq_m,omitempty"`
	Floor         *int      `json:"floor,omitempty"`
	PriceAmount   *int64    `json:"price_amount,omitempty"`
	PriceCurrency Currency  `gorm:"size:8" json:"price_currency,omitempty"`
	SourceSite    Site      `gorm:"size:100;index" json:"source_site"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
	LastCheckedAt time.Time `gorm:"not null" json:"last_checked_at"`
}

// CurrentPrice returns the stored price as Money, or nil when no price is
// known.
func (l *Listing) CurrentPrice() *Money {
	if l.PriceAmount == nil {
		return nil
	}
	return &Money{Amount: *l.PriceAmount, Currency: l.PriceCurrency}
}

// SetCurrentPrice overwrites the stored price columns from an optional
// Money value.
func (l *Listing) SetCurrentPrice(m *Money) {
	if m == nil {
		l.PriceAmount = nil
		l.PriceCurrency = CurrencyUnknown
		return
	}
	amount := m.Amount
	l.PriceAmount = &amount
	l.PriceCurrency = m.Currency
}

// PriceHistoryEntry is one row per price change, append-only. A nil Amount
// records the transition to "no price known".
type PriceHistoryEntry struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ListingID  int64     `gorm:"index;not null" json:"listing_id"`
	Amount     *int64    `json:"amount,omitempty"`
	Currency   Currency  `gorm:"size:8" json:"currency,omitempty"`
	RecordedAt time.Time `gorm:"not null" json:"recorded_at"`
}

// AvailabilityHistoryEntry is one row per availability transition,
// append-only.
type AvailabilityHistoryEntry struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ListingID   int64     `gorm:"index;not null" json:"listing_id"`
	IsAvailable bool      `json:"is_available"`
	ChangedAt   time.Time `gorm:"not null" json:"changed_at"`
}

// ScrapeErrorEntry is an append-only audit row for a failed scrape or
// persistence step. ListingID is 0 when the listing does not exist yet.
type ScrapeErrorEntry struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ListingID    int64     `gorm:"index" json:"listing_id"`
	ErrorMessage string    `gorm:"type:text" json:"error_message"`
	OccurredAt   time.Time `gorm:"not null" json:"occurred_at"`
}

// WatchlistEntry subscribes an email address to change events for one
// listing. Delivery is delegated to a Notifier; only the subscription is
// stored here.
type WatchlistEntry struct {
	ID                         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ListingID                  int64     `gorm:"index;not null" json:"listing_id"`
	Email                      string    `gorm:"size:255;not null" json:"email"`
	NotifyOnPriceChange        bool      `json:"notify_on_price_change"`
	NotifyOnAvailabilityChange bool      `json:"notify_on_availability_change"`
	CreatedAt                  time.Time `gorm:"not null" json:"created_at"`
}
