package extract

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/flatwatch/flatwatch/models"
)

// RieltorExtractor handles listing pages on rieltor.ua.
type RieltorExtractor struct{}

func (RieltorExtractor) Site() models.Site { return models.SiteRieltor }

// Extract reads the rieltor.ua page structure. A dedicated 404 block marks
// a removed listing; otherwise price, description and the characteristics
// rows are read from their fixed locations. Any optional field that fails
// to parse is omitted, not zeroed.
func (RieltorExtractor) Extract(doc *goquery.Document, sourceURL string, observedAt time.Time) (models.ScrapedRecord, bool) {
	rec := models.ScrapedRecord{
		SourceURL:    sourceURL,
		SourceSite:   models.SiteRieltor,
		Availability: models.AvailabilityAvailable,
		ObservedAt:   observedAt,
	}

	if doc.Find("div.offer-view-404").Length() > 0 {
		rec.Availability = models.AvailabilityDeleted
		return rec, true
	}

	priceSel := doc.Find("div.offer-view-price-title")
	if priceSel.Length() == 0 {
		priceSel = doc.Find(".offer-view-price")
	}
	if priceSel.Length() == 0 {
		// Neither the removed marker nor the price block: not a listing page.
		return rec, false
	}
	rec.Price = NormalizePrice(cleanText(priceSel))

	rec.Title = cleanText(doc.Find("h1"))
	rec.Description = cleanText(doc.Find(".offer-view-section-text"))

	doc.Find(".offer-view-details-row").Each(func(_ int, row *goquery.Selection) {
		text := cleanText(row.Find("span"))
		switch {
		case strings.Contains(text, "кімнат"):
			if rec.Rooms == nil {
				rec.Rooms = firstInt(text)
			}
		case strings.Contains(text, "поверх"):
			if rec.Floor == nil {
				rec.Floor = parseFloor(text)
			}
		case strings.Contains(text, "м²"):
			if rec.AreaSqM == nil {
				rec.AreaSqM = parseArea(text)
			}
		}
	})

	return rec, true
}
