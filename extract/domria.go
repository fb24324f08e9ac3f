package extract

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/flatwatch/flatwatch/models"
)

// DomRiaExtractor handles listing pages on dom.ria.com.
type DomRiaExtractor struct{}

func (DomRiaExtractor) Site() models.Site { return models.SiteDomRia }

// Extract reads the dom.ria.com page structure. A bold banner containing
// "видалено" marks a removed listing; the price lives in a dedicated bold
// element. dom.ria.com pages expose fewer structured fields than
// rieltor.ua, so the record is sparser.
func (DomRiaExtractor) Extract(doc *goquery.Document, sourceURL string, observedAt time.Time) (models.ScrapedRecord, bool) {
	rec := models.ScrapedRecord{
		SourceURL:    sourceURL,
		SourceSite:   models.SiteDomRia,
		Availability: models.AvailabilityAvailable,
		ObservedAt:   observedAt,
	}

	removed := false
	doc.Find("span.size24.bold").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if strings.Contains(strings.ToLower(sel.Text()), "видалено") {
			removed = true
			return false
		}
		return true
	})
	if removed {
		rec.Availability = models.AvailabilityDeleted
		return rec, true
	}

	priceSel := doc.Find("b.size30")
	if priceSel.Length() == 0 {
		return rec, false
	}
	rec.Price = NormalizePrice(cleanText(priceSel))
	rec.Title = cleanText(doc.Find("h1"))

	return rec, true
}
